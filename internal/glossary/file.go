package glossary

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Filename returns the glossary filename for a language pair,
// e.g. "glossary.en-zh.yaml".
func Filename(sourceLang, targetLang string) string {
	return "glossary." + sourceLang + "-" + targetLang + ".yaml"
}

// Load reads a glossary from a YAML file. A missing file is not an error;
// it yields an empty glossary so runs without one behave identically.
func Load(path string) (Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Glossary{}, nil
		}
		return Glossary{}, fmt.Errorf("read glossary: %w", err)
	}

	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Glossary{}, fmt.Errorf("parse glossary %s: %w", path, err)
	}

	for i, e := range g.Entries {
		switch e.Direction {
		case DirectionProtect, DirectionForce:
		default:
			return Glossary{}, fmt.Errorf("glossary %s: entry %d has unknown direction %q", path, i, e.Direction)
		}
	}
	return g, nil
}

// Save writes a glossary to a YAML file.
func Save(path string, g Glossary) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
