package service

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/lumik/renloc/internal/backend"
	"github.com/lumik/renloc/internal/cache"
	"github.com/lumik/renloc/internal/config"
	"github.com/lumik/renloc/internal/extract"
	"github.com/lumik/renloc/internal/glossary"
	"github.com/lumik/renloc/internal/reconcile"
	"github.com/lumik/renloc/internal/scheduler"
	"github.com/lumik/renloc/internal/script"
	"github.com/lumik/renloc/pkg/file"
	"github.com/lumik/renloc/pkg/log"
)

// Runner wires the whole pipeline for one project: read the translation
// files, extract pending lines, translate them through the configured
// backend and fold the results back in.
type Runner struct {
	cfg     config.Config
	store   *cache.Store
	handler ErrorHandler
}

func NewRunner(cfg config.Config) (*Runner, error) {
	store, err := cache.NewStore(cfg.Project.CachePath)
	if err != nil {
		return nil, WrapError(err, ErrCacheIO, "open translation cache").
			WithContext("path", cfg.Project.CachePath)
	}
	return &Runner{
		cfg:     cfg,
		store:   store,
		handler: NewDefaultErrorHandler(),
	}, nil
}

func (r *Runner) Close() error {
	return r.store.Close()
}

// Run executes one full pass over the project's translation directory.
// Parse failures are isolated per file; backend auth failures and an
// unusable cache abort the run.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	started := time.Now()
	result := RunResult{RunID: uuid.NewString()}

	tlDir := r.cfg.Project.TLDir()
	target := r.cfg.Translate.TargetLanguage.String()
	source := r.cfg.Translate.SourceLanguage.String()
	patchPath := filepath.Join(tlDir, reconcile.PatchName(r.cfg.Project.TLName))

	log.Info("Run %s: translating %s to %s", result.RunID, tlDir, target)

	docs, err := r.readDocuments(tlDir, patchPath, &result)
	if err != nil {
		return result, err
	}
	result.Documents = len(docs)

	gloss, err := r.loadGlossary(source, target)
	if err != nil {
		return result, err
	}

	units := extract.Extract(docs, extract.Options{
		TargetLang:     target,
		KeepTranslated: r.cfg.Translate.KeepTranslated,
	})
	result.Units = len(units)
	log.Info("Run %s: %d translatable unit(s) in %d file(s)", result.RunID, len(units), len(docs))

	adapter, err := r.newAdapter()
	if err != nil {
		return result, err
	}

	sched := scheduler.New(adapter, glossary.NewFilter(gloss), r.store, scheduler.Config{
		TargetLang:        target,
		SourceLang:        source,
		Concurrency:       r.cfg.Translate.Concurrency,
		RequestsPerSecond: r.cfg.Translate.RequestsPerSecond,
		RequestsPerMinute: r.cfg.Translate.RequestsPerMinute,
		BatchSize:         r.cfg.Translate.BatchSize,
		MaxAttempts:       r.cfg.Translate.MaxAttempts,
	})

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for ev := range sched.Events() {
			log.Debug("Run %s: %d/%d %s (%s)", result.RunID, ev.Processed, ev.Total, ev.UnitID, ev.Status)
		}
	}()

	units, runErr := sched.Run(ctx, units)
	if runErr != nil {
		err := r.classifyRunError(runErr, adapter.Name())
		r.handler.Handle(err)
		return result, err
	}

	r.collectOutcomes(units, &result)

	sum := reconcile.Merge(docs, units)
	result.Merged = sum.Merged

	prior, err := reconcile.LoadPatch(patchPath)
	if err != nil {
		return result, WrapError(err, ErrFileRead, "read prior patch").WithContext("path", patchPath)
	}
	patch := reconcile.BuildPatch(r.cfg.Project.TLName, docs, units, &prior)
	result.StaleEntries = len(patch.Stale())
	if result.StaleEntries > 0 {
		conflict := NewError(ErrPatchConflict, "stale translations kept for review").
			WithContext("count", result.StaleEntries).
			WithContext("patch", patchPath)
		r.handler.Handle(conflict)
	}
	if err := reconcile.WritePatch(patchPath, patch); err != nil {
		return result, WrapError(err, ErrFileWrite, "write patch artifact").WithContext("path", patchPath)
	}
	result.PatchPath = patchPath

	if err := r.writeDocuments(docs); err != nil {
		return result, err
	}

	result.Duration = time.Since(started)
	log.Info("Run %s: merged %d, failed %d, skipped %d, cache hits %d in %s",
		result.RunID, result.Merged, result.Failed, result.Skipped, result.FromCache,
		result.Duration.Round(time.Millisecond))
	for _, p := range result.Problems {
		log.Warn("Run %s: %s unit %s at %s (%s): %s", result.RunID, p.Status, p.ID, p.File, p.Label, p.Cause)
	}
	return result, nil
}

// readDocuments parses every translation file except the patch artifact.
// A file that cannot be parsed is reported and skipped, never aborting
// the other files in the batch.
func (r *Runner) readDocuments(tlDir, patchPath string, result *RunResult) ([]*script.Document, error) {
	paths, err := file.FindByExt(tlDir, ".rpy")
	if err != nil {
		return nil, WrapError(err, ErrFileNotFound, "scan translation directory").
			WithContext("dir", tlDir)
	}

	docs := make([]*script.Document, 0, len(paths))
	for _, path := range paths {
		if path == patchPath {
			continue
		}
		doc, err := script.NewReader(path).Read(path)
		if err != nil {
			parseErr := WrapError(err, ErrParse, "parse translation file").WithContext("path", path)
			r.handler.Handle(parseErr)
			result.ParseErrors = append(result.ParseErrors, path)
			continue
		}
		if lang := script.DetectLanguage(doc.Blocks); lang != language.Und {
			log.Debug("Parsed %s: %d block(s), source language %s", path, len(doc.Blocks), lang)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *Runner) writeDocuments(docs []*script.Document) error {
	writer := script.NewWriter()
	for _, doc := range docs {
		if err := writer.Write(doc.Path, doc); err != nil {
			return WrapError(err, ErrFileWrite, "write translation file").WithContext("path", doc.Path)
		}
	}
	return nil
}

func (r *Runner) loadGlossary(source, target string) (glossary.Glossary, error) {
	path := filepath.Join(r.cfg.Project.GlossaryDir, glossary.Filename(source, target))
	gloss, err := glossary.Load(path)
	if err != nil {
		return glossary.Glossary{}, WrapError(err, ErrConfig, "load glossary").WithContext("path", path)
	}
	if len(gloss.Entries) > 0 {
		log.Info("Loaded %d glossary entries from %s", len(gloss.Entries), path)
	}
	return gloss, nil
}

func (r *Runner) newAdapter() (backend.Adapter, error) {
	b := r.cfg.Backend
	switch b.Provider {
	case "openai":
		adapter, err := backend.NewOpenAIAdapter(backend.OpenAIConfig{
			APIKey: b.APIKey,
			APIURL: b.APIURL,
			Model:  b.Model,
		})
		if err != nil {
			return nil, WrapError(err, ErrConfig, "configure openai backend")
		}
		return adapter, nil
	case "chat", "":
		adapter, err := backend.NewChatAdapter(backend.ChatConfig{
			APIKey:      b.APIKey,
			APIURL:      b.APIURL,
			Model:       b.Model,
			MaxTokens:   b.MaxTokens,
			Temperature: b.Temperature,
			Timeout:     b.Timeout,
			SiteURL:     b.SiteURL,
			AppName:     b.AppName,
		})
		if err != nil {
			return nil, WrapError(err, ErrConfig, "configure chat backend")
		}
		return adapter, nil
	default:
		return nil, NewError(ErrConfig, "unknown backend provider").WithContext("provider", b.Provider)
	}
}

func (r *Runner) collectOutcomes(units []extract.Unit, result *RunResult) {
	for _, u := range units {
		switch u.Status {
		case extract.StatusDone:
			if u.Attempts == 0 {
				result.FromCache++
			}
		case extract.StatusFailed:
			result.Failed++
			result.Problems = append(result.Problems, report(u))
		case extract.StatusSkipped:
			result.Skipped++
			result.Problems = append(result.Problems, report(u))
		}
	}
}

func report(u extract.Unit) UnitReport {
	return UnitReport{
		ID:     u.ID,
		File:   u.Context.File,
		Label:  u.Context.Label,
		Text:   u.SourceText,
		Status: u.Status,
		Cause:  u.LastError,
	}
}

func (r *Runner) classifyRunError(err error, backendName string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch backend.Classify(err) {
	case backend.KindAuth:
		return WrapError(err, ErrBackend, "backend rejected credentials").
			WithContext("backend", backendName)
	}
	var locErr *LocError
	if errors.As(err, &locErr) {
		return err
	}
	return WrapError(err, ErrCacheIO, "translation run aborted")
}
