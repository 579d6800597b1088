package service

import (
	"time"

	"github.com/lumik/renloc/internal/extract"
)

// UnitReport is one failed or skipped line in the final summary, with
// enough context to target a retry pass.
type UnitReport struct {
	ID     string
	File   string
	Label  string
	Text   string
	Status extract.Status
	Cause  string
}

// RunResult summarizes one translation run.
type RunResult struct {
	RunID string

	Documents    int
	ParseErrors  []string
	Units        int
	FromCache    int
	Merged       int
	Failed       int
	Skipped      int
	StaleEntries int

	PatchPath string
	Problems  []UnitReport
	Duration  time.Duration
}
