package cache

import (
	"time"

	"github.com/lumik/renloc/internal/extract"
)

// Record is the durable terminal outcome of a unit, keyed by its
// content-derived ID. Records survive across runs; units do not.
type Record struct {
	ID         string
	Status     extract.Status
	SourceText string
	Result     string
	Backend    string
	Error      string
	UpdatedAt  time.Time
}

// Terminal reports whether a status may be committed. InFlight and Pending
// are never persisted; a crash therefore always resumes from a clean state.
func Terminal(status extract.Status) bool {
	switch status {
	case extract.StatusDone, extract.StatusFailed, extract.StatusSkipped:
		return true
	default:
		return false
	}
}
