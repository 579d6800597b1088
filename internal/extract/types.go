package extract

// Status is the lifecycle state of a translation unit.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// Context is the structural position of a unit. It participates in the unit
// ID, so identical text in two different places yields two distinct units.
type Context struct {
	File  string `json:"file"`
	Label string `json:"label"`
	Tag   string `json:"tag,omitempty"`
}

// Unit is one translatable piece of text in flight through the pipeline.
// Units are rebuilt from the documents on every run and never persisted;
// only their terminal outcome is durably recorded by the cache store.
type Unit struct {
	ID         string
	SourceText string
	Context    Context

	Status    Status
	Result    string
	Attempts  int
	LastError string

	// DocIndex/BlockIndex locate the originating block so the reconciler
	// can patch the right payload.
	DocIndex   int
	BlockIndex int
}
