package database

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one pipeline invocation.
type Run struct {
	ID         string
	Query      string
	TopK       int
	Dir        string // directory holding the run's snapshots
	Status     RunStatus
	Error      *string
	StartedAt  *string
	FinishedAt *string
}

// Stage records the outcome of one pipeline stage of a run.
type Stage struct {
	RunID    string
	Stage    string // collect, normalize or classify
	Rows     int
	Skipped  int
	Positive int
	Neutral  int
	Negative int
	Artifact *string // snapshot path
	Error    *string
}

// Product records how review collection went for one searched product.
type Product struct {
	RunID    string
	Position int
	Name     string
	Link     string
	Reviews  int
	Pages    int
	Error    *string
}

// Stats contains aggregate ledger statistics.
type Stats struct {
	Runs              int
	CompletedRuns     int
	FailedRuns        int
	Products          int
	ReviewsCollected  int
	ReviewsClassified int
}
