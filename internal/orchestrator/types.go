package orchestrator

import (
	"time"

	"github.com/StephenDMay/loom/internal/contextstore"
)

// StageStatus is the terminal (or near-terminal) state of one stage within
// a run.
type StageStatus string

const (
	// StatusPending means the stage has not started.
	StatusPending StageStatus = "pending"

	// StatusCacheHit means the stage's output was served from cache with no
	// provider call.
	StatusCacheHit StageStatus = "cache-hit"

	// StatusInvoking means the stage is executing against a provider.
	StatusInvoking StageStatus = "invoking"

	// StatusSucceeded means the stage produced fresh output.
	StatusSucceeded StageStatus = "succeeded"

	// StatusFailedRecovered means the stage failed and its fallback policy
	// let the run continue.
	StatusFailedRecovered StageStatus = "failed-recovered"

	// StatusFailedHalted means the stage failed and stopped the run.
	StatusFailedHalted StageStatus = "failed-halted"
)

// Progress is one stage-level event emitted during a run.
type Progress struct {
	Stage    string
	Status   StageStatus
	Fallback string // fallback mode applied, when Status is failed-recovered
	Err      error
	Elapsed  time.Duration
	Index    int // 1-based position in the resolution order
	Total    int
}

// ProgressFunc receives stage events as the run advances. Callbacks run on
// the orchestrator goroutine; keep them fast.
type ProgressFunc func(Progress)

// StageResult records how one stage concluded.
type StageResult struct {
	Stage   string
	Status  StageStatus
	Output  string
	Err     error
	Elapsed time.Duration
}

// RunResult summarizes a completed (or halted) pipeline run. Context is
// the run's shared store, including outputs of stages that succeeded
// before a halt.
type RunResult struct {
	Stages  []StageResult
	Halted  bool
	Context *contextstore.Store
}

// StageValidation reports one stage's config resolution and provider
// probe. Provider is empty when resolution itself failed.
type StageValidation struct {
	Stage    string
	Provider string
	Err      error
}

// ResultFor returns the result for the named stage, if it ran.
func (r *RunResult) ResultFor(stage string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}
