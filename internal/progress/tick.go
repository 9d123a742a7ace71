package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by a Tick.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// Tick is one batched progress report for a job. Counters are absolute.
type Tick struct {
	// JobID identifies the import job.
	JobID string
	// TS is the UTC timestamp recorded by the ticker.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Processed counts rows consumed so far, valid or not.
	Processed int64
	// Total is the known row count, zero when unknown.
	Total int64
	// RowErrors counts tolerated row failures so far.
	RowErrors int64
	// Lines holds row error lines gathered since the previous tick.
	Lines []string
	// Message is the human readable status for the job snapshot.
	Message string
	// Dur is the job wall time, set on terminal ticks.
	Dur time.Duration
}

// Validate performs coarse validation on Tick payloads.
func (t Tick) Validate() error {
	if t.JobID == "" {
		return errors.New("job id is required")
	}
	if t.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch t.Stage {
	case StageJobStart, StageJobProgress, StageJobDone, StageJobError:
	default:
		return fmt.Errorf("unknown stage %q", t.Stage)
	}
	if t.Processed < 0 || t.Total < 0 || t.RowErrors < 0 {
		return errors.New("counters must be >= 0")
	}
	if t.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
