package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the milestone an Event records.
type Kind string

// Supported event kinds.
const (
	KindStageStart Kind = "STAGE_START"
	KindTaskDone   Kind = "TASK_DONE"
	KindStageDone  Kind = "STAGE_DONE"
)

// Event is one progress milestone of a pipeline stage.
type Event struct {
	// Stage names the pipeline stage, e.g. "listing" or "detail".
	Stage string
	Kind  Kind
	// Total is the number of tasks the stage will run; set on KindStageStart.
	Total int
	TS    time.Time
	// Dur is the stage wall time; set on KindStageDone.
	Dur time.Duration
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.Stage == "" {
		return errors.New("stage is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStageStart:
		if e.Total < 0 {
			return errors.New("stage total must be >= 0")
		}
	case KindTaskDone, KindStageDone:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
