package progress

import (
	"sync/atomic"
	"time"

	"github.com/JakeFAU/breeder-harvester/internal/clock/system"
	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

// Reporters returns a harvest.ReporterFactory whose reporters announce each
// stage on e: one KindStageStart when the stage is built, one KindTaskDone per
// completed task and one KindStageDone on Finish. A nil clock uses wall time.
func Reporters(e Emitter, clock Clock) harvest.ReporterFactory {
	if clock == nil {
		clock = system.New()
	}
	return func(stage string, total int) harvest.Reporter {
		r := &stageReporter{emitter: e, clock: clock, stage: stage, start: clock.Now()}
		e.Emit(Event{Stage: stage, Kind: KindStageStart, Total: total, TS: r.start})
		return r
	}
}

type stageReporter struct {
	emitter  Emitter
	clock    Clock
	stage    string
	start    time.Time
	finished atomic.Bool
}

func (r *stageReporter) Increment() {
	r.emitter.Emit(Event{Stage: r.stage, Kind: KindTaskDone, TS: r.clock.Now()})
}

// Render is a no-op; sinks redraw once per delivered batch.
func (r *stageReporter) Render() {}

// Finish announces the end of the stage. Only the first call emits.
func (r *stageReporter) Finish() {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	now := r.clock.Now()
	dur := now.Sub(r.start)
	if dur < 0 {
		dur = 0
	}
	r.emitter.Emit(Event{Stage: r.stage, Kind: KindStageDone, TS: now, Dur: dur})
}
