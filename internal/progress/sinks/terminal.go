package sinks

import (
	"context"
	"io"
	"sync"

	"github.com/JakeFAU/breeder-harvester/internal/progress"
)

// TerminalSink keeps one progress.Tracker per running stage and redraws the
// stages a batch touched once per batch.
type TerminalSink struct {
	mu     sync.Mutex
	out    io.Writer
	clock  progress.Clock
	stages map[string]*progress.Tracker
}

// NewTerminalSink writes status lines to out. A nil clock uses wall time.
func NewTerminalSink(out io.Writer, clock progress.Clock) *TerminalSink {
	return &TerminalSink{
		out:    out,
		clock:  clock,
		stages: make(map[string]*progress.Tracker),
	}
}

// Consume applies the batch to the trackers. A finished stage gets its final
// line and a newline; events for a stage that never started are ignored.
func (s *TerminalSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []string
	touch := func(stage string) {
		for _, t := range touched {
			if t == stage {
				return
			}
		}
		touched = append(touched, stage)
	}
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStageStart:
			s.stages[evt.Stage] = progress.New(evt.Total, s.out, s.clock)
			touch(evt.Stage)
		case progress.KindTaskDone:
			if tr, ok := s.stages[evt.Stage]; ok {
				tr.Increment()
				touch(evt.Stage)
			}
		case progress.KindStageDone:
			if tr, ok := s.stages[evt.Stage]; ok {
				tr.Render()
				tr.Finish()
				delete(s.stages, evt.Stage)
			}
		}
	}
	for _, stage := range touched {
		if tr, ok := s.stages[stage]; ok {
			tr.Render()
		}
	}
	return nil
}

// Close terminates the line of any stage that never finished.
func (s *TerminalSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for stage, tr := range s.stages {
		tr.Finish()
		delete(s.stages, stage)
	}
	return nil
}
