package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/breeder-harvester/internal/progress"
)

// PrometheusSink exports per-stage progress. Remaining tasks are left at the
// number that never completed once a stage finishes, so a non-zero value after
// the detail stage counts abandoned entities.
type PrometheusSink struct {
	tasksCompleted *prometheus.CounterVec
	tasksRemaining *prometheus.GaugeVec
	stagesFinished *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors on reg, or on the default
// registerer when reg is nil. Collectors already registered by an earlier
// sink are shared.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	completed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_stage_tasks_completed_total",
		Help: "Tasks completed per pooled stage.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}
	remaining, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvest_stage_tasks_remaining",
		Help: "Tasks of the current run not yet completed, per stage.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}
	finished, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_stages_finished_total",
		Help: "Pooled stages that ran to the end.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}
	return &PrometheusSink{
		tasksCompleted: completed,
		tasksRemaining: remaining,
		stagesFinished: finished,
	}, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStageStart:
			s.tasksRemaining.WithLabelValues(evt.Stage).Set(float64(evt.Total))
		case progress.KindTaskDone:
			s.tasksCompleted.WithLabelValues(evt.Stage).Inc()
			s.tasksRemaining.WithLabelValues(evt.Stage).Dec()
		case progress.KindStageDone:
			s.stagesFinished.WithLabelValues(evt.Stage).Inc()
		}
	}
	return nil
}

// Close is a no-op; the collectors outlive the hub.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("register progress collector: %w", err)
}
