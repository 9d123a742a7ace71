package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-importer/internal/progress"
)

// PrometheusSink exports import progress metrics via Prometheus. It owns the
// collectors for jobs started/completed/running and row throughput.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	rowsProcessed prometheus.Counter
	rowErrors     prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_jobs_started_total",
			Help: "Total import jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_jobs_completed_total",
			Help: "Total import jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "importer_jobs_running",
			Help: "Current number of running import jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importer_job_runtime_seconds",
			Help:    "Wall time per finished import job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_rows_processed_total",
			Help: "CSV rows consumed across all jobs, valid or not.",
		}),
		rowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_row_errors_total",
			Help: "CSV rows rejected across all jobs.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.rowsProcessed,
		s.rowErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Tick) error {
	for _, tick := range batch {
		s.consumeTick(tick)
	}
	return nil
}

func (s *PrometheusSink) consumeTick(tick progress.Tick) {
	if tick.Stage == progress.StageJobStart {
		s.jobsStarted.Inc()
		if s.tracker.start(tick.JobID) {
			s.jobsRunning.Inc()
		}
	}
	rows, errs := s.tracker.advance(tick.JobID, tick.Processed, tick.RowErrors)
	if rows > 0 {
		s.rowsProcessed.Add(float64(rows))
	}
	if errs > 0 {
		s.rowErrors.Add(float64(errs))
	}
	switch tick.Stage {
	case progress.StageJobDone:
		s.finish(tick, "success")
	case progress.StageJobError:
		s.finish(tick, "error")
	}
}

func (s *PrometheusSink) finish(tick progress.Tick, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if tick.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(tick.Dur.Seconds())
	}
	if s.tracker.complete(tick.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobCounters struct {
	processed int64
	rowErrors int64
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]*jobCounters
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]*jobCounters)}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = &jobCounters{}
	return true
}

// advance returns how far the absolute counters moved since the last tick.
func (t *jobTracker) advance(id string, processed, rowErrors int64) (int64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.running[id]
	if !ok {
		return 0, 0
	}
	var rows, errs int64
	if processed > c.processed {
		rows = processed - c.processed
		c.processed = processed
	}
	if rowErrors > c.rowErrors {
		errs = rowErrors - c.rowErrors
		c.rowErrors = rowErrors
	}
	return rows, errs
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
