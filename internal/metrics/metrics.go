// Package metrics counts what a sieve run did. Counters live in a per-run
// registry and are written out as a node-exporter textfile at the end of
// the run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run holds the counters of one process run. A nil *Run discards everything.
type Run struct {
	reg *prometheus.Registry

	ThreadsScanned   *prometheus.CounterVec
	ThreadsMatched   *prometheus.CounterVec
	ThreadsUpToDate  *prometheus.CounterVec
	BatchesSent      *prometheus.CounterVec
	DryRunBatches    *prometheus.CounterVec
	MessagesMutated  *prometheus.CounterVec
	LabelsCreated    prometheus.Counter
	LastRunTimestamp prometheus.Gauge
}

func NewRun() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		reg: reg,
		ThreadsScanned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_threads_scanned_total",
			Help: "Threads returned by the spec query and hydrated.",
		}, []string{"spec"}),
		ThreadsMatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_threads_matched_total",
			Help: "Threads that resolved to a non-empty label mutation.",
		}, []string{"spec"}),
		ThreadsUpToDate: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_threads_up_to_date_total",
			Help: "Matched threads skipped because they already had the target labels.",
		}, []string{"spec"}),
		BatchesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_batches_sent_total",
			Help: "batchModify calls issued.",
		}, []string{"spec"}),
		DryRunBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_dry_run_batches_total",
			Help: "batchModify calls logged but not issued.",
		}, []string{"spec"}),
		MessagesMutated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sieve_messages_mutated_total",
			Help: "Message ids sent in batchModify calls.",
		}, []string{"spec"}),
		LabelsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sieve_labels_created_total",
			Help: "Custom labels created on demand.",
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "sieve_last_run_timestamp_seconds",
			Help: "Unix time the run finished.",
		}),
	}
}

func (r *Run) Scanned(spec string) {
	if r != nil {
		r.ThreadsScanned.WithLabelValues(spec).Inc()
	}
}

func (r *Run) Matched(spec string) {
	if r != nil {
		r.ThreadsMatched.WithLabelValues(spec).Inc()
	}
}

func (r *Run) UpToDate(spec string) {
	if r != nil {
		r.ThreadsUpToDate.WithLabelValues(spec).Inc()
	}
}

// Batch records one batch of n messages, sent or simulated.
func (r *Run) Batch(spec string, n int, dryRun bool) {
	if r == nil {
		return
	}
	if dryRun {
		r.DryRunBatches.WithLabelValues(spec).Inc()
		return
	}
	r.BatchesSent.WithLabelValues(spec).Inc()
	r.MessagesMutated.WithLabelValues(spec).Add(float64(n))
}

func (r *Run) LabelCreated(string) {
	if r != nil {
		r.LabelsCreated.Inc()
	}
}

// WriteTextfile stamps the finish time and writes every counter to path.
func (r *Run) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	r.LastRunTimestamp.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
