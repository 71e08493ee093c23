package sieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/sieve/internal/engine"
	gc "github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/metrics"
	"github.com/joshsymonds/sieve/internal/rate"
	"github.com/joshsymonds/sieve/internal/sched"
)

// Executor applies changes with batchModify.
type Executor struct {
	Client  gc.Client
	Rate    rate.Limiter
	Log     *slog.Logger
	Metrics *metrics.Run
	// Sched, when set, runs each batch call on the scheduler.
	Sched     *sched.Scheduler
	BatchSize int
	DryRun    bool
}

// ExecStats counts what one Execute call did.
type ExecStats struct {
	UpToDate int
	Batches  int
	Messages int
}

// Execute sends c in batches of at most BatchSize ids. Threads that already
// carry the mutation are left out. The first failing batch aborts the
// remaining batches of c.
func (e *Executor) Execute(ctx context.Context, spec string, c engine.Change) (ExecStats, error) {
	var (
		st  ExecStats
		ids []gc.MessageID
	)
	for _, t := range c.Threads {
		if t.IsUpToDate(c.Labels) {
			st.UpToDate++
			e.Metrics.UpToDate(spec)
			continue
		}
		ids = append(ids, t.MessageIDs()...)
	}
	if len(ids) == 0 {
		e.Log.Info("change already applied",
			slog.String("spec", spec),
			slog.Any("filters", c.RuleNames()),
			slog.Int("threads", len(c.Threads)))
		return st, nil
	}

	ops := c.Labels.Ops()
	batches := Batches(ids, e.batchSize())
	for i, batch := range batches {
		attrs := []any{
			slog.String("spec", spec),
			slog.Any("filters", c.RuleNames()),
			slog.Any("add", c.Labels.AddNames()),
			slog.Any("remove", c.Labels.RemoveNames()),
			slog.Int("batch", i+1),
			slog.Int("of", len(batches)),
			slog.Int("count", len(batch)),
		}
		if e.DryRun {
			e.Log.Info("dry-run", attrs...)
			e.Metrics.Batch(spec, len(batch), true)
			continue
		}
		if err := e.modify(ctx, batch, ops); err != nil {
			return st, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		st.Batches++
		st.Messages += len(batch)
		e.Metrics.Batch(spec, len(batch), false)
		e.Log.Info("modified", attrs...)
	}
	return st, nil
}

func (e *Executor) modify(ctx context.Context, batch []gc.MessageID, ops gc.ModifyOps) error {
	call := func(ctx context.Context) (struct{}, error) {
		if err := rate.Wait(ctx, e.Rate, "rate limit batch modify"); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, e.Client.BatchModify(ctx, batch, ops)
	}
	if e.Sched == nil {
		_, err := call(ctx)
		return err
	}
	_, err := sched.Submit(e.Sched, call).Await(ctx)
	return err
}

func (e *Executor) batchSize() int {
	if e.BatchSize <= 0 || e.BatchSize > gc.MaxBatchModify {
		return gc.MaxBatchModify
	}
	return e.BatchSize
}

// Batches splits ids into consecutive slices of at most size ids.
func Batches[T any](ids []T, size int) [][]T {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]T
	for i := 0; i < len(ids); i += size {
		j := i + size
		if j > len(ids) {
			j = len(ids)
		}
		out = append(out, ids[i:j])
	}
	return out
}
