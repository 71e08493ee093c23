// Package sieve runs rule-set specs against a Gmail account: list the
// threads a spec's query returns, hydrate and match them, group the
// outcomes into changes, and apply the changes in batches.
package sieve

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/sieve/internal/config"
	"github.com/joshsymonds/sieve/internal/conversation"
	"github.com/joshsymonds/sieve/internal/engine"
	gc "github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/labels"
	"github.com/joshsymonds/sieve/internal/metrics"
	"github.com/joshsymonds/sieve/internal/rate"
	"github.com/joshsymonds/sieve/internal/rules"
	"github.com/joshsymonds/sieve/internal/sched"
)

type Service struct {
	Client  gc.Client
	Log     *slog.Logger
	Rate    rate.Limiter
	Metrics *metrics.Run

	DryRun    bool
	BatchSize int
	Workers   int
	// PageSize is used for specs that do not set max_results.
	PageSize int
	Mode     engine.Mode
	GroupBy  engine.GroupBy

	dir *labels.Directory
}

func NewService(client gc.Client, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client:    client,
		Log:       logger,
		Rate:      limiter,
		BatchSize: gc.MaxBatchModify,
		Workers:   1,
		PageSize:  rules.DefaultMaxResults,
		Mode:      engine.ModeAccumulate,
		GroupBy:   engine.GroupByLabels,
		dir:       labels.NewDirectory(client, limiter),
	}
}

// Report summarizes one spec.
type Report struct {
	Spec     string
	Scanned  int
	Matched  int
	UpToDate int
	Batches  int
	Messages int
	Changes  []engine.Change
	// Hits counts matched threads per filter key.
	Hits map[string]int
}

// Run applies spec. In dry-run mode nothing is created or modified; the
// intended mutations are logged instead.
func (s *Service) Run(ctx context.Context, spec rules.Spec) (Report, error) {
	return s.withScheduler(ctx, func(sc *sched.Scheduler) (Report, error) {
		return s.run(sc, spec, s.DryRun, true)
	})
}

// Plan computes the changes spec would make without creating labels or
// modifying messages.
func (s *Service) Plan(ctx context.Context, spec rules.Spec) (Report, error) {
	return s.withScheduler(ctx, func(sc *sched.Scheduler) (Report, error) {
		return s.run(sc, spec, true, false)
	})
}

// withScheduler gives fn a scheduler scoped to one spec. Work still queued
// when fn fails is canceled.
func (s *Service) withScheduler(ctx context.Context, fn func(*sched.Scheduler) (Report, error)) (Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sc := sched.New(ctx, s.Workers)
	rep, err := fn(sc)
	if err != nil {
		cancel()
	}
	if waitErr := sc.Wait(); err == nil && waitErr != nil {
		err = waitErr
	}
	return rep, err
}

func (s *Service) run(sc *sched.Scheduler, spec rules.Spec, dryRun, execute bool) (Report, error) {
	ctx := sc.Context()
	rep := Report{Spec: spec.Name, Hits: map[string]int{}}
	pageSize := spec.MaxResults
	if pageSize <= 0 {
		pageSize = s.PageSize
	}
	s.Log.Info("running spec",
		slog.String("spec", spec.Name),
		slog.String("query", spec.Query),
		slog.Int("max_results", pageSize),
		slog.Int("filters", len(spec.Filters)),
		slog.Bool("dry_run", dryRun))

	ids, err := s.listThreadIDs(ctx, gc.Query{Raw: spec.Query}, pageSize)
	if err != nil {
		return rep, fmt.Errorf("spec %q: %w", spec.Name, err)
	}
	s.Log.Info("listed threads", slog.String("spec", spec.Name), slog.Int("count", len(ids)))

	resolver := labels.NewResolver(s.dir, s.Log)
	resolver.NoCreate = dryRun
	resolver.OnCreate = s.Metrics.LabelCreated
	eng := engine.New(spec.Filters, spec.Default, s.Mode)
	agg := engine.NewAggregator(resolver, s.GroupBy)

	err = s.hydrate(ctx, sc, ids, func(t conversation.Thread) error {
		rep.Scanned++
		s.Metrics.Scanned(spec.Name)
		matched := eng.MatchThread(t)
		l, err := agg.Add(ctx, t, matched)
		if err != nil {
			return err
		}
		if l.Empty() {
			return nil
		}
		rep.Matched++
		s.Metrics.Matched(spec.Name)
		for _, f := range matched {
			rep.Hits[f.Key()]++
		}
		s.Log.Debug("thread matched",
			slog.String("thread", string(t.ID)),
			slog.String("subject", t.Subject()),
			slog.Any("filters", engine.Change{Rules: matched}.RuleNames()),
			slog.String("labels", l.String()))
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("spec %q: %w", spec.Name, err)
	}
	rep.Changes = agg.Changes()
	s.Log.Info("computed changes", slog.String("spec", spec.Name), slog.Int("changes", len(rep.Changes)))
	if !execute {
		return rep, nil
	}

	ex := &Executor{
		Client:    s.Client,
		Rate:      s.Rate,
		Log:       s.Log,
		Metrics:   s.Metrics,
		Sched:     sc,
		BatchSize: s.BatchSize,
		DryRun:    dryRun,
	}
	for i, c := range rep.Changes {
		st, err := ex.Execute(ctx, spec.Name, c)
		rep.UpToDate += st.UpToDate
		rep.Batches += st.Batches
		rep.Messages += st.Messages
		if err != nil {
			return rep, fmt.Errorf("spec %q: change %d of %d: %w", spec.Name, i+1, len(rep.Changes), err)
		}
	}
	s.Log.Info("spec done",
		slog.String("spec", spec.Name),
		slog.Int("scanned", rep.Scanned),
		slog.Int("matched", rep.Matched),
		slog.Int("up_to_date", rep.UpToDate),
		slog.Int("batches", rep.Batches),
		slog.Int("messages", rep.Messages))
	return rep, nil
}

func (s *Service) listThreadIDs(ctx context.Context, q gc.Query, pageSize int) ([]gc.ThreadID, error) {
	var all []gc.ThreadID
	pageToken := ""
	for {
		if err := rate.Wait(ctx, s.Rate, "rate limit list threads"); err != nil {
			return nil, err
		}
		page, err := s.Client.ListThreads(ctx, q, pageToken, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		all = append(all, page.IDs...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// hydrate fetches threads on the scheduler, keeping a small window of
// fetches queued ahead of the one being handled, and calls fn in list order.
func (s *Service) hydrate(ctx context.Context, sc *sched.Scheduler, ids []gc.ThreadID, fn func(conversation.Thread) error) error {
	window := 2 * s.workers()
	futures := make([]*sched.Future[gc.RawThread], 0, len(ids))
	submit := func() {
		id := ids[len(futures)]
		futures = append(futures, sched.Submit(sc, func(ctx context.Context) (gc.RawThread, error) {
			if err := rate.Wait(ctx, s.Rate, "rate limit get thread"); err != nil {
				return gc.RawThread{}, err
			}
			raw, err := s.Client.GetThread(ctx, id, gc.MetadataHeaders())
			if err != nil {
				return gc.RawThread{}, fmt.Errorf("get thread %s: %w", id, err)
			}
			return raw, nil
		}))
	}
	for len(futures) < len(ids) && len(futures) < window {
		submit()
	}
	for i := range ids {
		raw, err := futures[i].Await(ctx)
		if err != nil {
			return err
		}
		futures[i] = nil
		if len(futures) < len(ids) {
			submit()
		}
		if err := fn(conversation.NewThread(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) workers() int {
	if s.Workers < 1 {
		return 1
	}
	return s.Workers
}

// UserLabels returns the names of the account's user labels.
func (s *Service) UserLabels(ctx context.Context) (map[string]bool, error) {
	if err := rate.Wait(ctx, s.Rate, "rate limit list labels"); err != nil {
		return nil, err
	}
	list, err := s.Client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	names := make(map[string]bool, len(list))
	for _, l := range list {
		if l.Type == "system" {
			continue
		}
		names[l.Name] = true
	}
	return names, nil
}

// Configure applies runtime settings: batch size, workers, page size, match
// mode and grouping. Invalid settings leave the service unchanged.
func (s *Service) Configure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	mode, err := engine.ParseMode(cfg.MatchMode)
	if err != nil {
		return err
	}
	groupBy, err := engine.ParseGroupBy(cfg.GroupBy)
	if err != nil {
		return err
	}
	s.BatchSize = cfg.BatchSize
	s.Workers = cfg.Workers
	s.PageSize = cfg.PageSize
	s.Mode = mode
	s.GroupBy = groupBy
	return nil
}
