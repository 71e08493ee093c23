package sieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/joshsymonds/sieve/internal/config"
	"github.com/joshsymonds/sieve/internal/engine"
	"github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/labels"
	"github.com/joshsymonds/sieve/internal/metrics"
	"github.com/joshsymonds/sieve/internal/rules"
)

type batchCall struct {
	ids []gmail.MessageID
	ops gmail.ModifyOps
}

type fakeClient struct {
	mu          sync.Mutex
	pages       []gmail.ThreadPage
	listQueries []string
	listTokens  []string
	pageSizes   []int
	threads     map[gmail.ThreadID]gmail.RawThread
	labels      []gmail.Label
	created     []string
	batches     []batchCall
	batchErr    error
	getErr      error
}

func (f *fakeClient) ListThreads(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ThreadPage, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSizes = append(f.pageSizes, pageSize)
	f.listQueries = append(f.listQueries, q.Raw)
	f.listTokens = append(f.listTokens, pageToken)
	if len(f.pages) == 0 {
		return gmail.ThreadPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetThread(ctx context.Context, id gmail.ThreadID, headers []string) (gmail.RawThread, error) {
	_ = ctx
	_ = headers
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return gmail.RawThread{}, f.getErr
	}
	t, ok := f.threads[id]
	if !ok {
		return gmail.RawThread{}, fmt.Errorf("thread %s not found", id)
	}
	return t, nil
}

func (f *fakeClient) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gmail.Label(nil), f.labels...), nil
}

func (f *fakeClient) CreateLabel(ctx context.Context, name string) (gmail.Label, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	l := gmail.Label{ID: gmail.LabelID("Label_" + name), Name: name, Type: "user"}
	f.labels = append(f.labels, l)
	return l, nil
}

func (f *fakeClient) BatchModify(ctx context.Context, ids []gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, batchCall{ids: append([]gmail.MessageID(nil), ids...), ops: ops})
	return nil
}

func (f *fakeClient) addThread(id string, labelIDs []gmail.LabelID, headers ...string) {
	if f.threads == nil {
		f.threads = map[gmail.ThreadID]gmail.RawThread{}
	}
	msg := gmail.RawMessage{ID: gmail.MessageID(id + "-m1"), ThreadID: gmail.ThreadID(id), LabelIDs: labelIDs}
	for i := 0; i+1 < len(headers); i += 2 {
		msg.Headers = append(msg.Headers, gmail.Header{Name: headers[i], Value: headers[i+1]})
	}
	f.threads[gmail.ThreadID(id)] = gmail.RawThread{ID: gmail.ThreadID(id), Messages: []gmail.RawMessage{msg}}
}

type noLimiter struct{}

func (noLimiter) Wait(ctx context.Context) error {
	_ = ctx
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workSpec() rules.Spec {
	return rules.Spec{
		Name:       "work",
		Query:      "in:inbox",
		MaxResults: 100,
		Filters: []rules.Filter{
			rules.NewFilter("news", []string{"archive", "news"}, rules.Header("from", "news@")),
			rules.NewFilter("alerts", []string{"star"}, rules.Header("subject", "alert")),
		},
	}
}

func TestRunFollowsPagesAndAppliesChanges(t *testing.T) {
	fake := &fakeClient{
		pages: []gmail.ThreadPage{
			{IDs: []gmail.ThreadID{"t1", "t2"}, NextPageToken: "p2"},
			{IDs: []gmail.ThreadID{"t3"}},
		},
	}
	fake.addThread("t1", []gmail.LabelID{"INBOX"}, "From", "news@example.com")
	fake.addThread("t2", []gmail.LabelID{"INBOX"}, "From", "bob@example.com", "Subject", "alert: disk full")
	fake.addThread("t3", []gmail.LabelID{"INBOX"}, "From", "Weekly <news@example.com>")

	svc := NewService(fake, noLimiter{}, slogDiscard())
	rep, err := svc.Run(context.Background(), workSpec())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.listTokens) != 2 || fake.listTokens[1] != "p2" {
		t.Fatalf("expected two list calls following the page token, got %v", fake.listTokens)
	}
	if fake.listQueries[0] != "in:inbox" {
		t.Fatalf("unexpected query %q", fake.listQueries[0])
	}
	if len(fake.created) != 1 || fake.created[0] != "news" {
		t.Fatalf("expected label news to be created, got %v", fake.created)
	}
	if rep.Scanned != 3 || rep.Matched != 3 || len(rep.Changes) != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(fake.batches) != 2 {
		t.Fatalf("expected 2 batch calls, got %d", len(fake.batches))
	}
	news := fake.batches[0]
	if len(news.ids) != 2 || news.ids[0] != "t1-m1" || news.ids[1] != "t3-m1" {
		t.Fatalf("unexpected news batch %v", news.ids)
	}
	if len(news.ops.AddLabels) != 1 || news.ops.AddLabels[0] != "Label_news" {
		t.Fatalf("unexpected add labels %v", news.ops.AddLabels)
	}
	if len(news.ops.RemoveLabels) != 1 || news.ops.RemoveLabels[0] != gmail.LabelInbox {
		t.Fatalf("unexpected remove labels %v", news.ops.RemoveLabels)
	}
}

func TestRunChunking(t *testing.T) {
	fake := &fakeClient{}
	ids := make([]gmail.ThreadID, 1200)
	for i := range ids {
		ids[i] = gmail.ThreadID(fmt.Sprintf("id-%04d", i))
		fake.addThread(string(ids[i]), []gmail.LabelID{"INBOX"})
	}
	fake.pages = []gmail.ThreadPage{{IDs: ids}}
	svc := NewService(fake, noLimiter{}, slogDiscard())

	spec := rules.Spec{Name: "all", Filters: []rules.Filter{rules.NewFilter("everything", []string{"archive"})}}
	if _, err := svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.batches) != 2 {
		t.Fatalf("expected 2 batch calls, got %d", len(fake.batches))
	}
	if len(fake.batches[0].ids) != 1000 {
		t.Fatalf("first batch size %d", len(fake.batches[0].ids))
	}
	if len(fake.batches[1].ids) != 200 {
		t.Fatalf("second batch size %d", len(fake.batches[1].ids))
	}
	seen := map[gmail.MessageID]bool{}
	for _, b := range fake.batches {
		for _, id := range b.ids {
			if seen[id] {
				t.Fatalf("id %s sent twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != 1200 {
		t.Fatalf("expected every id once, got %d", len(seen))
	}
}

func TestRunDryRunSkipsMutations(t *testing.T) {
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"a", "b"}}}}
	fake.addThread("a", []gmail.LabelID{"INBOX"}, "From", "news@example.com")
	fake.addThread("b", []gmail.LabelID{"INBOX"}, "Subject", "alert")
	m := metrics.NewRun()
	svc := NewService(fake, noLimiter{}, slogDiscard())
	svc.DryRun = true
	svc.Metrics = m

	rep, err := svc.Run(context.Background(), workSpec())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.created) != 0 {
		t.Fatalf("expected no label creation in dry-run, got %v", fake.created)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("expected no batch modify calls, got %d", len(fake.batches))
	}
	if len(rep.Changes) != 2 || rep.Batches != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if !rep.Changes[0].Labels.Adds(gmail.LabelID(labels.PendingPrefix + "news")) {
		t.Fatalf("expected pending label placeholder, got %s", rep.Changes[0].Labels)
	}
}

func TestRunSkipsUpToDateThreads(t *testing.T) {
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"done", "todo"}}}}
	fake.addThread("done", nil, "Subject", "alert", "From", "x@y.io")
	fake.addThread("todo", []gmail.LabelID{"INBOX"}, "Subject", "alert", "From", "x@y.io")
	spec := rules.Spec{Name: "s", Filters: []rules.Filter{rules.NewFilter("a", []string{"archive"}, rules.Header("subject", "alert"))}}

	svc := NewService(fake, noLimiter{}, slogDiscard())
	rep, err := svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if rep.UpToDate != 1 {
		t.Fatalf("expected 1 up-to-date thread, got %d", rep.UpToDate)
	}
	if len(fake.batches) != 1 || len(fake.batches[0].ids) != 1 || fake.batches[0].ids[0] != "todo-m1" {
		t.Fatalf("unexpected batches %+v", fake.batches)
	}

	// nothing left to do on a second run
	fake.pages = []gmail.ThreadPage{{IDs: []gmail.ThreadID{"done"}}}
	fake.batches = nil
	if _, err := svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("expected no batch calls, got %d", len(fake.batches))
	}
}

func TestRunDefaultFilter(t *testing.T) {
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1"}}}}
	fake.addThread("t1", []gmail.LabelID{"INBOX", "UNREAD"}, "Subject", "hello")
	spec := workSpec()
	def := rules.NewFilter("default", []string{"read"})
	spec.Default = &def

	svc := NewService(fake, noLimiter{}, slogDiscard())
	if _, err := svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.batches) != 1 || fake.batches[0].ops.RemoveLabels[0] != gmail.LabelUnread {
		t.Fatalf("expected default read mutation, got %+v", fake.batches)
	}
}

func TestRunIntersectionIsFatal(t *testing.T) {
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1"}}}}
	fake.threads = map[gmail.ThreadID]gmail.RawThread{"t1": {ID: "t1", Messages: []gmail.RawMessage{
		{ID: "m1", LabelIDs: []gmail.LabelID{"INBOX"}, Headers: []gmail.Header{{Name: "Subject", Value: "archive me"}}},
		{ID: "m2", LabelIDs: []gmail.LabelID{"INBOX"}, Headers: []gmail.Header{{Name: "Subject", Value: "keep me"}}},
	}}}
	spec := rules.Spec{Name: "s", Filters: []rules.Filter{
		rules.NewFilter("archive", []string{"archive"}, rules.Header("subject", "archive")),
		rules.NewFilter("keep", []string{"inbox"}, rules.Header("subject", "keep")),
	}}

	svc := NewService(fake, noLimiter{}, slogDiscard())
	_, err := svc.Run(context.Background(), spec)
	var ie *labels.IntersectionError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntersectionError, got %v", err)
	}
	if len(fake.batches) != 0 {
		t.Fatalf("expected no batch calls, got %d", len(fake.batches))
	}

	// the single-match mode only applies the first filter
	fake.pages = []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1"}}}
	svc.Mode = engine.ModeFirst
	if _, err := svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("first-match run failed: %v", err)
	}
	if len(fake.batches) != 1 {
		t.Fatalf("expected 1 batch call, got %d", len(fake.batches))
	}
}

func TestRunBatchErrorAborts(t *testing.T) {
	boom := errors.New("backend error")
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1"}}}, batchErr: boom}
	fake.addThread("t1", []gmail.LabelID{"INBOX"})
	spec := rules.Spec{Name: "s", Filters: []rules.Filter{rules.NewFilter("all", []string{"archive"})}}

	svc := NewService(fake, noLimiter{}, slogDiscard())
	if _, err := svc.Run(context.Background(), spec); !errors.Is(err, boom) {
		t.Fatalf("expected batch error, got %v", err)
	}
}

func TestRunHydrationErrorAborts(t *testing.T) {
	boom := errors.New("quota exceeded")
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1", "t2", "t3"}}}, getErr: boom}
	svc := NewService(fake, noLimiter{}, slogDiscard())
	if _, err := svc.Run(context.Background(), workSpec()); !errors.Is(err, boom) {
		t.Fatalf("expected hydration error, got %v", err)
	}
}

func TestPlanNeverMutates(t *testing.T) {
	fake := &fakeClient{pages: []gmail.ThreadPage{{IDs: []gmail.ThreadID{"t1"}}}}
	fake.addThread("t1", []gmail.LabelID{"INBOX"}, "From", "news@example.com")

	svc := NewService(fake, noLimiter{}, slogDiscard())
	rep, err := svc.Plan(context.Background(), workSpec())
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(fake.created) != 0 || len(fake.batches) != 0 {
		t.Fatalf("plan must not mutate: created=%v batches=%d", fake.created, len(fake.batches))
	}
	news := workSpec().Filters[0]
	if rep.Hits[news.Key()] != 1 {
		t.Fatalf("expected one hit for news, got %v", rep.Hits)
	}
}

func TestBatches(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 1000, nil},
		{1, 1000, []int{1}},
		{1000, 1000, []int{1000}},
		{1001, 1000, []int{1000, 1}},
		{2500, 1000, []int{1000, 1000, 500}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(fmt.Sprintf("%d", tc.n), func(t *testing.T) {
			ids := make([]int, tc.n)
			got := Batches(ids, tc.size)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d batches, want %d", len(got), len(tc.want))
			}
			for i, b := range got {
				if len(b) != tc.want[i] {
					t.Fatalf("batch %d has %d ids, want %d", i, len(b), tc.want[i])
				}
			}
		})
	}
}

func TestUserLabelsSkipsSystem(t *testing.T) {
	client := &fakeClient{labels: []gmail.Label{
		{ID: gmail.LabelInbox, Name: "INBOX", Type: "system"},
		{ID: "Label_1", Name: "news", Type: "user"},
	}}
	svc := NewService(client, noLimiter{}, slogDiscard())

	names, err := svc.UserLabels(context.Background())
	if err != nil {
		t.Fatalf("UserLabels returned error: %v", err)
	}
	if len(names) != 1 || !names["news"] {
		t.Fatalf("unexpected labels: %v", names)
	}
}

func TestConfigureAppliesSettings(t *testing.T) {
	svc := NewService(&fakeClient{}, noLimiter{}, slogDiscard())
	cfg := config.Default()
	cfg.MatchMode = "first"
	cfg.GroupBy = "rules"
	cfg.Workers = 3
	cfg.PageSize = 100
	cfg.BatchSize = 250

	if err := svc.Configure(cfg); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	if svc.Mode != engine.ModeFirst || svc.GroupBy != engine.GroupByRules {
		t.Fatalf("mode/group not applied: %s %s", svc.Mode, svc.GroupBy)
	}
	if svc.Workers != 3 || svc.PageSize != 100 || svc.BatchSize != 250 {
		t.Fatalf("sizes not applied: workers=%d page=%d batch=%d", svc.Workers, svc.PageSize, svc.BatchSize)
	}

	bad := config.Default()
	bad.MatchMode = "last"
	if err := svc.Configure(bad); err == nil {
		t.Fatal("expected invalid match mode to fail")
	}
	if svc.Mode != engine.ModeFirst {
		t.Fatalf("invalid settings changed the mode to %s", svc.Mode)
	}
}

func TestPageSizeFallsBackToSettings(t *testing.T) {
	client := &fakeClient{}
	svc := NewService(client, noLimiter{}, slogDiscard())
	svc.PageSize = 50

	spec := rules.Spec{Name: "inbox", Filters: []rules.Filter{rules.NewFilter("all", []string{"archive"})}}
	if _, err := svc.Plan(context.Background(), spec); err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	spec.MaxResults = 20
	if _, err := svc.Plan(context.Background(), spec); err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(client.pageSizes) != 2 || client.pageSizes[0] != 50 || client.pageSizes[1] != 20 {
		t.Fatalf("unexpected page sizes: %v", client.pageSizes)
	}
}
