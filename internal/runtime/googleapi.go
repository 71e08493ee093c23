// internal/runtime/googleapi.go adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/sieve/internal/gmail"
)

const user = "me"

// BreakerSettings configures the circuit breaker guarding Gmail calls.
type BreakerSettings struct {
	// MaxFailures consecutive server-side failures open the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
}

type googleClient struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
	log *slog.Logger
}

func NewGoogleAPIClient(svc *gmail.Service, bs BreakerSettings, logger *slog.Logger) *googleClient {
	if logger == nil {
		logger = DefaultLogger()
	}
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second
	}
	return &googleClient{
		svc: svc,
		cb:  gobreaker.NewCircuitBreaker(breakerSettings("gmail-api", bs, logger)),
		log: logger,
	}
}

func breakerSettings(name string, bs BreakerSettings, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		// client errors and conflicts are answers, not outages
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
}

func isServerError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// transport failures count against the breaker
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

func (g *googleClient) do(op string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.log.Error("gmail call rejected by circuit breaker", slog.String("op", op), slog.String("state", g.cb.State().String()))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *googleClient) ListThreads(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ThreadPage, error) {
	call := g.svc.Users.Threads.List(user).Q(q.Raw)
	if pageSize > 0 {
		call = call.MaxResults(int64(pageSize))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	var res *gmail.ListThreadsResponse
	err := g.do("list threads", func() error {
		var err error
		res, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return gc.ThreadPage{}, err
	}
	page := gc.ThreadPage{NextPageToken: res.NextPageToken}
	for _, t := range res.Threads {
		page.IDs = append(page.IDs, gc.ThreadID(t.Id))
	}
	return page, nil
}

func (g *googleClient) GetThread(ctx context.Context, id gc.ThreadID, headers []string) (gc.RawThread, error) {
	var th *gmail.Thread
	err := g.do("get thread", func() error {
		var err error
		th, err = g.svc.Users.Threads.Get(user, string(id)).
			Format("metadata").
			MetadataHeaders(headers...).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return gc.RawThread{}, err
	}
	raw := gc.RawThread{
		ID:        gc.ThreadID(th.Id),
		HistoryID: th.HistoryId,
		Snippet:   th.Snippet,
	}
	for _, m := range th.Messages {
		raw.Messages = append(raw.Messages, toRawMessage(m))
	}
	return raw, nil
}

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	var lr *gmail.ListLabelsResponse
	err := g.do("list labels", func() error {
		var err error
		lr, err = g.svc.Users.Labels.List(user).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Type: l.Type})
	}
	return out, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.Label, error) {
	var created *gmail.Label
	err := g.do("create label", func() error {
		var err error
		created, err = g.svc.Users.Labels.Create(user, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		if isConflict(err) {
			return gc.Label{}, fmt.Errorf("%w: %q", gc.ErrLabelExists, name)
		}
		return gc.Label{}, err
	}
	return gc.Label{ID: gc.LabelID(created.Id), Name: created.Name, Type: created.Type}, nil
}

func (g *googleClient) BatchModify(ctx context.Context, ids []gc.MessageID, ops gc.ModifyOps) error {
	if len(ids) > gc.MaxBatchModify {
		return fmt.Errorf("batch modify: %d ids exceeds limit of %d", len(ids), gc.MaxBatchModify)
	}
	req := &gmail.BatchModifyMessagesRequest{Ids: toStrings(ids)}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = labelStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = labelStrings(ops.RemoveLabels)
	}
	return g.do("batch modify", func() error {
		return g.svc.Users.Messages.BatchModify(user, req).Context(ctx).Do()
	})
}

func toRawMessage(m *gmail.Message) gc.RawMessage {
	raw := gc.RawMessage{
		ID:           gc.MessageID(m.Id),
		ThreadID:     gc.ThreadID(m.ThreadId),
		LabelIDs:     toLabelIDs(m.LabelIds),
		Snippet:      m.Snippet,
		InternalDate: m.InternalDate,
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			raw.Headers = append(raw.Headers, gc.Header{Name: h.Name, Value: h.Value})
		}
	}
	return raw
}

func toStrings(ids []gc.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func labelStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}
