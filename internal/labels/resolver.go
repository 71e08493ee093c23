package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/sieve/internal/gmail"
)

// PendingPrefix marks the placeholder id of a label that would be created.
const PendingPrefix = "pending:"

// ErrCategoryLabel rejects actions naming a Gmail category. Categories are
// managed by Gmail and are never mutation targets.
var ErrCategoryLabel = errors.New("category labels cannot be mutated")

// Resolver maps filter actions to label mutations, creating custom labels on
// demand.
type Resolver struct {
	Dir *Directory
	Log *slog.Logger
	// NoCreate resolves missing labels to a PendingPrefix placeholder instead
	// of creating them (dry runs, lint).
	NoCreate bool
	// OnCreate is called after a label was created remotely.
	OnCreate func(name string)
}

func NewResolver(dir *Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Resolver{Dir: dir, Log: logger}
}

// Resolve walks actions in order: remove aliases, add aliases, existing
// custom labels, then labels that must be created.
func (r *Resolver) Resolve(ctx context.Context, actions []string) (Labels, error) {
	add := map[gmail.LabelID]string{}
	remove := map[gmail.LabelID]string{}
	for _, action := range actions {
		if id, ok := removeAliases[action]; ok {
			remove[id] = string(id)
			continue
		}
		if id, ok := addAliases[action]; ok {
			add[id] = string(id)
			continue
		}
		if gmail.IsCategory(gmail.LabelID(action)) {
			return Labels{}, fmt.Errorf("%w: %s", ErrCategoryLabel, action)
		}
		id, err := r.custom(ctx, action)
		if err != nil {
			return Labels{}, err
		}
		if gmail.IsCategory(id) {
			return Labels{}, fmt.Errorf("%w: %s resolves to %s", ErrCategoryLabel, action, id)
		}
		add[id] = action
	}
	return New(add, remove)
}

func (r *Resolver) custom(ctx context.Context, name string) (gmail.LabelID, error) {
	id, ok, err := r.Dir.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	if r.NoCreate {
		r.Log.InfoContext(ctx, "label would be created", slog.String("label", name))
		return gmail.LabelID(PendingPrefix + name), nil
	}
	created, err := r.Dir.Create(ctx, name)
	if err == nil {
		r.Log.InfoContext(ctx, "created label", slog.String("label", name), slog.String("id", string(created.ID)))
		if r.OnCreate != nil {
			r.OnCreate(name)
		}
		return created.ID, nil
	}
	if !errors.Is(err, gmail.ErrLabelExists) {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	r.Log.WarnContext(ctx, "label created concurrently; re-resolving", slog.String("label", name))
	if refreshErr := r.Dir.Refresh(ctx); refreshErr != nil {
		return "", refreshErr
	}
	id, ok, err = r.Dir.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("label %q reported as existing but not listed", name)
	}
	return id, nil
}

// Static resolves only the built-in aliases, without touching Gmail. The
// remaining actions are returned as custom label names.
func Static(actions []string) (Labels, []string, error) {
	add := map[gmail.LabelID]string{}
	remove := map[gmail.LabelID]string{}
	var custom []string
	for _, action := range actions {
		if id, ok := removeAliases[action]; ok {
			remove[id] = string(id)
			continue
		}
		if id, ok := addAliases[action]; ok {
			add[id] = string(id)
			continue
		}
		if gmail.IsCategory(gmail.LabelID(action)) {
			return Labels{}, nil, fmt.Errorf("%w: %s", ErrCategoryLabel, action)
		}
		custom = append(custom, action)
	}
	l, err := New(add, remove)
	return l, custom, err
}
