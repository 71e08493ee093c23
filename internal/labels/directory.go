package labels

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/rate"
)

// Source is the label half of the Gmail client.
type Source interface {
	ListLabels(ctx context.Context) ([]gmail.Label, error)
	CreateLabel(ctx context.Context, name string) (gmail.Label, error)
}

// Directory is the label name/id table of one run. It is fetched on first
// use and refreshed only when a create races with another writer, so labels
// renamed by someone else mid-run are not observed.
type Directory struct {
	src     Source
	limiter rate.Limiter

	mu     sync.Mutex
	loaded bool
	byName map[string]gmail.LabelID
	byID   map[gmail.LabelID]string
}

func NewDirectory(src Source, limiter rate.Limiter) *Directory {
	return &Directory{src: src, limiter: limiter}
}

// Lookup returns the id of the label called name.
func (d *Directory) Lookup(ctx context.Context, name string) (gmail.LabelID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensure(ctx); err != nil {
		return "", false, err
	}
	id, ok := d.byName[name]
	return id, ok, nil
}

// Name returns the display name of id.
func (d *Directory) Name(ctx context.Context, id gmail.LabelID) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensure(ctx); err != nil {
		return "", false, err
	}
	name, ok := d.byID[id]
	return name, ok, nil
}

// Refresh refetches the table from Gmail.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = false
	return d.ensure(ctx)
}

// Create creates a label and records it. gmail.ErrLabelExists passes through.
func (d *Directory) Create(ctx context.Context, name string) (gmail.Label, error) {
	if err := rate.Wait(ctx, d.limiter, "rate limit create label"); err != nil {
		return gmail.Label{}, err
	}
	created, err := d.src.CreateLabel(ctx, name)
	if err != nil {
		return gmail.Label{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		d.byName[created.Name] = created.ID
		d.byID[created.ID] = created.Name
	}
	return created, nil
}

func (d *Directory) ensure(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	if err := rate.Wait(ctx, d.limiter, "rate limit list labels"); err != nil {
		return err
	}
	all, err := d.src.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	d.byName = make(map[string]gmail.LabelID, len(all))
	d.byID = make(map[gmail.LabelID]string, len(all))
	for _, l := range all {
		d.byName[l.Name] = l.ID
		d.byID[l.ID] = l.Name
	}
	d.loaded = true
	return nil
}
