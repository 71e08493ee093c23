package labels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/sieve/internal/gmail"
)

type fakeSource struct {
	labels    []gmail.Label
	listCalls int
	created   []string
	createErr error
	// raced is appended to labels when createErr is returned, simulating a
	// concurrent creator.
	raced *gmail.Label
}

func (f *fakeSource) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	f.listCalls++
	return append([]gmail.Label(nil), f.labels...), nil
}

func (f *fakeSource) CreateLabel(ctx context.Context, name string) (gmail.Label, error) {
	_ = ctx
	f.created = append(f.created, name)
	if f.createErr != nil {
		if f.raced != nil {
			f.labels = append(f.labels, *f.raced)
		}
		return gmail.Label{}, f.createErr
	}
	l := gmail.Label{ID: gmail.LabelID("Label_" + name), Name: name, Type: "user"}
	f.labels = append(f.labels, l)
	return l, nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustLabels(t *testing.T, add, remove map[gmail.LabelID]string) Labels {
	t.Helper()
	l, err := New(add, remove)
	require.NoError(t, err)
	return l
}

func TestCombineIntersection(t *testing.T) {
	a := mustLabels(t, map[gmail.LabelID]string{"L1": "one"}, nil)
	b := mustLabels(t, nil, map[gmail.LabelID]string{"L1": "one"})

	_, err := a.Combine(b)
	var ie *IntersectionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []gmail.LabelID{"L1"}, ie.IDs)
	assert.Equal(t, []string{"one"}, ie.Add)
	assert.Equal(t, []string{"one"}, ie.Remove)
}

func TestNewRejectsOverlap(t *testing.T) {
	_, err := New(map[gmail.LabelID]string{"INBOX": "INBOX"}, map[gmail.LabelID]string{"INBOX": "INBOX"})
	var ie *IntersectionError
	require.ErrorAs(t, err, &ie)
}

func TestCombineMerges(t *testing.T) {
	a := mustLabels(t, map[gmail.LabelID]string{"L1": "one"}, map[gmail.LabelID]string{"INBOX": "INBOX"})
	b := mustLabels(t, map[gmail.LabelID]string{"L2": "two"}, map[gmail.LabelID]string{"UNREAD": "UNREAD"})

	got, err := a.Combine(b)
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{"L1", "L2"}, got.AddIDs())
	assert.Equal(t, []gmail.LabelID{"INBOX", "UNREAD"}, got.RemoveIDs())
	assert.Equal(t, "+L1,L2 -INBOX,UNREAD", got.Key())

	// inputs are untouched
	assert.Equal(t, []gmail.LabelID{"L1"}, a.AddIDs())
}

func TestEmptyAndZeroValue(t *testing.T) {
	var zero Labels
	assert.True(t, zero.Empty())
	assert.Equal(t, "+ -", zero.Key())

	combined, err := zero.Combine(mustLabels(t, map[gmail.LabelID]string{"L1": "one"}, nil))
	require.NoError(t, err)
	assert.False(t, combined.Empty())
	assert.True(t, combined.Adds("L1"))
	assert.False(t, combined.Removes("L1"))
}

func TestOps(t *testing.T) {
	l := mustLabels(t, map[gmail.LabelID]string{"STARRED": "STARRED"}, map[gmail.LabelID]string{"INBOX": "INBOX"})
	ops := l.Ops()
	assert.Equal(t, []gmail.LabelID{"STARRED"}, ops.AddLabels)
	assert.Equal(t, []gmail.LabelID{"INBOX"}, ops.RemoveLabels)
}

func TestResolveAliases(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())

	got, err := r.Resolve(context.Background(), []string{"archive", "read", "star"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{gmail.LabelStarred}, got.AddIDs())
	assert.Equal(t, []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread}, got.RemoveIDs())
	assert.Zero(t, src.listCalls, "aliases must not hit the label directory")
}

func TestResolveExistingLabel(t *testing.T) {
	src := &fakeSource{labels: []gmail.Label{{ID: "Label_7", Name: "news", Type: "user"}}}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())

	got, err := r.Resolve(context.Background(), []string{"archive", "news"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{"Label_7"}, got.AddIDs())
	assert.Equal(t, []string{"news"}, got.AddNames())
	assert.Empty(t, src.created)
}

func TestResolveCreatesMissingLabel(t *testing.T) {
	src := &fakeSource{}
	var created []string
	r := NewResolver(NewDirectory(src, nil), slogDiscard())
	r.OnCreate = func(name string) { created = append(created, name) }

	got, err := r.Resolve(context.Background(), []string{"receipts"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{"Label_receipts"}, got.AddIDs())
	assert.Equal(t, []string{"receipts"}, src.created)
	assert.Equal(t, []string{"receipts"}, created)

	// the directory remembers the new label
	_, err = r.Resolve(context.Background(), []string{"receipts"})
	require.NoError(t, err)
	assert.Len(t, src.created, 1)
	assert.Equal(t, 1, src.listCalls)
}

func TestResolveRecoversFromConflict(t *testing.T) {
	src := &fakeSource{
		createErr: gmail.ErrLabelExists,
		raced:     &gmail.Label{ID: "Label_9", Name: "receipts", Type: "user"},
	}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())

	got, err := r.Resolve(context.Background(), []string{"receipts"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{"Label_9"}, got.AddIDs())
	assert.Equal(t, 2, src.listCalls)
}

func TestResolvePropagatesRemoteFailure(t *testing.T) {
	boom := errors.New("backend error")
	src := &fakeSource{createErr: boom}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())

	_, err := r.Resolve(context.Background(), []string{"receipts"})
	require.ErrorIs(t, err, boom)
}

func TestResolveNoCreate(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())
	r.NoCreate = true

	got, err := r.Resolve(context.Background(), []string{"receipts"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{PendingPrefix + "receipts"}, got.AddIDs())
	assert.Empty(t, src.created)
}

func TestResolveIntersection(t *testing.T) {
	r := NewResolver(NewDirectory(&fakeSource{}, nil), slogDiscard())

	_, err := r.Resolve(context.Background(), []string{"archive", "inbox"})
	var ie *IntersectionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []gmail.LabelID{gmail.LabelInbox}, ie.IDs)
}

func TestStatic(t *testing.T) {
	got, custom, err := Static([]string{"archive", "news", "star", "_/bad@spam.com"})
	require.NoError(t, err)
	assert.Equal(t, []gmail.LabelID{gmail.LabelStarred}, got.AddIDs())
	assert.Equal(t, []gmail.LabelID{gmail.LabelInbox}, got.RemoveIDs())
	assert.Equal(t, []string{"news", "_/bad@spam.com"}, custom)
}

func TestAliases(t *testing.T) {
	all := Aliases()
	assert.Len(t, all, 12)
	assert.Equal(t, "important", all[0])
	assert.True(t, IsAlias("archive"))
	assert.False(t, IsAlias("news"))
}

func TestResolveRejectsCategory(t *testing.T) {
	src := &fakeSource{labels: []gmail.Label{
		{ID: "CATEGORY_SOCIAL", Name: "CATEGORY_SOCIAL", Type: "system"},
		{ID: "CATEGORY_UPDATES", Name: "updates-alias", Type: "system"},
	}}
	r := NewResolver(NewDirectory(src, nil), slogDiscard())

	_, err := r.Resolve(context.Background(), []string{"archive", "CATEGORY_SOCIAL"})
	require.ErrorIs(t, err, ErrCategoryLabel)

	_, err = r.Resolve(context.Background(), []string{"updates-alias"})
	require.ErrorIs(t, err, ErrCategoryLabel)
	assert.Empty(t, src.created)
}

func TestStaticRejectsCategory(t *testing.T) {
	_, _, err := Static([]string{"read", "CATEGORY_PROMOTIONS"})
	require.ErrorIs(t, err, ErrCategoryLabel)
}
