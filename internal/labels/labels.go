// Package labels turns symbolic filter actions into Gmail label mutations.
package labels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/sieve/internal/gmail"
)

var removeAliases = map[string]gmail.LabelID{
	"read":        gmail.LabelUnread,
	"unspam":      gmail.LabelSpam,
	"unstar":      gmail.LabelStarred,
	"archive":     gmail.LabelInbox,
	"untrash":     gmail.LabelTrash,
	"unimportant": gmail.LabelImportant,
}

var addAliases = map[string]gmail.LabelID{
	"spam":      gmail.LabelSpam,
	"star":      gmail.LabelStarred,
	"inbox":     gmail.LabelInbox,
	"trash":     gmail.LabelTrash,
	"unread":    gmail.LabelUnread,
	"important": gmail.LabelImportant,
}

// IsAlias reports whether action is one of the built-in system actions.
func IsAlias(action string) bool {
	_, add := addAliases[action]
	_, remove := removeAliases[action]
	return add || remove
}

// Aliases lists the built-in actions, add aliases first.
func Aliases() []string {
	add := make([]string, 0, len(addAliases))
	for a := range addAliases {
		add = append(add, a)
	}
	remove := make([]string, 0, len(removeAliases))
	for a := range removeAliases {
		remove = append(remove, a)
	}
	sort.Strings(add)
	sort.Strings(remove)
	return append(add, remove...)
}

// Labels is a resolved mutation: label ids to add and to remove, each mapped
// to a display name. The zero value is the empty mutation.
type Labels struct {
	add    map[gmail.LabelID]string
	remove map[gmail.LabelID]string
}

// New copies add and remove into a mutation and checks that they do not overlap.
func New(add, remove map[gmail.LabelID]string) (Labels, error) {
	l := Labels{add: copyMap(add), remove: copyMap(remove)}
	if err := l.check(); err != nil {
		return Labels{}, err
	}
	return l, nil
}

// Empty reports whether the mutation changes nothing.
func (l Labels) Empty() bool {
	return len(l.add) == 0 && len(l.remove) == 0
}

// Combine merges two mutations. Names from other win for shared ids. The
// result must not both add and remove any id.
func (l Labels) Combine(other Labels) (Labels, error) {
	add := copyMap(l.add)
	for id, name := range other.add {
		add[id] = name
	}
	remove := copyMap(l.remove)
	for id, name := range other.remove {
		remove[id] = name
	}
	return New(add, remove)
}

func (l Labels) AddIDs() []gmail.LabelID    { return sortedIDs(l.add) }
func (l Labels) RemoveIDs() []gmail.LabelID { return sortedIDs(l.remove) }
func (l Labels) AddNames() []string         { return namesOf(l.add) }
func (l Labels) RemoveNames() []string      { return namesOf(l.remove) }

// Adds reports whether id is in the add set.
func (l Labels) Adds(id gmail.LabelID) bool {
	_, ok := l.add[id]
	return ok
}

// Removes reports whether id is in the remove set.
func (l Labels) Removes(id gmail.LabelID) bool {
	_, ok := l.remove[id]
	return ok
}

// Key identifies the mutation by its id sets; equal mutations share a key.
func (l Labels) Key() string {
	return "+" + joinIDs(l.AddIDs()) + " -" + joinIDs(l.RemoveIDs())
}

// Equal compares ids and names on both sides.
func (l Labels) Equal(other Labels) bool {
	return mapsEqual(l.add, other.add) && mapsEqual(l.remove, other.remove)
}

// Ops converts the mutation into a batchModify request body.
func (l Labels) Ops() gmail.ModifyOps {
	return gmail.ModifyOps{AddLabels: l.AddIDs(), RemoveLabels: l.RemoveIDs()}
}

func (l Labels) String() string {
	return fmt.Sprintf("add=%v remove=%v", l.AddNames(), l.RemoveNames())
}

func (l Labels) check() error {
	var overlap []gmail.LabelID
	for id := range l.add {
		if _, ok := l.remove[id]; ok {
			overlap = append(overlap, id)
		}
	}
	if len(overlap) == 0 {
		return nil
	}
	sort.Slice(overlap, func(i, j int) bool { return overlap[i] < overlap[j] })
	return &IntersectionError{IDs: overlap, Add: l.AddNames(), Remove: l.RemoveNames()}
}

// IntersectionError reports a mutation that would add and remove the same
// label. It is a configuration error and is never reconciled silently.
type IntersectionError struct {
	IDs    []gmail.LabelID
	Add    []string
	Remove []string
}

func (e *IntersectionError) Error() string {
	return fmt.Sprintf("labels intersect on %v: add=%v remove=%v", e.IDs, e.Add, e.Remove)
}

func copyMap(m map[gmail.LabelID]string) map[gmail.LabelID]string {
	out := make(map[gmail.LabelID]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedIDs(m map[gmail.LabelID]string) []gmail.LabelID {
	ids := make([]gmail.LabelID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func namesOf(m map[gmail.LabelID]string) []string {
	ids := sortedIDs(m)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, m[id])
	}
	return names
}

func joinIDs(ids []gmail.LabelID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func mapsEqual(a, b map[gmail.LabelID]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
