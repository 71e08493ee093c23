package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/sieve/internal/conversation"
	"github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/labels"
	"github.com/joshsymonds/sieve/internal/rules"
)

// GroupBy selects the aggregation key of a Change.
type GroupBy string

const (
	// GroupByLabels groups threads receiving the exact same mutation.
	GroupByLabels GroupBy = "labels"
	// GroupByRules groups threads that matched the exact same set of filters.
	GroupByRules GroupBy = "rules"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case "", GroupByLabels:
		return GroupByLabels, nil
	case GroupByRules:
		return GroupByRules, nil
	default:
		return "", fmt.Errorf("unknown group_by %q (want %s or %s)", s, GroupByLabels, GroupByRules)
	}
}

// Resolver turns filter actions into a label mutation.
type Resolver interface {
	Resolve(ctx context.Context, actions []string) (labels.Labels, error)
}

// Change is a mutation and the threads it applies to.
type Change struct {
	Rules   []rules.Filter
	Labels  labels.Labels
	Threads []conversation.Thread
}

// MessageIDs flattens the message ids of every thread, in thread order.
func (c Change) MessageIDs() []gmail.MessageID {
	var ids []gmail.MessageID
	for _, t := range c.Threads {
		ids = append(ids, t.MessageIDs()...)
	}
	return ids
}

// RuleNames lists the names of the filters behind the change.
func (c Change) RuleNames() []string {
	return ruleNames(c.Rules)
}

// Aggregator inverts thread -> matched filters into changes. It is not safe
// for concurrent use.
type Aggregator struct {
	resolver Resolver
	groupBy  GroupBy

	resolved map[string]labels.Labels // filter key -> mutation
	index    map[string]int
	changes  []*Change
}

func NewAggregator(r Resolver, groupBy GroupBy) *Aggregator {
	if groupBy == "" {
		groupBy = GroupByLabels
	}
	return &Aggregator{
		resolver: r,
		groupBy:  groupBy,
		resolved: map[string]labels.Labels{},
		index:    map[string]int{},
	}
}

// Add resolves and combines the mutations of matched and files t under the
// resulting key. Threads whose combined mutation is empty are not recorded.
// A combination that adds and removes the same label fails with
// *labels.IntersectionError.
func (a *Aggregator) Add(ctx context.Context, t conversation.Thread, matched []rules.Filter) (labels.Labels, error) {
	var combined labels.Labels
	for _, f := range matched {
		l, err := a.resolve(ctx, f)
		if err != nil {
			return labels.Labels{}, err
		}
		combined, err = combined.Combine(l)
		if err != nil {
			return labels.Labels{}, fmt.Errorf("thread %s: combine %v: %w", t.ID, ruleNames(matched), err)
		}
	}
	if combined.Empty() {
		return combined, nil
	}
	key := combined.Key()
	if a.groupBy == GroupByRules {
		key = rulesKey(matched)
	}
	i, ok := a.index[key]
	if !ok {
		i = len(a.changes)
		a.index[key] = i
		a.changes = append(a.changes, &Change{Labels: combined})
	}
	c := a.changes[i]
	c.Threads = append(c.Threads, t)
	c.Rules = mergeRules(c.Rules, matched)
	return combined, nil
}

// Changes returns the changes in the order their keys first appeared.
func (a *Aggregator) Changes() []Change {
	out := make([]Change, 0, len(a.changes))
	for _, c := range a.changes {
		out = append(out, *c)
	}
	return out
}

func (a *Aggregator) resolve(ctx context.Context, f rules.Filter) (labels.Labels, error) {
	if l, ok := a.resolved[f.Key()]; ok {
		return l, nil
	}
	l, err := a.resolver.Resolve(ctx, f.Actions)
	if err != nil {
		return labels.Labels{}, fmt.Errorf("filter %q: %w", f.Name, err)
	}
	a.resolved[f.Key()] = l
	return l, nil
}

func rulesKey(fs []rules.Filter) string {
	keys := make([]string, 0, len(fs))
	for _, f := range fs {
		keys = append(keys, f.Key())
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x00")
}

func mergeRules(have, add []rules.Filter) []rules.Filter {
	for _, f := range add {
		dup := false
		for _, h := range have {
			if h.Equal(f) {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, f)
		}
	}
	return have
}

func ruleNames(fs []rules.Filter) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}
