package rules

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/joshsymonds/sieve/internal/gmail"
)

// Criterion is one header test of a filter. Values are alternatives: the
// criterion holds when any of them matches any value of the header.
type Criterion struct {
	Header string
	Values []string
	// Plural records that the values were declared (or normalized) as a list.
	// It only affects display and structural equality, never matching.
	Plural bool
}

// Header declares a single-valued criterion.
func Header(name, value string) Criterion {
	return Criterion{Header: name, Values: []string{value}}
}

// Headers declares a list-valued criterion.
func Headers(name string, values ...string) Criterion {
	return Criterion{Header: name, Values: append([]string(nil), values...), Plural: true}
}

// Filter is a named set of header criteria and the symbolic actions applied
// when all of them match. A filter without criteria matches every message.
// Filters are values; build them with NewFilter so the grouping key is set.
type Filter struct {
	Name     string
	Actions  []string
	Criteria []Criterion

	key string
}

// NewFilter normalizes its inputs: header names are lowercased, a repeated
// header replaces the earlier one, and address-bearing headers are always
// list-valued.
func NewFilter(name string, actions []string, criteria ...Criterion) Filter {
	f := Filter{
		Name:    name,
		Actions: append([]string(nil), actions...),
	}
	index := map[string]int{}
	for _, c := range criteria {
		c.Header = strings.ToLower(strings.TrimSpace(c.Header))
		c.Values = append([]string(nil), c.Values...)
		if gmail.IsAddressHeader(c.Header) {
			c.Plural = true
		}
		if i, ok := index[c.Header]; ok {
			f.Criteria[i] = c
			continue
		}
		index[c.Header] = len(f.Criteria)
		f.Criteria = append(f.Criteria, c)
	}
	f.key = f.computeKey()
	return f
}

// Key is the structural identity of the filter: two filters with the same
// name, actions and criteria share a key regardless of criteria order.
func (f Filter) Key() string {
	if f.key != "" {
		return f.key
	}
	return f.computeKey()
}

// Equal reports structural equality.
func (f Filter) Equal(other Filter) bool {
	return f.Key() == other.Key()
}

// Complete reports whether the filter has a name, actions and criteria. An
// incomplete filter is still valid for matching; this only drives the
// unconditional marker in show-filters.
func (f Filter) Complete() bool {
	return f.Name != "" && len(f.Actions) > 0 && len(f.Criteria) > 0
}

type keyCriterion struct {
	H string   `json:"h"`
	P bool     `json:"p"`
	V []string `json:"v"`
}

func (f Filter) computeKey() string {
	crit := make([]keyCriterion, 0, len(f.Criteria))
	for _, c := range f.Criteria {
		crit = append(crit, keyCriterion{H: c.Header, P: c.Plural, V: c.Values})
	}
	sort.Slice(crit, func(i, j int) bool { return crit[i].H < crit[j].H })
	payload := struct {
		N string         `json:"n"`
		A []string       `json:"a"`
		C []keyCriterion `json:"c"`
	}{N: f.Name, A: f.Actions, C: crit}
	out, err := json.Marshal(payload)
	if err != nil {
		// only strings and bools are marshaled
		panic(err)
	}
	return string(out)
}

// FilterView is the display form of a filter.
type FilterView struct {
	Name    string         `json:"name" yaml:"name"`
	Actions []string       `json:"actions" yaml:"actions"`
	Headers map[string]any `json:"headers" yaml:"headers"`
}

// View renders the filter for show-filters. List-valued criteria render as
// arrays, single-valued ones as strings.
func (f Filter) View() FilterView {
	headers := make(map[string]any, len(f.Criteria))
	for _, c := range f.Criteria {
		if c.Plural || len(c.Values) != 1 {
			headers[c.Header] = append([]string{}, c.Values...)
			continue
		}
		headers[c.Header] = c.Values[0]
	}
	actions := f.Actions
	if actions == nil {
		actions = []string{}
	}
	return FilterView{Name: f.Name, Actions: actions, Headers: headers}
}
