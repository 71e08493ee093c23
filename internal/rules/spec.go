package rules

import "fmt"

const (
	DefaultSpecName   = "unnamed"
	DefaultMaxResults = 500
)

// Spec is one rule-set document: a Gmail search query plus the ordered
// filters evaluated against every thread the query returns.
type Spec struct {
	Name  string
	Query string
	// MaxResults is the list page size; zero uses the configured page_size.
	MaxResults int
	Filters    []Filter
	// Default applies when no filter matched any message of a thread.
	Default *Filter
}

// SpammerFilters expands the spammer shorthand: every address becomes a
// filter named "spammer-<header>" that archives the thread and tags it with
// "_/<address>".
func SpammerFilters(header string, addrs []string) []Filter {
	out := make([]Filter, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, NewFilter(
			"spammer-"+header,
			[]string{"archive", "_/" + addr},
			Header(header, addr),
		))
	}
	return out
}

// FilterNamed returns the indices of filters called name.
func (s Spec) FilterNamed(name string) []int {
	var idx []int
	for i, f := range s.Filters {
		if f.Name == name {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s Spec) String() string {
	return fmt.Sprintf("Spec(name=%s query=%q max_results=%d filters=%d)", s.Name, s.Query, s.MaxResults, len(s.Filters))
}

// SpecView is the display form of a spec.
type SpecView struct {
	Name    string       `json:"name" yaml:"name"`
	Query   string       `json:"query" yaml:"query"`
	Filters []FilterView `json:"filters" yaml:"filters"`
}

func (s Spec) View() SpecView {
	filters := make([]FilterView, 0, len(s.Filters))
	for _, f := range s.Filters {
		filters = append(filters, f.View())
	}
	return SpecView{Name: s.Name, Query: s.Query, Filters: filters}
}
