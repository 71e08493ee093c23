package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/joshsymonds/sieve/internal/gmail"
)

// AmbiguousPatternError is returned when a spec or filter pattern selects
// more than one candidate.
type AmbiguousPatternError struct {
	Kind    string // "spec" or "filter"
	Pattern string
	Count   int
}

func (e *AmbiguousPatternError) Error() string {
	return fmt.Sprintf("%s pattern %q matched %d candidates", e.Kind, e.Pattern, e.Count)
}

// Overrides narrows a run to one spec (and optionally one filter) and
// replaces parts of it from the command line.
type Overrides struct {
	SpecPattern   string
	FilterPattern string
	Query         string
	Headers       []Criterion
	Actions       []string
}

// Empty reports whether no override was requested.
func (o Overrides) Empty() bool {
	return o.SpecPattern == "" && o.FilterPattern == "" && o.Query == "" && len(o.Headers) == 0 && len(o.Actions) == 0
}

// Validate checks the combination of overrides. isAction reports whether a
// token is an allowed override action.
func (o Overrides) Validate(isAction func(string) bool) error {
	var errs *multierror.Error
	if o.SpecPattern == "" {
		if o.FilterPattern != "" {
			errs = multierror.Append(errs, errors.New("spec-pattern is required when filter-pattern is specified"))
		}
		if o.Query != "" {
			errs = multierror.Append(errs, errors.New("spec-pattern is required when query is specified"))
		}
		if len(o.Headers) > 0 {
			errs = multierror.Append(errs, errors.New("spec-pattern is required when headers are specified"))
		}
		if len(o.Actions) > 0 {
			errs = multierror.Append(errs, errors.New("spec-pattern is required when actions are specified"))
		}
	}
	for _, c := range o.Headers {
		if !gmail.IsMetadataHeader(strings.ToLower(c.Header)) {
			errs = multierror.Append(errs, fmt.Errorf("invalid header key %q; valid keys are %v", c.Header, gmail.MetadataHeaders()))
		}
	}
	if isAction != nil {
		for _, a := range o.Actions {
			if !isAction(a) {
				errs = multierror.Append(errs, fmt.Errorf("invalid action %q", a))
			}
		}
	}
	return errs.ErrorOrNil()
}

// ParseHeader parses a KEY=VALUE (or KEY:VALUE) header override.
func ParseHeader(s string) (Criterion, error) {
	for _, sep := range []string{"=", ":"} {
		if k, v, ok := strings.Cut(s, sep); ok {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				break
			}
			return Header(k, strings.TrimSpace(v)), nil
		}
	}
	return Criterion{}, fmt.Errorf("no separator found in %q", s)
}

// Apply selects and rewrites specs. Without a spec pattern the specs are
// returned untouched. A pattern matching nothing synthesizes a new spec (or
// filter) from the overrides; matching more than one candidate is an
// AmbiguousPatternError.
func (o Overrides) Apply(specs []Spec) ([]Spec, error) {
	if o.SpecPattern == "" {
		return specs, nil
	}
	var matched []Spec
	for _, s := range specs {
		if s.Name == o.SpecPattern {
			matched = append(matched, s)
		}
	}
	switch len(matched) {
	case 0:
		return []Spec{o.buildSpec()}, nil
	case 1:
		spec, err := o.overrideSpec(matched[0])
		if err != nil {
			return nil, err
		}
		return []Spec{spec}, nil
	default:
		return nil, &AmbiguousPatternError{Kind: "spec", Pattern: o.SpecPattern, Count: len(matched)}
	}
}

func (o Overrides) buildSpec() Spec {
	return Spec{
		Name:    o.SpecPattern,
		Query:   o.Query,
		Filters: []Filter{o.buildFilter()},
	}
}

func (o Overrides) buildFilter() Filter {
	return NewFilter(o.FilterPattern, o.Actions, o.Headers...)
}

func (o Overrides) overrideSpec(spec Spec) (Spec, error) {
	if o.Query != "" {
		spec.Query = o.Query
	}
	if o.FilterPattern == "" {
		return spec, nil
	}
	// a single selected filter runs without the fallback
	spec.Default = nil
	idx := spec.FilterNamed(o.FilterPattern)
	switch len(idx) {
	case 0:
		spec.Filters = []Filter{o.buildFilter()}
	case 1:
		f := spec.Filters[idx[0]]
		criteria, actions := f.Criteria, f.Actions
		if len(o.Headers) > 0 {
			criteria = o.Headers
		}
		if len(o.Actions) > 0 {
			actions = o.Actions
		}
		spec.Filters = []Filter{NewFilter(f.Name, actions, criteria...)}
	default:
		return Spec{}, &AmbiguousPatternError{Kind: "filter", Pattern: o.FilterPattern, Count: len(idx)}
	}
	return spec, nil
}
