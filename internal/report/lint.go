package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/sieve/internal/labels"
	"github.com/joshsymonds/sieve/internal/rules"
)

// Lint conditions accepted by ShouldFail.
const (
	FailDead         = "dead"
	FailMissingLabel = "missing-label"
	FailConflict     = "conflict"
)

// Findings are the problems lint detected across all specs.
type Findings struct {
	DeadRules     []RuleFinding `json:"dead_rules"`
	MissingLabels []string      `json:"missing_labels"`
	Conflicts     []Conflict    `json:"conflicts"`
}

// RuleFinding identifies a problematic filter.
type RuleFinding struct {
	Spec   string `json:"spec"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict names filters whose actions cannot be applied together.
type Conflict struct {
	Spec        string   `json:"spec"`
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
}

// SpecPlan is the lint input for one spec: the spec and the number of
// threads each filter (by key) matched during a dry run.
type SpecPlan struct {
	Spec    rules.Spec
	Scanned int
	Hits    map[string]int
}

// LintReport captures findings for CI enforcement.
type LintReport struct {
	Specs    int      `json:"specs"`
	Scanned  int      `json:"scanned"`
	Findings Findings `json:"findings"`
}

// BuildFindings inspects planned specs. existing holds the custom label
// names already present in the account.
func BuildFindings(plans []SpecPlan, existing map[string]bool) LintReport {
	rep := LintReport{Specs: len(plans)}
	missing := map[string]bool{}
	for _, p := range plans {
		rep.Scanned += p.Scanned
		filters := p.Spec.Filters
		if p.Spec.Default != nil {
			filters = append(append([]rules.Filter(nil), filters...), *p.Spec.Default)
		}
		static := make([]labels.Labels, len(filters))
		valid := make([]bool, len(filters))
		for i, f := range filters {
			l, custom, err := labels.Static(f.Actions)
			if err != nil {
				rep.Findings.Conflicts = append(rep.Findings.Conflicts, Conflict{
					Spec:        p.Spec.Name,
					Rules:       []string{f.Name},
					Description: describeConflict(err),
				})
			} else {
				static[i], valid[i] = l, true
			}
			for _, name := range custom {
				if !existing[name] {
					missing[name] = true
				}
			}
		}
		for _, f := range p.Spec.Filters {
			if p.Scanned > 0 && p.Hits[f.Key()] == 0 {
				rep.Findings.DeadRules = append(rep.Findings.DeadRules, RuleFinding{
					Spec:   p.Spec.Name,
					Name:   f.Name,
					Reason: fmt.Sprintf("matched none of %d threads", p.Scanned),
				})
			}
		}
		for i := range p.Spec.Filters {
			for j := i + 1; j < len(p.Spec.Filters); j++ {
				if !valid[i] || !valid[j] {
					continue
				}
				if _, err := static[i].Combine(static[j]); err != nil {
					rep.Findings.Conflicts = append(rep.Findings.Conflicts, Conflict{
						Spec:        p.Spec.Name,
						Rules:       []string{filters[i].Name, filters[j].Name},
						Description: describeConflict(err),
					})
				}
			}
		}
	}
	for name := range missing {
		rep.Findings.MissingLabels = append(rep.Findings.MissingLabels, name)
	}
	sort.Strings(rep.Findings.MissingLabels)
	return rep
}

func describeConflict(err error) string {
	var ie *labels.IntersectionError
	if errors.As(err, &ie) {
		return "same labels added and removed: " + joinLabelIDs(ie)
	}
	return err.Error()
}

func joinLabelIDs(ie *labels.IntersectionError) string {
	parts := make([]string, 0, len(ie.IDs))
	for _, id := range ie.IDs {
		parts = append(parts, string(id))
	}
	return strings.Join(parts, ", ")
}

// Empty reports whether lint found nothing.
func (f Findings) Empty() bool {
	return len(f.DeadRules) == 0 && len(f.MissingLabels) == 0 && len(f.Conflicts) == 0
}

// ShouldFail reports whether any of the requested conditions are present.
func (lr LintReport) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		FailDead:         len(lr.Findings.DeadRules) > 0,
		FailMissingLabel: len(lr.Findings.MissingLabels) > 0,
		FailConflict:     len(lr.Findings.Conflicts) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (lr LintReport) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "sieve lint: %d specs (%d threads checked)\n", lr.Specs, lr.Scanned)
	if lr.Findings.Empty() {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	if len(lr.Findings.DeadRules) > 0 {
		builder.WriteString("dead rules:\n")
		sorted := append([]RuleFinding(nil), lr.Findings.DeadRules...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Spec != sorted[j].Spec {
				return sorted[i].Spec < sorted[j].Spec
			}
			return sorted[i].Name < sorted[j].Name
		})
		for _, fr := range sorted {
			fmt.Fprintf(builder, "  %s/%s: %s\n", fr.Spec, fr.Name, fr.Reason)
		}
	}
	if len(lr.Findings.MissingLabels) > 0 {
		builder.WriteString("missing labels:\n")
		for _, lbl := range lr.Findings.MissingLabels {
			fmt.Fprintf(builder, "  %s\n", lbl)
		}
	}
	if len(lr.Findings.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range lr.Findings.Conflicts {
			fmt.Fprintf(builder, "  %s/%s: %s\n", cf.Spec, strings.Join(cf.Rules, ", "), cf.Description)
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens and
// rejects unknown conditions.
func ParseFailOn(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		switch part {
		case "":
			continue
		case FailDead, FailMissingLabel, FailConflict:
			out = append(out, part)
		default:
			return nil, fmt.Errorf("unknown fail-on condition %q", part)
		}
	}
	return out, nil
}
