// Package report renders specs, planned changes and lint findings for the
// command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/sieve/internal/engine"
	"github.com/joshsymonds/sieve/internal/rules"
)

const previewSubjectDisplayLimit = 60

// Format selects a machine-readable encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatHuman Format = "human"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	case FormatHuman, "text":
		return FormatHuman, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// Summary is the "(n messages) subject" line for one thread.
func Summary(messages int, subject string) string {
	return fmt.Sprintf("(%d messages) %s", messages, subject)
}

// ToOutput maps the filter names behind each change to summaries of the
// threads it applies to. Changes backed by the same filters are merged.
func ToOutput(changes []engine.Change) map[string][]string {
	out := make(map[string][]string, len(changes))
	for _, c := range changes {
		key := strings.Join(c.RuleNames(), ", ")
		for _, t := range c.Threads {
			out[key] = append(out[key], Summary(len(t.Messages), t.Subject()))
		}
	}
	return out
}

// SpecChanges is the show-changes view of one spec.
type SpecChanges struct {
	Spec    string              `json:"spec" yaml:"spec"`
	Changes map[string][]string `json:"changes" yaml:"changes"`
}

// PrintChanges writes planned changes per spec.
func PrintChanges(w io.Writer, format Format, views []SpecChanges) error {
	if format != FormatHuman {
		return encode(w, format, views)
	}
	var builder strings.Builder
	for _, v := range views {
		fmt.Fprintf(&builder, "%s:\n", v.Spec)
		if len(v.Changes) == 0 {
			builder.WriteString("  no changes\n")
			continue
		}
		for _, key := range sortedKeys(v.Changes) {
			fmt.Fprintf(&builder, "  %s:\n", key)
			for _, line := range v.Changes[key] {
				fmt.Fprintf(&builder, "    %s\n", truncate(line, previewSubjectDisplayLimit+16))
			}
		}
	}
	return writeString(w, builder.String())
}

// PrintFilters writes the loaded specs. The human form marks filters that
// lack a name, actions or criteria; those without criteria match every
// thread the query returns.
func PrintFilters(w io.Writer, format Format, specs []rules.Spec) error {
	if format != FormatHuman {
		views := make([]rules.SpecView, 0, len(specs))
		for _, s := range specs {
			views = append(views, s.View())
		}
		return encode(w, format, views)
	}
	var builder strings.Builder
	for _, s := range specs {
		maxResults := "default"
		if s.MaxResults > 0 {
			maxResults = fmt.Sprint(s.MaxResults)
		}
		fmt.Fprintf(&builder, "%s (query %q, max_results %s)\n", s.Name, s.Query, maxResults)
		for _, f := range s.Filters {
			marker := " "
			if !f.Complete() {
				marker = "*"
			}
			fmt.Fprintf(&builder, " %s %-24s %s -> %s\n", marker, f.Name, describe(f), strings.Join(f.Actions, ", "))
		}
		if s.Default != nil {
			fmt.Fprintf(&builder, "   %-24s (no filter matched) -> %s\n", "default", strings.Join(s.Default.Actions, ", "))
		}
	}
	builder.WriteString("\n* incomplete filter; without criteria it matches unconditionally\n")
	return writeString(w, builder.String())
}

func describe(f rules.Filter) string {
	if len(f.Criteria) == 0 {
		return "(unconditional)"
	}
	parts := make([]string, 0, len(f.Criteria))
	for _, c := range f.Criteria {
		parts = append(parts, c.Header+"~"+strings.Join(c.Values, "|"))
	}
	return strings.Join(parts, " ")
}

func encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// WriteJSON serializes v to a path relative to the working directory.
func WriteJSON(v any, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	return encode(f, FormatJSON, v)
}

func writeString(w io.Writer, s string) error {
	if w == nil {
		w = os.Stdout
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
