package gmailctl

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joshsymonds/sieve/internal/gmail"
	"github.com/joshsymonds/sieve/internal/rules"
)

var angleBracketRe = regexp.MustCompile(`^[<\s]*(.*?)[>\s]*$`)

const listIDMatchGroups = 2

// Skipped names a gmailctl filter that has no sieve equivalent.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ToSpec converts the evaluable part of an export into one spec. Filters
// using negations, operators other than from/to/cc/bcc/subject/list, or only
// forwarding are skipped and reported.
func ToSpec(c Compiled, name, query string) (rules.Spec, []Skipped) {
	labelNames := c.labelNames()
	spec := rules.Spec{Name: name, Query: query}
	var skipped []Skipped
	used := map[string]int{}
	for _, filt := range c.Rules {
		filterName := ruleName(filt)
		criteria, ok := buildCriteria(filt.Criteria)
		if !ok {
			skipped = append(skipped, Skipped{Name: filterName, Reason: "criteria cannot be expressed as header matches"})
			continue
		}
		actions := mapActions(filt.Action, labelNames)
		if len(actions) == 0 {
			skipped = append(skipped, Skipped{Name: filterName, Reason: "no label actions"})
			continue
		}
		// filter names double as map keys in the rule file
		used[filterName]++
		if n := used[filterName]; n > 1 {
			filterName = filterName + "-" + strconv.Itoa(n)
		}
		spec.Filters = append(spec.Filters, rules.NewFilter(filterName, actions, criteria...))
	}
	return spec, skipped
}

func ruleName(filt Rule) string {
	if n := strings.TrimSpace(filt.Name); n != "" {
		return n
	}
	if id := strings.TrimSpace(filt.ID); id != "" {
		return id
	}
	return describeCriteria(filt.Criteria)
}

func buildCriteria(c Criteria) ([]rules.Criterion, bool) {
	var out []rules.Criterion
	add := func(header string, values []string) {
		if len(values) > 0 {
			out = append(out, rules.Headers(header, values...))
		}
	}
	add("from", splitCandidates(c.From))
	add("to", splitCandidates(c.To))
	add("cc", splitCandidates(c.Cc))
	add("bcc", splitCandidates(c.Bcc))
	add("subject", splitCandidates(c.Subject))
	if lid := normalizeListID(c.List); lid != "" {
		add("list-id", []string{lid})
	}
	if strings.TrimSpace(c.Query) != "" {
		qc, ok := parseQuery(c.Query)
		if !ok {
			return nil, false
		}
		out = append(out, qc...)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func parseQuery(query string) ([]rules.Criterion, bool) {
	var out []rules.Criterion
	for _, raw := range strings.Fields(query) {
		tok := normalizeQueryToken(raw)
		if tok.skip {
			continue
		}
		if tok.invalid {
			return nil, false
		}
		c, ok := criterionFromToken(tok.value)
		if !ok {
			return nil, false
		}
		out = append(out, c)
	}
	return out, len(out) > 0
}

type queryToken struct {
	value   string
	skip    bool
	invalid bool
}

func normalizeQueryToken(raw string) queryToken {
	trimmed := strings.Trim(raw, "()\"'")
	if trimmed == "" || strings.EqualFold(trimmed, "OR") {
		return queryToken{skip: true}
	}
	if strings.HasPrefix(trimmed, "-") {
		return queryToken{invalid: true}
	}
	return queryToken{value: trimmed}
}

func criterionFromToken(token string) (rules.Criterion, bool) {
	key, val, ok := strings.Cut(token, ":")
	if !ok {
		return rules.Criterion{}, false
	}
	var header string
	switch strings.ToLower(key) {
	case "list":
		lid := normalizeListID(val)
		if lid == "" {
			return rules.Criterion{}, false
		}
		return rules.Headers("list-id", lid), true
	case "from", "to", "subject", "cc", "bcc":
		header = strings.ToLower(key)
	default:
		return rules.Criterion{}, false
	}
	vals := splitCandidates(val)
	if len(vals) == 0 {
		return rules.Criterion{}, false
	}
	return rules.Headers(header, vals...), true
}

func mapActions(action Action, labelNames map[string]string) []string {
	var out []string
	for _, id := range action.RemoveLabelIDs {
		switch gmail.LabelID(id) {
		case gmail.LabelInbox:
			out = append(out, "archive")
		case gmail.LabelUnread:
			out = append(out, "read")
		case gmail.LabelImportant:
			out = append(out, "unimportant")
		case gmail.LabelSpam:
			out = append(out, "unspam")
		}
	}
	var custom []string
	for _, id := range action.AddLabelIDs {
		switch gmail.LabelID(id) {
		case gmail.LabelStarred:
			out = append(out, "star")
		case gmail.LabelTrash:
			out = append(out, "trash")
		case gmail.LabelSpam:
			out = append(out, "spam")
		case gmail.LabelImportant:
			out = append(out, "important")
		default:
			if name, ok := labelNames[id]; ok && name != "" {
				custom = append(custom, name)
			}
		}
	}
	sort.Strings(custom)
	return append(out, custom...)
}

func splitCandidates(raw string) []string {
	replacer := strings.NewReplacer(",", " ", ";", " ", "|", " ", "{", " ", "}", " ")
	raw = strings.TrimSpace(replacer.Replace(raw))
	if raw == "" {
		return nil
	}
	parts := strings.Fields(raw)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.Trim(part, "\"'()"))
		if part == "" || strings.EqualFold(part, "OR") {
			continue
		}
		out = append(out, part)
	}
	return out
}

func normalizeListID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if matches := angleBracketRe.FindStringSubmatch(raw); len(matches) == listIDMatchGroups {
		raw = matches[1]
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, ">")
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.Trim(raw, "\" ")
	return strings.ToLower(raw)
}

func describeCriteria(c Criteria) string {
	if c.From != "" {
		return "from:" + strings.TrimSpace(c.From)
	}
	if c.List != "" {
		return "list:" + strings.TrimSpace(c.List)
	}
	if c.Subject != "" {
		return "subject:" + strings.TrimSpace(c.Subject)
	}
	if c.Query != "" {
		return strings.TrimSpace(c.Query)
	}
	return "gmailctl-rule"
}
