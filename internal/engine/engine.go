// Package engine evaluates filters against conversations and groups the
// outcomes into changes that can be applied in bulk.
package engine

import (
	"fmt"

	"github.com/joshsymonds/sieve/internal/conversation"
	"github.com/joshsymonds/sieve/internal/fuzzy"
	"github.com/joshsymonds/sieve/internal/rules"
)

// Mode selects how matches across the messages of one thread combine.
type Mode string

const (
	// ModeAccumulate applies every distinct filter matched by any message.
	ModeAccumulate Mode = "accumulate"
	// ModeFirst applies only the filter matched by the earliest matching message.
	ModeFirst Mode = "first"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAccumulate:
		return ModeAccumulate, nil
	case ModeFirst:
		return ModeFirst, nil
	default:
		return "", fmt.Errorf("unknown match mode %q (want %s or %s)", s, ModeAccumulate, ModeFirst)
	}
}

// Matches reports whether every criterion of f holds for m. A criterion with
// no values is no constraint. A filter without criteria matches everything.
func Matches(f rules.Filter, m conversation.Message) bool {
	for _, c := range f.Criteria {
		if len(c.Values) == 0 {
			continue
		}
		if !m.Has(c.Header) {
			return false
		}
		if !fuzzy.Match(m.Values(c.Header), c.Values...) {
			return false
		}
	}
	return true
}

// Engine holds the ordered filters of one spec.
type Engine struct {
	Rules   []rules.Filter
	Default *rules.Filter
	Mode    Mode
}

func New(rs []rules.Filter, def *rules.Filter, mode Mode) *Engine {
	if mode == "" {
		mode = ModeAccumulate
	}
	return &Engine{Rules: rs, Default: def, Mode: mode}
}

// MatchMessage returns the first filter, in declared order, that matches m.
func (e *Engine) MatchMessage(m conversation.Message) (rules.Filter, bool) {
	for _, f := range e.Rules {
		if Matches(f, m) {
			return f, true
		}
	}
	return rules.Filter{}, false
}

// MatchThread returns the filters that apply to t, deduplicated and in the
// order they were first matched. When nothing matched, the default filter
// (if any) is returned instead.
func (e *Engine) MatchThread(t conversation.Thread) []rules.Filter {
	var (
		out  []rules.Filter
		seen = map[string]struct{}{}
	)
	for _, m := range t.Messages {
		f, ok := e.MatchMessage(m)
		if !ok {
			continue
		}
		if _, dup := seen[f.Key()]; dup {
			continue
		}
		seen[f.Key()] = struct{}{}
		out = append(out, f)
		if e.Mode == ModeFirst {
			break
		}
	}
	if len(out) == 0 && e.Default != nil {
		return []rules.Filter{*e.Default}
	}
	return out
}
