// Package fuzzy implements the loose header matching used by sieve rules.
//
// A test value matches a candidate when it appears anywhere inside it,
// ignoring case. Test values containing the glob metacharacters '*' or '?'
// are treated as unanchored wildcard patterns instead, so "news*@example.com"
// matches "Weekly News <news-weekly@example.com>".
package fuzzy

import (
	"regexp"
	"strings"
	"sync"
)

const globChars = "*?"

var patterns sync.Map // string -> *regexp.Regexp

// Match reports whether any test value matches any candidate. No candidates
// or no tests never match.
func Match(candidates []string, tests ...string) bool {
	for _, test := range tests {
		for _, candidate := range candidates {
			if Includes(candidate, test) {
				return true
			}
		}
	}
	return false
}

// Includes reports whether test matches candidate.
func Includes(candidate, test string) bool {
	if test == "" {
		return candidate == ""
	}
	if strings.ContainsAny(test, globChars) {
		return glob(test).MatchString(candidate)
	}
	return strings.Contains(strings.ToLower(candidate), strings.ToLower(test))
}

func glob(test string) *regexp.Regexp {
	if re, ok := patterns.Load(test); ok {
		return re.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString("(?is)")
	for _, r := range test {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re := regexp.MustCompile(b.String())
	patterns.Store(test, re)
	return re
}
