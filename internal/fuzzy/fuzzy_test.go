package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncludes(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		test      string
		want      bool
	}{
		{name: "exact", candidate: "mattie@tt.com", test: "mattie@tt.com", want: true},
		{name: "case", candidate: "Mattie@TT.com", test: "mattie@tt.COM", want: true},
		{name: "substring", candidate: "mattie@tt.com", test: "tt", want: true},
		{name: "no-match", candidate: "other@example.com", test: "tt", want: false},
		{name: "superstring-test", candidate: "tt", test: "mattie@tt.com", want: false},
		{name: "glob-star", candidate: "news-weekly@example.com", test: "news*@example.com", want: true},
		{name: "glob-unanchored", candidate: "Weekly <news@example.com>", test: "news@*.com", want: true},
		{name: "glob-question", candidate: "build #42 failed", test: "#4? FAILED", want: true},
		{name: "glob-literal-dot", candidate: "newsXexample", test: "news*.example", want: false},
		{name: "empty-test-empty-candidate", candidate: "", test: "", want: true},
		{name: "empty-test", candidate: "anything", test: "", want: false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Includes(tc.candidate, tc.test))
		})
	}
}

func TestMatch(t *testing.T) {
	candidates := []string{"alice@example.com", "bob@corp.io"}

	assert.True(t, Match(candidates, "corp"))
	assert.True(t, Match(candidates, "nobody", "ALICE"))
	assert.False(t, Match(candidates, "carol"))
	assert.False(t, Match(nil, "alice"), "empty candidate set never matches")
	assert.False(t, Match(candidates), "no test values never match")
}
