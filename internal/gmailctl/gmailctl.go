// Package gmailctl imports filters compiled by gmailctl as sieve rules.
package gmailctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/joshsymonds/sieve/internal/rules"
)

// Compiled is the document printed by `gmailctl compile --format=json`.
// Only the fields sieve can translate are decoded.
type Compiled struct {
	Rules  []Rule      `json:"filters"`
	Labels []UserLabel `json:"labels"`
}

// Rule is one compiled Gmail filter.
type Rule struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Criteria Criteria `json:"criteria"`
	Action   Action   `json:"action"`
}

// Criteria holds the search operators of a rule. Address operators may
// carry several candidates ("{a b}", "a OR b").
type Criteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Bcc     string `json:"bcc,omitempty"`
	Subject string `json:"subject,omitempty"`
	List    string `json:"list,omitempty"`
	Query   string `json:"query,omitempty"`
}

// Action is expressed in label ids; custom ids are named by Labels.
type Action struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

type UserLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c Compiled) labelNames() map[string]string {
	names := make(map[string]string, len(c.Labels))
	for _, l := range c.Labels {
		if l.ID != "" && l.Name != "" {
			names[l.ID] = l.Name
		}
	}
	return names
}

// Decode reads compile output. A document without rules has nothing to
// import and is an error.
func Decode(r io.Reader) (Compiled, error) {
	var c Compiled
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Compiled{}, fmt.Errorf("decode gmailctl output: %w", err)
	}
	if len(c.Rules) == 0 {
		return Compiled{}, errors.New("gmailctl compiled no filters")
	}
	return c, nil
}

// Runner invokes the gmailctl binary.
type Runner struct {
	Binary    string
	ConfigDir string
}

func (r Runner) command(ctx context.Context) *exec.Cmd {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if dir := strings.TrimSpace(r.ConfigDir); dir != "" {
		args = append(args, "--config", dir)
	}
	return exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary chosen by the user
}

// Compile runs gmailctl. Stdout carries the document; stderr is only
// reported when the command fails.
func (r Runner) Compile(ctx context.Context) (Compiled, error) {
	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Compiled{}, fmt.Errorf("run gmailctl: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return Decode(&stdout)
}

// Import compiles the gmailctl config and converts it into a single spec.
func (r Runner) Import(ctx context.Context, name, query string) (rules.Spec, []Skipped, error) {
	c, err := r.Compile(ctx)
	if err != nil {
		return rules.Spec{}, nil, err
	}
	spec, skipped := ToSpec(c, name, query)
	if len(spec.Filters) == 0 {
		return spec, skipped, fmt.Errorf("none of %d gmailctl filters could be converted", len(c.Rules))
	}
	return spec, skipped, nil
}
