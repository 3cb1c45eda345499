package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/commonwealth-builders/treasury/internal/audit"
)

// ExitGapsFound is returned when the audit trail is missing entries.
const ExitGapsFound = 10

// IntegrityChecker compares state transitions against audit entries.
type IntegrityChecker interface {
	Integrity(ctx context.Context, from, to time.Time) ([]audit.Gap, error)
}

// IntegrityOptions defines the flags of `audit integrity`.
type IntegrityOptions struct {
	From       time.Time
	To         time.Time
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// IntegritySummary is the JSON output of `audit integrity`.
type IntegritySummary struct {
	OK      bool        `json:"ok"`
	From    time.Time   `json:"from"`
	To      time.Time   `json:"to"`
	Missing int64       `json:"missing"`
	Gaps    []audit.Gap `json:"gaps"`
}

// IntegrityCommand runs the audit integrity check and prints the outcome.
func IntegrityCommand(ctx context.Context, checker IntegrityChecker, opts IntegrityOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if opts.To.IsZero() {
		opts.To = time.Now().UTC()
	}
	if opts.From.IsZero() {
		opts.From = opts.To.Add(-24 * time.Hour)
	}
	gaps, err := checker.Integrity(ctx, opts.From, opts.To)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit integrity: %v\n", err)
		return 1
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Action < gaps[j].Action })
	summary := IntegritySummary{OK: len(gaps) == 0, From: opts.From, To: opts.To, Gaps: gaps}
	for _, g := range gaps {
		summary.Missing += g.Missing
	}
	if summary.Gaps == nil {
		summary.Gaps = []audit.Gap{}
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "audit integrity: encode json: %v\n", err)
			return 1
		}
	} else {
		renderIntegrityHuman(stdout, summary)
	}
	if !summary.OK {
		return ExitGapsFound
	}
	return 0
}

func renderIntegrityHuman(out io.Writer, s IntegritySummary) {
	_, _ = fmt.Fprintf(out, "Audit integrity %s to %s\n", s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	if s.OK {
		_, _ = fmt.Fprintln(out, "Every state transition has an audit entry.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d entries missing across %d action(s):\n", s.Missing, len(s.Gaps))
	for _, g := range s.Gaps {
		_, _ = fmt.Fprintf(out, " - %s: %d transitions, %d entries, %d missing\n", g.Action, g.Transitions, g.Entries, g.Missing)
	}
}
