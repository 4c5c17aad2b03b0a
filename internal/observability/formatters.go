// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

var statusIcons = map[types.DetailStatus]string{
	types.DetailFilled:          "✓",
	types.DetailFilledUncertain: "~",
	types.DetailSkipped:         "-",
	types.DetailFailed:          "✗",
	types.DetailNeedsReview:     "?",
}

// PrintRunReport outputs the full accounting of one autofill run.
func (p *Printer) PrintRunReport(r *types.RunReport) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Page:      %s\n", r.PageURL))
	sb.WriteString(fmt.Sprintf("Platform:  %s\n", r.Platform))
	sb.WriteString(fmt.Sprintf("Trigger:   %s\n", r.Trigger))
	sb.WriteString(fmt.Sprintf("Fields:    %d\n", r.Fields))
	if !r.CompletedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Duration:  %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond)))
	}
	if f := r.Fill; f != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Filled:    %d (%d unverified)\n", f.Filled+f.Uncertain, f.Uncertain))
		sb.WriteString(fmt.Sprintf("Skipped:   %d\n", f.Skipped))
		sb.WriteString(fmt.Sprintf("Failed:    %d\n", f.Failed))
		sb.WriteString(fmt.Sprintf("Needs AI:  %d\n", f.NeedsAI))
		sb.WriteString(fmt.Sprintf("Files:     %d\n", f.NeedsFile))
	}
	p.printBox("AUTOFILL RUN "+shortID(r), sb.String())

	if len(r.Warnings) > 0 {
		p.PrintWarnings(r.Warnings)
	}
	p.PrintFillResult(r.Fill)
	p.PrintAttachResult(r.Attach)
}

func shortID(r *types.RunReport) string {
	id := r.ID.String()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PrintWarnings outputs classification warnings.
func (p *Printer) PrintWarnings(warnings []string) {
	var sb strings.Builder
	for _, w := range warnings {
		sb.WriteString(fmt.Sprintf("⚠ %s\n", w))
	}
	p.printBox("WARNINGS", sb.String())
}

// PrintFillResult outputs one line per field, grouped by status.
func (p *Printer) PrintFillResult(res *types.FillResult) {
	if res == nil || len(res.Details) == 0 {
		return
	}

	details := append([]types.FillDetail(nil), res.Details...)
	order := map[types.DetailStatus]int{
		types.DetailFailed:          0,
		types.DetailNeedsReview:     1,
		types.DetailFilledUncertain: 2,
		types.DetailSkipped:         3,
		types.DetailFilled:          4,
	}
	sort.SliceStable(details, func(i, j int) bool {
		return order[details[i].Status] < order[details[j].Status]
	})

	var sb strings.Builder
	for _, d := range details {
		label := d.Label
		if label == "" {
			label = fmt.Sprintf("field #%d", d.FieldIndex)
		}
		sb.WriteString(fmt.Sprintf("%s %s", statusIcons[d.Status], label))
		if d.ProfileKey != "" {
			sb.WriteString(fmt.Sprintf(" → %s", d.ProfileKey))
		}
		sb.WriteString("\n")
		if d.Error != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", d.Error))
		}
	}
	p.printBox("FIELDS", sb.String())
}

// PrintAttachResult outputs one line per file field.
func (p *Printer) PrintAttachResult(res *types.DocumentAttachResult) {
	if res == nil || res.Total == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Attached %d of %d\n\n", res.Attached, res.Total))
	for _, d := range res.Details {
		icon := "✗"
		switch d.Status {
		case types.AttachAttached:
			icon = "✓"
		case types.AttachSkipped:
			icon = "-"
		}
		sb.WriteString(fmt.Sprintf("%s %s (%s)", icon, d.FieldLabel, d.DocumentType))
		if d.Method != "" {
			sb.WriteString(fmt.Sprintf(" via %s", d.Method))
		}
		sb.WriteString("\n")
		if d.Error != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", d.Error))
		}
	}
	p.printBox("DOCUMENTS", sb.String())
}

// PrintClassification outputs the mapping chosen for each field.
func (p *Printer) PrintClassification(fields []types.MappedField) {
	if len(fields) == 0 {
		return
	}

	var sb strings.Builder
	counts := make(map[types.MappingStatus]int)
	for _, f := range fields {
		counts[f.Status]++
	}
	sb.WriteString(fmt.Sprintf("Mapped: %d  No data: %d  Ambiguous: %d\n\n",
		counts[types.StatusMapped], counts[types.StatusNoData], counts[types.StatusAmbiguous]))

	for _, f := range fields {
		key := f.ProfileKey
		if key == "" {
			key = string(f.Status)
		}
		sb.WriteString(fmt.Sprintf("#%-3d %s → %s [%s %.2f]\n",
			f.Index(), f.Descriptor.Identifier(), key, f.FillMethod, f.Confidence))
	}
	p.printBox("CLASSIFICATION", sb.String())
}

// PrintPatterns outputs the rule counts and leading keys of a pattern set.
func (p *Printer) PrintPatterns(industry string, set *patterns.PatternSet) {
	if set == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pattern rules:        %d\n", len(set.FieldMap)))
	sb.WriteString(fmt.Sprintf("Strict rules:         %d\n", len(set.StrictFieldMap)))
	sb.WriteString(fmt.Sprintf("Exact names:          %d\n", len(set.ExactNameMap)))
	sb.WriteString(fmt.Sprintf("Automation ids:       %d\n", len(set.DataAutomationMap)))

	keys := patterns.Keys(set.FieldMap)
	if len(keys) > 0 {
		sb.WriteString("\nFirst keys:\n")
		count := min(len(keys), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", keys[i]))
		}
		if len(keys) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(keys)-maxItemsToShow))
		}
	}

	if industry == "" {
		industry = patterns.NoneID
	}
	p.printBox("PATTERNS: "+strings.ToUpper(industry), sb.String())
}

// PrintResolution outputs the result of following an apply link.
func (p *Printer) PrintResolution(r *fetch.Resolution) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Input:       %s\n", r.InputURL))
	sb.WriteString(fmt.Sprintf("Resolved:    %s\n", r.ResolvedURL))
	sb.WriteString(fmt.Sprintf("Redirected:  %t\n", r.WasRedirected))
	sb.WriteString(fmt.Sprintf("Hops:        %d\n", r.HopsFollowed))
	sb.WriteString(fmt.Sprintf("Platform:    %s\n", fetch.DetectPlatform(r.ResolvedURL)))
	p.printBox("APPLY LINK", sb.String())
}
