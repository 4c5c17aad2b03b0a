package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/types"
)

func sampleReport() *types.RunReport {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &types.RunReport{
		ID:          uuid.MustParse("5f0c1e2a-8a6b-4f55-9d2e-3b1a0c9d7e61"),
		PageURL:     "https://boards.greenhouse.io/acme/jobs/1",
		Platform:    "greenhouse",
		Trigger:     types.TriggerFAB,
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
		Fields:      4,
		Warnings:    []string{"1 field(s) could not be classified"},
		Fill: &types.FillResult{
			Total: 3, Filled: 1, Skipped: 1, Failed: 1,
			Details: []types.FillDetail{
				{FieldIndex: 0, Label: "First Name", ProfileKey: "firstName", Status: types.DetailFilled},
				{FieldIndex: 1, Label: "Favourite colour", Status: types.DetailSkipped, Error: "ambiguous: no confident mapping"},
				{FieldIndex: 2, Status: types.DetailFailed, Error: "element detached"},
			},
		},
		Attach: &types.DocumentAttachResult{
			Total: 1, Attached: 1,
			Details: []types.AttachDetail{
				{FieldLabel: "Resume/CV", DocumentType: "resume", Status: types.AttachAttached, Method: types.AttachViaDataTransfer},
			},
		},
	}
}

func TestPrintRunReport(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRunReport(sampleReport())
	output := buf.String()

	assert.Contains(t, output, "AUTOFILL RUN 5f0c1e2a")
	assert.Contains(t, output, "greenhouse")
	assert.Contains(t, output, "Duration:  1.5s")
	assert.Contains(t, output, "WARNINGS")
	assert.Contains(t, output, "⚠ 1 field(s) could not be classified")
	assert.Contains(t, output, "✓ First Name → firstName")
	assert.Contains(t, output, "✗ field #2")
	assert.Contains(t, output, "element detached")
	assert.Contains(t, output, "DOCUMENTS")
	assert.Contains(t, output, "✓ Resume/CV (resume) via datatransfer")

	// failures are listed before successes
	assert.Less(t, strings.Index(output, "field #2"), strings.Index(output, "First Name"))
}

func TestPrintRunReport_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRunReport(nil)
	assert.Empty(t, buf.String())
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("é", 100))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Equal(t, boxWidth, len([]rune(line)), line)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestPrintClassification(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintClassification([]types.MappedField{
		{Descriptor: types.FieldDescriptor{Index: 0, Label: "Email"}, ProfileKey: "email", FillMethod: types.MethodText, Confidence: 1, Status: types.StatusMapped},
		{Descriptor: types.FieldDescriptor{Index: 1, Label: "Why us?"}, FillMethod: types.MethodText, Status: types.StatusAmbiguous},
	})
	output := buf.String()

	assert.Contains(t, output, "Mapped: 1  No data: 0  Ambiguous: 1")
	assert.Contains(t, output, "#0   Email → email [text 1.00]")
	assert.Contains(t, output, "Why us? → ambiguous")
}

func TestPrintPatterns(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintPatterns("healthcare", patterns.GetActiveFieldPatterns("healthcare"))
	output := buf.String()

	assert.Contains(t, output, "PATTERNS: HEALTHCARE")
	assert.Contains(t, output, "Pattern rules:")
	assert.Contains(t, output, "... and")
}

func TestPrintResolution(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintResolution(&fetch.Resolution{
		InputURL:      "https://short.example/x",
		ResolvedURL:   "https://jobs.lever.co/acme/123",
		WasRedirected: true,
		HopsFollowed:  2,
	})
	output := buf.String()

	assert.Contains(t, output, "Hops:        2")
	assert.Contains(t, output, "Platform:    lever")
}
