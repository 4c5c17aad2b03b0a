package types

import "time"

// DocumentEntry references an uploadable artifact held by the remote profile.
// The engine only reads entries.
type DocumentEntry struct {
	Type       string     `json:"type" validate:"required"`
	Label      string     `json:"label"`
	URL        string     `json:"url" validate:"required,url"`
	FileName   string     `json:"fileName"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the document is past its expiration at now.
func (d DocumentEntry) Expired(now time.Time) bool {
	return d.Expiration != nil && d.Expiration.Before(now)
}

// AttachStatus is the outcome of one file field
type AttachStatus string

const (
	AttachAttached       AttachStatus = "attached"
	AttachNoDocument     AttachStatus = "no_document"
	AttachDownloadFailed AttachStatus = "download_failed"
	AttachFailed         AttachStatus = "attach_failed"
	AttachSkipped        AttachStatus = "skipped"
)

// AttachMethod is how a file reached the page
type AttachMethod string

const (
	AttachViaDataTransfer AttachMethod = "datatransfer"
	AttachViaDropZone     AttachMethod = "dropzone"
)

// AttachDetail records one attachment attempt
type AttachDetail struct {
	FieldIndex   int          `json:"field_index"`
	FieldLabel   string       `json:"field_label"`
	DocumentType string       `json:"document_type"`
	FileName     string       `json:"file_name,omitempty"`
	Status       AttachStatus `json:"status"`
	Method       AttachMethod `json:"method,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// DocumentAttachResult aggregates every attachment attempt of a run
type DocumentAttachResult struct {
	Total    int            `json:"total"`
	Attached int            `json:"attached"`
	Failed   int            `json:"failed"`
	Skipped  int            `json:"skipped"`
	Details  []AttachDetail `json:"details"`
}

// Record appends a detail and updates the counters.
func (r *DocumentAttachResult) Record(d AttachDetail) {
	r.Total++
	r.Details = append(r.Details, d)
	switch d.Status {
	case AttachAttached:
		r.Attached++
	case AttachSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}
