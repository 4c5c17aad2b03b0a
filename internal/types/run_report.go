package types

import (
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a run
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerFAB      Trigger = "fab"
	TriggerObserver Trigger = "observer"
	TriggerPageLoad Trigger = "page_load"
)

// RunReport is everything the review surface shows for one run
type RunReport struct {
	ID          uuid.UUID             `json:"id"`
	PageURL     string                `json:"page_url"`
	Platform    string                `json:"platform"`
	Trigger     Trigger               `json:"trigger"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	Fields      int                   `json:"fields"`
	Warnings    []string              `json:"warnings,omitempty"`
	Fill        *FillResult           `json:"fill"`
	Attach      *DocumentAttachResult `json:"attach,omitempty"`
}

// FieldsFilled counts verified and uncertain fills plus attached documents.
func (r *RunReport) FieldsFilled() int {
	n := 0
	if r.Fill != nil {
		n += r.Fill.Filled + r.Fill.Uncertain
	}
	if r.Attach != nil {
		n += r.Attach.Attached
	}
	return n
}
