package types

// DetailStatus is the outcome of one field in a fill run
type DetailStatus string

const (
	DetailFilled          DetailStatus = "filled"
	DetailFilledUncertain DetailStatus = "filled_uncertain"
	DetailSkipped         DetailStatus = "skipped"
	DetailFailed          DetailStatus = "failed"
	DetailNeedsReview     DetailStatus = "needs_review"
)

// FillDetail records what happened to a single field
type FillDetail struct {
	FieldIndex int          `json:"field_index"`
	Label      string       `json:"label"`
	ProfileKey string       `json:"profile_key,omitempty"`
	FillMethod FillMethod   `json:"fill_method"`
	Status     DetailStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
}

// FillResult is the aggregate outcome of one autofill invocation.
// It lives only until the review surface is closed or a new run starts.
type FillResult struct {
	Total     int          `json:"total"`
	Filled    int          `json:"filled"`
	Uncertain int          `json:"uncertain"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	NeedsAI   int          `json:"needs_ai"`
	NeedsFile int          `json:"needs_file"`
	Details   []FillDetail `json:"details"`
}

// NewFillResult returns an empty result sized for total fields.
func NewFillResult(total int) *FillResult {
	return &FillResult{
		Total:   total,
		Details: make([]FillDetail, 0, total),
	}
}

// Record appends a detail and updates the counters.
// needsAI and needsFile are counted by the caller's skip rules.
func (r *FillResult) Record(d FillDetail) {
	r.Details = append(r.Details, d)
	switch d.Status {
	case DetailFilled:
		r.Filled++
	case DetailFilledUncertain:
		r.Uncertain++
	case DetailSkipped:
		r.Skipped++
	case DetailFailed:
		r.Failed++
	}
}

// Detail returns the detail recorded for a field index.
func (r *FillResult) Detail(index int) (FillDetail, bool) {
	for _, d := range r.Details {
		if d.FieldIndex == index {
			return d, true
		}
	}
	return FillDetail{}, false
}
