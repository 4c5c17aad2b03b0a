// Package classifier maps scanned form fields to canonical profile keys.
// Registry patterns resolve what they can; the rest is batched to a remote
// classifier whose answers are accepted above a confidence threshold.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/types"
)

const (
	// DefaultMinAIConfidence is the lowest remote confidence accepted as a mapping.
	DefaultMinAIConfidence = 0.2
	// DefaultBatchSize is the number of fields sent per remote call.
	DefaultBatchSize = 25
)

// Classifier resolves descriptors to mapped fields.
type Classifier struct {
	remote        Remote
	logger        zerolog.Logger
	minConfidence float64
	batchSize     int
	openEndedAI   bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithRemote enables the AI fallback pass.
func WithRemote(r Remote) Option {
	return func(c *Classifier) { c.remote = r }
}

// WithLogger sets the classifier's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithMinConfidence overrides DefaultMinAIConfidence. Values outside (0,1] are ignored.
func WithMinConfidence(v float64) Option {
	return func(c *Classifier) {
		if v > 0 && v <= 1 {
			c.minConfidence = v
		}
	}
}

// WithBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func WithBatchSize(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithOpenEndedAI routes unresolved free-text questions to answer generation.
func WithOpenEndedAI(on bool) Option {
	return func(c *Classifier) { c.openEndedAI = on }
}

// New creates a classifier. Without WithRemote only the deterministic pass runs.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		logger:        zerolog.Nop(),
		minConfidence: DefaultMinAIConfidence,
		batchSize:     DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "classifier").Logger()
	return c
}

// Result is the classifier output for one scan.
type Result struct {
	// Fields holds one mapped field per descriptor, in descriptor order.
	Fields   []types.MappedField
	Warnings []string
	// AIErr joins every remote failure. Affected fields stay ambiguous.
	AIErr error
}

// FileFields returns the fields that need a document attached.
func (r *Result) FileFields() []types.MappedField {
	var out []types.MappedField
	for _, f := range r.Fields {
		if f.RequiresFile {
			out = append(out, f)
		}
	}
	return out
}

// CountBy returns how many fields carry status.
func (r *Result) CountBy(status types.MappingStatus) int {
	n := 0
	for _, f := range r.Fields {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Classify maps descriptors without page context.
func (c *Classifier) Classify(ctx context.Context, descriptors []types.FieldDescriptor, set *patterns.PatternSet, p *profile.Profile) *Result {
	return c.ClassifyPage(ctx, fetch.PageContext{}, descriptors, set, p)
}

// ClassifyPage maps descriptors found on a page. It never fails: remote
// errors leave the affected fields ambiguous and are reported in AIErr.
func (c *Classifier) ClassifyPage(ctx context.Context, page fetch.PageContext, descriptors []types.FieldDescriptor, set *patterns.PatternSet, p *profile.Profile) *Result {
	if set == nil {
		set = patterns.GetActiveFieldPatterns()
	}
	result := &Result{Fields: make([]types.MappedField, 0, len(descriptors))}

	var unresolved []int
	for _, d := range descriptors {
		field := c.classifyDeterministic(d, set, p)
		if field.Status == types.StatusAmbiguous {
			unresolved = append(unresolved, len(result.Fields))
		}
		result.Fields = append(result.Fields, field)
	}

	if len(unresolved) > 0 && c.remote != nil {
		result.AIErr = c.classifyRemote(ctx, page, result.Fields, unresolved, p)
		if result.AIErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("AI classification degraded: %v", result.AIErr))
		}
	}

	for _, i := range unresolved {
		f := &result.Fields[i]
		if f.Status != types.StatusAmbiguous {
			continue
		}
		if c.openEndedAI && IsOpenEnded(f.Descriptor) {
			f.FillMethod = types.MethodAIGenerate
			f.RequiresAI = true
		}
	}

	if n := result.CountBy(types.StatusAmbiguous); n > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d field(s) could not be classified", n))
	}

	c.logger.Debug().
		Int("fields", len(result.Fields)).
		Int("mapped", result.CountBy(types.StatusMapped)).
		Int("no_data", result.CountBy(types.StatusNoData)).
		Int("ambiguous", result.CountBy(types.StatusAmbiguous)).
		Msg("classified fields")
	return result
}

func (c *Classifier) classifyDeterministic(d types.FieldDescriptor, set *patterns.PatternSet, p *profile.Profile) types.MappedField {
	field := types.MappedField{
		Descriptor: d,
		FillMethod: InferMethod(d),
		Status:     types.StatusAmbiguous,
	}

	if field.FillMethod == types.MethodFile {
		field.RequiresFile = true
		field.DocumentType = patterns.InferDocumentType(documentText(d))
		field.Status = types.StatusMapped
		field.Source = types.SourcePattern
		field.Confidence = PatternConfidence
		return field
	}

	m, ok := MatchField(d, set)
	if !ok {
		return field
	}
	field.ProfileKey = m.Key
	field.Source = m.Source
	field.Confidence = m.Confidence
	if v := p.Value(m.Key); v != "" {
		field.Value = v
		field.Status = types.StatusMapped
	} else {
		field.Status = types.StatusNoData
	}
	return field
}

// classifyRemote sends the unresolved fields in batches and applies accepted answers in place.
func (c *Classifier) classifyRemote(ctx context.Context, page fetch.PageContext, fields []types.MappedField, unresolved []int, p *profile.Profile) error {
	var errs []error
	for start := 0; start < len(unresolved); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		end := min(start+c.batchSize, len(unresolved))
		batch := unresolved[start:end]

		byIndex := make(map[int]int, len(batch))
		descriptors := make([]types.FieldDescriptor, 0, len(batch))
		for _, i := range batch {
			byIndex[fields[i].Descriptor.Index] = i
			descriptors = append(descriptors, fields[i].Descriptor)
		}

		answers, err := c.remote.Classify(ctx, NewRequest(page, descriptors, p))
		if err != nil {
			c.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("remote classification failed")
			errs = append(errs, err)
			continue
		}

		accepted := 0
		for _, a := range answers {
			i, ok := byIndex[a.Index]
			if !ok || a.Value == "" || a.Confidence < c.minConfidence {
				continue
			}
			f := &fields[i]
			f.ProfileKey = a.Key
			f.Value = a.Value
			f.Confidence = a.Confidence
			f.Source = types.SourceAI
			f.Status = types.StatusMapped
			accepted++
		}
		c.logger.Debug().Int("batch_size", len(batch)).Int("accepted", accepted).Msg("remote classification batch")
	}
	return errors.Join(errs...)
}
