package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/job-autofill/internal/classifier"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/scanner"
	"github.com/jonathan/job-autofill/internal/types"
)

var (
	// ErrNoGenerator is returned by Redraft when no LLM is configured.
	ErrNoGenerator = errors.New("answer drafting is not configured")
	// ErrNoRun is returned by Redraft before any run has classified the page.
	ErrNoRun = errors.New("no run on this page yet")
	// ErrFieldNotFound is returned by Redraft for an index the last run did not scan.
	ErrFieldNotFound = errors.New("field not found")
	// ErrNotOpenEnded is returned by Redraft for fields that are not free-text questions.
	ErrNotOpenEnded = errors.New("field is not an open-ended question")
)

type lastRun struct {
	page     fetch.PageContext
	snapshot *scanner.Snapshot
	fields   []types.MappedField
}

// Draft is a freshly drafted answer and the outcome of writing it into the page.
type Draft struct {
	Index    int                `json:"index"`
	Question string             `json:"question"`
	Answer   string             `json:"answer"`
	Status   types.DetailStatus `json:"status"`
	Error    string             `json:"error,omitempty"`
}

// Redraft asks the LLM for a new answer to the open-ended field at index of
// the last run and writes it into the page, replacing what the field holds.
func (r *Runner) Redraft(ctx context.Context, index int) (*Draft, error) {
	if r.generator == nil {
		return nil, ErrNoGenerator
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return nil, ErrNoRun
	}
	pos := -1
	for i, f := range r.last.fields {
		if f.Descriptor.Index == index {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("%w: %d", ErrFieldNotFound, index)
	}
	field := r.last.fields[pos]
	if !classifier.IsOpenEnded(field.Descriptor) {
		return nil, fmt.Errorf("%w: %q", ErrNotOpenEnded, field.Descriptor.Identifier())
	}

	p, err := r.profiles.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("profile unavailable: %w", err)
	}
	s := r.settings.Get()
	logger := r.logger.With().Int("field_index", index).Logger()
	question := field.Descriptor.Identifier()
	answer, err := classifier.NewGenerator(r.generator, s, logger).Draft(ctx, r.last.page, p, question)
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return nil, errors.New("the model returned an empty answer")
	}

	field.Value = answer
	field.Source = types.SourceAI
	field.Status = types.StatusMapped
	field.FillMethod = types.MethodText
	field.RequiresAI = false
	r.last.fields[pos] = field

	// The user asked for this answer, so it replaces the current text.
	s.OverwriteExistingValues = true
	res := r.engine(s, logger).FillForm(ctx, r.last.snapshot, []types.MappedField{field})
	draft := &Draft{Index: index, Question: question, Answer: answer}
	if d, ok := res.Detail(index); ok {
		draft.Status, draft.Error = d.Status, d.Error
	}
	logger.Info().Str("status", string(draft.Status)).Msg("answer redrafted")
	return draft, nil
}
