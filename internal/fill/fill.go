// Package fill performs the ordered, verified DOM writes of an autofill run.
package fill

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/clock"
	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// Lookup resolves descriptor indexes to live elements; *scanner.Snapshot implements it.
type Lookup interface {
	Element(index int) (dom.Element, bool)
	Group(index int) []dom.Element
}

// Outcome is the verdict of one fill attempt.
type Outcome int

const (
	// Filled means the value was written and read back.
	Filled Outcome = iota
	// FilledUncertain means the value was written but could not be verified.
	FilledUncertain
	// Failed means the element rejected every attempt.
	Failed
)

// attempt is the tagged result of filling one field.
type attempt struct {
	outcome Outcome
	err     error
}

func filled() attempt { return attempt{outcome: Filled} }

func uncertain(err error) attempt { return attempt{outcome: FilledUncertain, err: err} }

func failed(err error) attempt { return attempt{outcome: Failed, err: err} }

func failedf(format string, a ...any) attempt { return failed(fmt.Errorf(format, a...)) }

// ErrUnverified is attached to fills whose value could not be read back.
var ErrUnverified = errors.New("value could not be verified after keystroke retry")

// Skip reasons recorded on FillDetail.Error.
const (
	ReasonHasValue   = "already has value"
	ReasonNoData     = "no profile value"
	ReasonAmbiguous  = "ambiguous: no confident mapping"
	ReasonCancelled  = "cancelled"
	ReasonHidden     = "not visible"
	ReasonNeedsAI    = "needs AI-generated answer"
	ReasonAIReview   = "AI-drafted answer awaiting review"
	ReasonNeedsFile  = "deferred to document attacher"
	ReasonNoElement  = "element no longer present"
	ReasonNoDocument = "no document to search for dropdown options"
)

// Engine fills classified fields on one page.
type Engine struct {
	doc      dom.Document
	injector ValueInjector
	clock    clock.Clock
	settings settings.Settings
	platform fetch.Platform
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDocument sets the page searched for custom dropdown options.
func WithDocument(doc dom.Document) Option {
	return func(e *Engine) { e.doc = doc }
}

// WithInjector replaces the NativeSetter fallback.
func WithInjector(inj ValueInjector) Option {
	return func(e *Engine) { e.injector = inj }
}

// WithClock sets the clock used for pacing.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSettings sets fill speed and overwrite behaviour.
func WithSettings(s settings.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithPlatform selects platform-specific dropdown option selectors.
func WithPlatform(p fetch.Platform) Option {
	return func(e *Engine) { e.platform = p }
}

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine with default settings, the real clock and NativeSetter.
func New(opts ...Option) *Engine {
	e := &Engine{
		injector: NativeSetter{},
		clock:    clock.New(),
		settings: settings.Defaults(),
		platform: fetch.PlatformUnknown,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "fill").Logger()
	return e
}

// FillForm fills fields strictly one at a time in FillOrder, stable within a
// method. Every field gets exactly one detail. A cancelled context marks the
// remaining fields skipped and returns the partial result.
func (e *Engine) FillForm(ctx context.Context, lookup Lookup, fields []types.MappedField) *types.FillResult {
	ordered := make([]types.MappedField, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FillMethod.Priority() < ordered[j].FillMethod.Priority()
	})

	result := types.NewFillResult(len(ordered))
	delays := e.settings.Delays()
	for _, f := range ordered {
		detail := types.FillDetail{
			FieldIndex: f.Index(),
			Label:      f.Descriptor.Identifier(),
			ProfileKey: f.ProfileKey,
			FillMethod: f.FillMethod,
		}

		if ctx.Err() != nil {
			detail.Status, detail.Error = types.DetailSkipped, ReasonCancelled
			result.Record(detail)
			continue
		}
		if status, reason, ok := e.skipBeforeDOM(f, result); ok {
			detail.Status, detail.Error = status, reason
			result.Record(detail)
			continue
		}

		status, reason, touched := e.fillField(ctx, lookup, f, delays)
		detail.Status, detail.Error = status, reason
		result.Record(detail)
		e.logger.Debug().
			Int("field", f.Index()).
			Str("method", string(f.FillMethod)).
			Str("status", string(status)).
			Str("reason", reason).
			Msg("field processed")

		if touched {
			_ = e.clock.Sleep(ctx, delays.Field)
		}
	}

	e.logger.Info().
		Int("total", result.Total).
		Int("filled", result.Filled).
		Int("uncertain", result.Uncertain).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("needs_ai", result.NeedsAI).
		Int("needs_file", result.NeedsFile).
		Msg("fill run complete")
	return result
}

// skipBeforeDOM applies the skip rules that need no DOM access.
func (e *Engine) skipBeforeDOM(f types.MappedField, result *types.FillResult) (types.DetailStatus, string, bool) {
	switch {
	case f.RequiresAI:
		result.NeedsAI++
		if f.Value != "" {
			return types.DetailNeedsReview, ReasonAIReview, true
		}
		return types.DetailNeedsReview, ReasonNeedsAI, true
	case f.RequiresFile:
		result.NeedsFile++
		return types.DetailNeedsReview, ReasonNeedsFile, true
	case f.Status == types.StatusNoData:
		return types.DetailSkipped, ReasonNoData + " for " + f.ProfileKey, true
	case f.Status == types.StatusAmbiguous:
		return types.DetailSkipped, ReasonAmbiguous, true
	case f.Value == "":
		return types.DetailSkipped, ReasonNoData, true
	}
	return "", "", false
}

// fillField runs the DOM skip rules and the method's fill. touched reports
// whether the page was written to, which is what earns the inter-field delay.
func (e *Engine) fillField(ctx context.Context, lookup Lookup, f types.MappedField, delays settings.Delays) (status types.DetailStatus, reason string, touched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().Int("field", f.Index()).Interface("panic", r).Msg("recovered panic while filling field")
			status, reason, touched = types.DetailFailed, fmt.Sprintf("panic: %v", r), true
		}
	}()

	el, ok := lookup.Element(f.Index())
	if !ok {
		return types.DetailFailed, ReasonNoElement, false
	}

	skip, err := e.alreadySet(ctx, lookup, el, f)
	if err != nil {
		if ctx.Err() != nil {
			return types.DetailSkipped, ReasonCancelled, false
		}
		return types.DetailFailed, err.Error(), false
	}
	if skip {
		return types.DetailSkipped, ReasonHasValue, false
	}

	var a attempt
	switch f.FillMethod {
	case types.MethodText, types.MethodAIGenerate:
		a = e.fillVisibleText(ctx, el, f.Value, delays)
	case types.MethodDate:
		a = e.fillDate(ctx, el, f, delays)
	case types.MethodSelect:
		a = e.fillSelect(ctx, el, f)
	case types.MethodDropdown:
		a = e.fillDropdown(ctx, el, f, delays)
	case types.MethodRadio:
		a = e.fillRadio(ctx, lookup.Group(f.Index()), f)
	case types.MethodCheckbox:
		a = e.fillCheckbox(ctx, el, f)
	default:
		return types.DetailSkipped, fmt.Sprintf("unsupported fill method: %s", f.FillMethod), false
	}

	switch a.outcome {
	case Filled:
		return types.DetailFilled, "", true
	case FilledUncertain:
		return types.DetailFilledUncertain, errString(a.err), true
	default:
		if errors.Is(a.err, errHidden) {
			return types.DetailSkipped, ReasonHidden, false
		}
		if ctx.Err() != nil {
			return types.DetailSkipped, ReasonCancelled, true
		}
		return types.DetailFailed, errString(a.err), true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// alreadySet reports whether the field must be left alone: it holds a value
// and overwriting is off, or it already holds the target.
func (e *Engine) alreadySet(ctx context.Context, lookup Lookup, el dom.Element, f types.MappedField) (bool, error) {
	switch f.FillMethod {
	case types.MethodRadio:
		for _, m := range lookup.Group(f.Index()) {
			checked, err := m.Checked(ctx)
			if err != nil {
				return false, err
			}
			if checked {
				return !e.settings.OverwriteExistingValues || radioMatches(ctx, m, f), nil
			}
		}
		return false, nil

	case types.MethodCheckbox:
		checked, err := el.Checked(ctx)
		if err != nil {
			return false, err
		}
		if checked == checkboxTarget(f) {
			return true, nil
		}
		return checked && !e.settings.OverwriteExistingValues, nil
	}

	if f.FillMethod == types.MethodSelect {
		empty, err := selectIsEmpty(ctx, el, f.Descriptor)
		if err != nil || empty {
			return false, err
		}
	}

	current, err := el.Value(ctx)
	if err != nil {
		return false, err
	}
	if f.FillMethod == types.MethodDropdown && isPlaceholder(current, f.Descriptor) {
		return false, nil
	}
	if fold(current) == "" {
		return false, nil
	}
	if !e.settings.OverwriteExistingValues {
		return true, nil
	}
	return fold(current) == fold(f.Value), nil
}
