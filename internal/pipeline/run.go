// Package pipeline provides the high-level orchestration of an autofill run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/job-autofill/internal/analytics"
	"github.com/jonathan/job-autofill/internal/attach"
	"github.com/jonathan/job-autofill/internal/classifier"
	"github.com/jonathan/job-autofill/internal/clock"
	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/fetch"
	"github.com/jonathan/job-autofill/internal/fill"
	"github.com/jonathan/job-autofill/internal/llm"
	"github.com/jonathan/job-autofill/internal/observability"
	"github.com/jonathan/job-autofill/internal/observer"
	"github.com/jonathan/job-autofill/internal/patterns"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/review"
	"github.com/jonathan/job-autofill/internal/scanner"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// ErrAutoDetectDisabled is returned by Watch when autoDetectApplications is off.
var ErrAutoDetectDisabled = errors.New("automatic application detection is disabled")

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	RunID    string `json:"run_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when run progress occurs
type ProgressCallback func(event ProgressEvent)

// ProfileSource provides the applicant profile; *profile.Store implements it.
type ProfileSource interface {
	Get(ctx context.Context) (*profile.Profile, error)
}

// SettingsSource provides the current settings; *settings.Store implements it.
type SettingsSource interface {
	Get() settings.Settings
}

// Runner executes autofill runs against one page. Runs are serialised.
type Runner struct {
	doc        dom.Document
	profiles   ProfileSource
	settings   SettingsSource
	remote     classifier.Remote
	generator  llm.Client
	downloader attach.Downloader
	injector   fill.ValueInjector
	board      *review.Board
	recorder   *analytics.Recorder
	clock      clock.Clock
	logger     zerolog.Logger
	onProgress ProgressCallback
	reviewOut  io.Writer

	minConfidence float64
	batchSize     int

	mu    sync.Mutex
	rerun atomic.Bool
	// last is the most recent classified page, kept for re-drafting answers.
	last *lastRun
}

// Option configures a Runner.
type Option func(*Runner)

// WithSettings sets the settings source. Defaults apply without one.
func WithSettings(s SettingsSource) Option {
	return func(r *Runner) { r.settings = s }
}

// WithRemote enables the AI classification fallback.
func WithRemote(remote classifier.Remote) Option {
	return func(r *Runner) { r.remote = remote }
}

// WithClassifierTuning overrides the AI acceptance threshold and batch size.
func WithClassifierTuning(minConfidence float64, batchSize int) Option {
	return func(r *Runner) {
		r.minConfidence = minConfidence
		r.batchSize = batchSize
	}
}

// WithGenerator enables drafting answers to open-ended questions.
func WithGenerator(c llm.Client) Option {
	return func(r *Runner) { r.generator = c }
}

// WithDownloader enables document attachment.
func WithDownloader(d attach.Downloader) Option {
	return func(r *Runner) { r.downloader = d }
}

// WithInjector replaces the fill engine's value injector.
func WithInjector(inj fill.ValueInjector) Option {
	return func(r *Runner) { r.injector = inj }
}

// WithBoard publishes reports and progress to a review board.
func WithBoard(b *review.Board) Option {
	return func(r *Runner) { r.board = b }
}

// WithRecorder reports completed runs.
func WithRecorder(rec *analytics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock sets the clock used for pacing, timestamps and debouncing.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the runner's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(r *Runner) { r.onProgress = cb }
}

// WithReviewOutput renders every report to w when autoOpenReviewSidebar is on.
func WithReviewOutput(w io.Writer) Option {
	return func(r *Runner) { r.reviewOut = w }
}

// New creates a runner for doc using profiles as the data source.
func New(doc dom.Document, profiles ProfileSource, opts ...Option) *Runner {
	r := &Runner{
		doc:      doc,
		profiles: profiles,
		settings: settings.NewStore(settings.Defaults()),
		clock:    clock.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "pipeline").Logger()
	return r
}

// emitProgress forwards a progress update to the callback and the board
func (r *Runner) emitProgress(runID uuid.UUID, step, message string, content any) {
	r.logger.Debug().Str("run_id", runID.String()).Str("step", step).Msg(message)
	if r.board != nil {
		r.board.Progress(step, message)
	}
	if r.onProgress != nil {
		r.onProgress(ProgressEvent{
			Step:     step,
			Category: categoryOf(step),
			Message:  message,
			RunID:    runID.String(),
			Content:  content,
		})
	}
}

// Run performs one complete autofill pass over the page and returns its
// report. A run never aborts half way: stage failures degrade into report
// warnings, and a panic yields the partial report together with an error.
func (r *Runner) Run(ctx context.Context, trigger types.Trigger) (*types.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := r.run(ctx, trigger)
	r.drainRerun(ctx)
	return report, err
}

// drainRerun performs the observer runs requested while the lock was held.
func (r *Runner) drainRerun(ctx context.Context) {
	for r.rerun.Swap(false) && ctx.Err() == nil {
		if _, err := r.run(ctx, types.TriggerObserver); err != nil {
			r.logger.Error().Err(err).Msg("observer run failed")
		}
	}
}

func (r *Runner) run(ctx context.Context, trigger types.Trigger) (report *types.RunReport, err error) {
	s := r.settings.Get()
	report = &types.RunReport{
		ID:        uuid.New(),
		PageURL:   r.doc.URL(),
		Platform:  string(fetch.DetectPlatform(r.doc.URL())),
		Trigger:   trigger,
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.With().Str("run_id", report.ID.String()).Str("trigger", string(trigger)).Logger()
	logger.Info().Str("page_url", report.PageURL).Str("platform", report.Platform).Msg("autofill run started")

	r.last = nil
	stage := StageProfile
	defer func() {
		if rec := recover(); rec != nil {
			err = &StageError{Stage: stage, Cause: fmt.Errorf("panic: %v", rec)}
			report.Warnings = append(report.Warnings, fmt.Sprintf("run aborted during %s: %v", stage, rec))
			logger.Error().Str("stage", stage).Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("run panicked")
		}
		report.CompletedAt = r.clock.Now()
		r.finish(report, s, logger)
	}()

	// The profile download and the scan do not depend on each other.
	var (
		p        *profile.Profile
		snapshot *scanner.Snapshot
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (gerr error) {
		defer recoverInto(&gerr)
		var perr error
		p, perr = r.profiles.Get(gCtx)
		if perr != nil {
			logger.Warn().Err(perr).Msg("profile unavailable, fields will be skipped")
			p = nil
		}
		return nil
	})
	g.Go(func() (gerr error) {
		defer recoverInto(&gerr)
		if sn, ok := r.doc.(dom.Snapshotter); ok {
			if err := sn.Snapshot(gCtx); err != nil {
				logger.Warn().Err(err).Msg("document snapshot failed, scanning the last known tree")
			}
		}
		snapshot = scanner.Scan(gCtx, r.doc)
		return nil
	})
	if werr := g.Wait(); werr != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("run aborted during %s: %v", StageScan, werr))
		return report, &StageError{Stage: StageScan, Cause: werr}
	}
	if p == nil {
		report.Warnings = append(report.Warnings, "profile unavailable: no fields can be filled")
	}

	stage = StageScan
	report.Fields = snapshot.Len()
	r.emitProgress(report.ID, StageScan, fmt.Sprintf("Found %d fields", report.Fields), nil)
	if report.Fields == 0 {
		report.Fill = &types.FillResult{}
		return report, nil
	}

	stage = StageClassify
	page := fetch.ParsePageContext(r.doc.Title(), r.doc.URL())
	if s.Industry != "" && !patterns.Known(s.Industry) {
		logger.Warn().Str("industry", s.Industry).Msg("unknown industry pack, using core patterns")
	}
	set := patterns.GetActiveFieldPatterns(s.Industry)
	result := r.classifier(s, logger).ClassifyPage(ctx, page, snapshot.Descriptors(), set, p)
	report.Warnings = append(report.Warnings, result.Warnings...)
	r.emitProgress(report.ID, StageClassify, fmt.Sprintf("Mapped %d of %d fields",
		result.CountBy(types.StatusMapped), len(result.Fields)), result.Fields)

	if r.generator != nil && p != nil && s.UseAIForOpenEnded {
		stage = StageGenerate
		drafted, gerr := classifier.NewGenerator(r.generator, s, logger).Generate(ctx, page, p, result.Fields)
		if gerr != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("answer drafting failed: %v", gerr))
		}
		if drafted > 0 {
			r.emitProgress(report.ID, StageGenerate, fmt.Sprintf("Drafted %d answers", drafted), nil)
		}
	}

	r.last = &lastRun{page: page, snapshot: snapshot, fields: result.Fields}

	stage = StageFill
	report.Fill = r.engine(s, logger).FillForm(ctx, snapshot, result.Fields)
	r.emitProgress(report.ID, StageFill, fmt.Sprintf("Filled %d of %d fields",
		report.Fill.Filled+report.Fill.Uncertain, report.Fill.Total), report.Fill)

	if files := result.FileFields(); len(files) > 0 && r.downloader != nil {
		stage = StageAttach
		attacher := attach.New(r.downloader,
			attach.WithDocument(r.doc),
			attach.WithPlatform(fetch.DetectPlatform(r.doc.URL())),
			attach.WithSettings(s),
			attach.WithNow(r.clock.Now),
			attach.WithLogger(logger),
		)
		report.Attach = attacher.AttachDocuments(ctx, snapshot, files, p.Documents())
		r.emitProgress(report.ID, StageAttach, fmt.Sprintf("Attached %d of %d documents",
			report.Attach.Attached, report.Attach.Total), report.Attach)
	}
	return report, nil
}

func (r *Runner) classifier(s settings.Settings, logger zerolog.Logger) *classifier.Classifier {
	opts := []classifier.Option{
		classifier.WithLogger(logger),
		classifier.WithOpenEndedAI(s.UseAIForOpenEnded),
		classifier.WithMinConfidence(r.minConfidence),
		classifier.WithBatchSize(r.batchSize),
	}
	if r.remote != nil {
		opts = append(opts, classifier.WithRemote(r.remote))
	}
	return classifier.New(opts...)
}

func (r *Runner) engine(s settings.Settings, logger zerolog.Logger) *fill.Engine {
	opts := []fill.Option{
		fill.WithDocument(r.doc),
		fill.WithClock(r.clock),
		fill.WithSettings(s),
		fill.WithPlatform(fetch.DetectPlatform(r.doc.URL())),
		fill.WithLogger(logger),
	}
	if r.injector != nil {
		opts = append(opts, fill.WithInjector(r.injector))
	}
	return fill.New(opts...)
}

// finish publishes the report and records usage. It runs for partial reports too.
func (r *Runner) finish(report *types.RunReport, s settings.Settings, logger zerolog.Logger) {
	if report.Fill == nil {
		report.Fill = &types.FillResult{}
	}
	if r.board != nil {
		r.board.Publish(report)
	}
	r.emitProgress(report.ID, StagePublish, "Run complete", nil)
	if r.reviewOut != nil && s.AutoOpenReviewSidebar {
		observability.NewPrinter(r.reviewOut).PrintRunReport(report)
	}
	r.recorder.RecordUsage(analytics.Usage{
		PageURL:      report.PageURL,
		FieldsFilled: report.FieldsFilled(),
		Platform:     report.Platform,
		RunID:        report.ID.String(),
	})

	logger.Info().
		Int("fields", report.Fields).
		Int("filled", report.Fill.Filled).
		Int("uncertain", report.Fill.Uncertain).
		Int("skipped", report.Fill.Skipped).
		Int("failed", report.Fill.Failed).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("autofill run finished")
}

// Watch starts re-running whenever new fields appear on the page, until ctx
// is done or the returned stop func is called.
func (r *Runner) Watch(ctx context.Context, opts ...observer.Option) (func(), error) {
	if !r.settings.Get().AutoDetectApplications {
		return nil, ErrAutoDetectDisabled
	}

	opts = append([]observer.Option{observer.WithClock(r.clock), observer.WithLogger(r.logger)}, opts...)
	obs := observer.New(r.doc, opts...)
	if err := obs.Start(func(fields []dom.Element) {
		r.onFields(ctx, len(fields))
	}); err != nil {
		return nil, fmt.Errorf("failed to start observer: %w", err)
	}
	r.logger.Info().Int("roots", obs.Roots()).Msg("watching for new fields")

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			obs.Stop()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// onFields runs after a burst of new fields. A burst that arrives during a
// run is folded into one follow-up run once the current run finishes.
func (r *Runner) onFields(ctx context.Context, n int) {
	if ctx.Err() != nil || !r.settings.Get().AutoDetectApplications {
		return
	}
	if !r.mu.TryLock() {
		r.logger.Debug().Int("fields", n).Msg("run in progress, queueing re-run")
		r.rerun.Store(true)
		return
	}
	defer r.mu.Unlock()

	r.logger.Debug().Int("fields", n).Msg("new fields detected")
	r.rerun.Store(true)
	r.drainRerun(ctx)
}
