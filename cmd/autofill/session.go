package main

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/pipeline"
	"github.com/jonathan/job-autofill/internal/settings"
	"github.com/jonathan/job-autofill/internal/types"
)

// tab is an attached page that can host the floating button and report
// navigations. *browser.Page implements it.
type tab interface {
	dom.Document
	ShowFAB(ctx context.Context, onClick func(pageURL string)) error
	HideFAB(ctx context.Context) error
	OnDocument(fn func())
}

// session keeps one tab in sync with the settings: the button, the observer
// and the runs they trigger.
type session struct {
	ctx    context.Context
	tab    tab
	runner *pipeline.Runner
	logger zerolog.Logger

	mu        sync.Mutex
	stopWatch func()
	fab       bool

	wg sync.WaitGroup
}

// startSession attaches a runner to t and applies the current settings.
// It runs until ctx is done.
func startSession(ctx context.Context, a *app, t tab, reviewOut io.Writer) *session {
	var opts []pipeline.Option
	if reviewOut != nil {
		opts = append(opts, pipeline.WithReviewOutput(reviewOut))
	}
	s := &session{
		ctx:    ctx,
		tab:    t,
		runner: a.runner(t, opts...),
		logger: a.logger.With().Str("component", "session").Logger(),
	}

	current := a.settings.Get()
	s.apply(current)
	a.settings.Subscribe(s.apply)
	t.OnDocument(s.documentLoaded)
	if current.AutoDetectApplications {
		s.trigger(types.TriggerPageLoad)
	}
	return s
}

// apply reconciles the button and the observer with st.
func (s *session) apply(st settings.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case st.ShowFAB && !s.fab:
		if err := s.tab.ShowFAB(s.ctx, func(string) { s.trigger(types.TriggerFAB) }); err != nil {
			s.logger.Warn().Err(err).Msg("failed to show the autofill button")
		} else {
			s.fab = true
		}
	case !st.ShowFAB && s.fab:
		if err := s.tab.HideFAB(s.ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to hide the autofill button")
		}
		s.fab = false
	}

	if st.AutoDetectApplications && s.stopWatch == nil {
		s.watchLocked()
	} else if !st.AutoDetectApplications && s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
		s.logger.Info().Msg("stopped watching for new fields")
	}
}

// documentLoaded restarts the observer on the new document and fills it.
func (s *session) documentLoaded() {
	s.mu.Lock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.watchLocked()
	watching := s.stopWatch != nil
	s.mu.Unlock()

	s.logger.Info().Str("url", s.tab.URL()).Msg("page loaded")
	if watching {
		s.trigger(types.TriggerPageLoad)
	}
}

func (s *session) watchLocked() {
	stop, err := s.runner.Watch(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrAutoDetectDisabled):
		s.logger.Debug().Msg("automatic detection is off")
	case err != nil:
		s.logger.Warn().Err(err).Msg("failed to watch the page")
	default:
		s.stopWatch = stop
	}
}

// trigger starts a run in the background. Runs queue on the runner's lock.
func (s *session) trigger(trigger types.Trigger) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(s.ctx, trigger); err != nil {
			s.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("autofill run failed")
		}
	}()
}

// Run satisfies server.Runner.
func (s *session) Run(ctx context.Context, trigger types.Trigger) (*types.RunReport, error) {
	return s.runner.Run(ctx, trigger)
}

// Redraft satisfies server.Drafter.
func (s *session) Redraft(ctx context.Context, index int) (*pipeline.Draft, error) {
	return s.runner.Redraft(ctx, index)
}

// Wait stops the observer and blocks until background runs have returned.
func (s *session) Wait() {
	s.mu.Lock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
