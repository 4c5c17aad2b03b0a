package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/analytics"
	"github.com/jonathan/job-autofill/internal/attach"
	"github.com/jonathan/job-autofill/internal/classifier"
	"github.com/jonathan/job-autofill/internal/config"
	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/llm"
	"github.com/jonathan/job-autofill/internal/pipeline"
	"github.com/jonathan/job-autofill/internal/profile"
	"github.com/jonathan/job-autofill/internal/review"
	"github.com/jonathan/job-autofill/internal/settings"
)

// app holds the long-lived collaborators shared by every command that fills pages.
type app struct {
	cfg    config.Config
	logger zerolog.Logger

	settings *settings.Store
	profiles *profile.Store
	cache    *profile.EncryptedCache
	remote   classifier.Remote
	model    llm.Client
	recorder *analytics.Recorder
	board    *review.Board

	stopSchedule func()
}

// newApp wires the stores and clients described by c.
func newApp(ctx context.Context, c config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: c, logger: logger, board: review.NewBoard()}

	st, err := settings.Open(c.SettingsPath)
	if err != nil {
		return nil, err
	}
	a.settings = st

	if err := a.openProfiles(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openClassifier(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.recorder = analytics.NewRecorder(c.PlatformURL, c.APIToken, logger)
	return a, nil
}

func (a *app) openProfiles(ctx context.Context) error {
	if a.cfg.ProfileFile != "" {
		data, err := os.ReadFile(a.cfg.ProfileFile)
		if err != nil {
			return fmt.Errorf("failed to read profile file: %w", err)
		}
		p, err := profile.New(data)
		if err != nil {
			return fmt.Errorf("profile file %s: %w", a.cfg.ProfileFile, err)
		}
		a.profiles = profile.NewStore(nil, profile.WithLogger(a.logger))
		a.profiles.Set(p)
		a.logger.Info().Str("profile", p.Summary()).Msg("using local profile")
		return nil
	}

	if a.cfg.PlatformURL == "" {
		a.logger.Warn().Msg("no platform_url or profile_file configured; runs will scan without filling")
		a.profiles = profile.NewStore(nil, profile.WithLogger(a.logger))
		return nil
	}

	opts := []profile.StoreOption{profile.WithLogger(a.logger)}
	if a.cfg.CachePassphrase != "" {
		cache, err := profile.OpenCache(ctx, a.cfg.CachePath, a.cfg.CachePassphrase)
		if err != nil {
			return err
		}
		a.cache = cache
		opts = append(opts, profile.WithCache(cache))
	}
	a.profiles = profile.NewStore(profile.NewClient(a.cfg.PlatformURL, a.cfg.APIToken), opts...)

	if a.cfg.RefreshSchedule != "" {
		stop, err := a.profiles.Schedule(ctx, a.cfg.RefreshSchedule)
		if err != nil {
			return err
		}
		a.stopSchedule = stop
	}
	return nil
}

func (a *app) openClassifier(ctx context.Context) error {
	switch a.cfg.LLMProvider {
	case "none":
		return nil
	case "endpoint":
		if a.cfg.PlatformURL != "" {
			a.remote = classifier.NewEndpointClient(a.cfg.PlatformURL, a.cfg.APIToken)
		}
		return nil
	}

	provider := llm.Provider(a.cfg.LLMProvider)
	key := a.cfg.GeminiAPIKey
	if provider == llm.ProviderAnthropic {
		key = a.cfg.AnthropicAPIKey
	}
	client, err := llm.NewClient(ctx, llm.ConfigFor(provider, a.cfg.LLMModel), key)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	a.model = client
	a.remote = classifier.NewLLMRemote(client)
	return nil
}

// runner builds a pipeline runner for doc.
func (a *app) runner(doc dom.Document, opts ...pipeline.Option) *pipeline.Runner {
	base := []pipeline.Option{
		pipeline.WithSettings(a.settings),
		pipeline.WithClassifierTuning(a.cfg.MinAIConfidence, a.cfg.AIBatchSize),
		pipeline.WithBoard(a.board),
		pipeline.WithRecorder(a.recorder),
		pipeline.WithLogger(a.logger),
		pipeline.WithProgress(func(ev pipeline.ProgressEvent) {
			a.logger.Debug().Str("step", ev.Step).Str("category", ev.Category).Msg(ev.Message)
		}),
	}
	if a.remote != nil {
		base = append(base, pipeline.WithRemote(a.remote))
	}
	if a.model != nil {
		base = append(base, pipeline.WithGenerator(a.model))
	}
	if a.cfg.PlatformURL != "" {
		base = append(base, pipeline.WithDownloader(attach.NewHTTPDownloader(a.cfg.PlatformURL, a.cfg.APIToken)))
	}
	return pipeline.New(doc, a.profiles, append(base, opts...)...)
}

// Close releases everything newApp opened and waits for pending usage reports.
func (a *app) Close() {
	if a.stopSchedule != nil {
		a.stopSchedule()
	}
	a.recorder.Wait()
	a.board.Close()
	var errs []error
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("failed to release resources")
	}
}
