package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNoProfile is returned by Get when no profile has been loaded and no fetcher can provide one.
var ErrNoProfile = errors.New("no profile available")

// Cache persists the last fetched profile between runs.
type Cache interface {
	Load(ctx context.Context) (*Profile, time.Time, error)
	Save(ctx context.Context, p *Profile) error
}

// Store holds the single authoritative in-memory copy of the profile.
// Readers always see either the previous or the next profile, never a partial one.
type Store struct {
	fetcher Fetcher
	cache   Cache
	logger  zerolog.Logger

	mu        sync.RWMutex
	current   *Profile
	fetchedAt time.Time

	group singleflight.Group
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCache enables the local persisted copy.
func WithCache(c Cache) StoreOption {
	return func(s *Store) { s.cache = c }
}

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store backed by fetcher. fetcher may be nil for a local-only profile.
func NewStore(fetcher Fetcher, opts ...StoreOption) *Store {
	s := &Store{fetcher: fetcher, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "profile").Logger()
	return s
}

// Get returns the current profile, loading it on first use.
// The local cache is consulted before the network.
func (s *Store) Get(ctx context.Context) (*Profile, error) {
	s.mu.RLock()
	p := s.current
	s.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	if s.cache != nil {
		cached, at, err := s.cache.Load(ctx)
		switch {
		case err == nil && cached != nil:
			s.replace(cached, at)
			s.logger.Debug().Time("fetched_at", at).Msg("profile loaded from cache")
			return cached, nil
		case err != nil && !errors.Is(err, ErrCacheMiss):
			s.logger.Warn().Err(err).Msg("profile cache unreadable")
		}
	}
	return s.Refresh(ctx)
}

// Refresh fetches a new profile and atomically replaces the current one.
// Concurrent callers share a single fetch.
func (s *Store) Refresh(ctx context.Context) (*Profile, error) {
	if s.fetcher == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.current == nil {
			return nil, ErrNoProfile
		}
		return s.current, nil
	}

	v, err, shared := s.group.Do("refresh", func() (interface{}, error) {
		p, err := s.fetcher.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.replace(p, time.Now())
		if s.cache != nil {
			if err := s.cache.Save(ctx, p); err != nil {
				s.logger.Warn().Err(err).Msg("failed to persist profile cache")
			}
		}
		return p, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("profile refresh failed")
		return nil, fmt.Errorf("failed to refresh profile: %w", err)
	}
	p := v.(*Profile)
	s.logger.Info().Bool("shared", shared).Str("profile", p.Summary()).Msg("profile refreshed")
	return p, nil
}

// Set installs p as the current profile without fetching.
func (s *Store) Set(p *Profile) {
	s.replace(p, time.Now())
}

// Invalidate drops the in-memory profile so the next Get reloads it.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.current = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// FetchedAt reports when the current profile was obtained.
func (s *Store) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// Schedule refreshes the profile on a cron spec such as "@every 30m".
// The returned function stops the schedule.
func (s *Store) Schedule(ctx context.Context, spec string) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("scheduled profile refresh failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	return func() {
		<-c.Stop().Done()
	}, nil
}

func (s *Store) replace(p *Profile, at time.Time) {
	s.mu.Lock()
	s.current = p
	s.fetchedAt = at
	s.mu.Unlock()
}
