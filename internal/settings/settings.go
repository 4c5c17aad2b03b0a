// Package settings holds the user-tunable autofill options and the store that persists them.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FillSpeed selects the pacing of a fill run.
type FillSpeed string

const (
	SpeedFast    FillSpeed = "fast"
	SpeedNormal  FillSpeed = "normal"
	SpeedCareful FillSpeed = "careful"
)

// ResponseLength selects how long generated answers should be.
type ResponseLength string

const (
	LengthBrief    ResponseLength = "brief"
	LengthStandard ResponseLength = "standard"
	LengthDetailed ResponseLength = "detailed"
)

// Settings is the full set of recognised options.
type Settings struct {
	ShowFAB                 bool           `yaml:"show_fab" json:"showFAB"`
	AutoDetectApplications  bool           `yaml:"auto_detect_applications" json:"autoDetectApplications"`
	AutoOpenReviewSidebar   bool           `yaml:"auto_open_review_sidebar" json:"autoOpenReviewSidebar"`
	FillSpeed               FillSpeed      `yaml:"fill_speed" json:"fillSpeed" validate:"required,oneof=fast normal careful"`
	OverwriteExistingValues bool           `yaml:"overwrite_existing_values" json:"overwriteExistingValues"`
	AutoAttachResume        bool           `yaml:"auto_attach_resume" json:"autoAttachResume"`
	AutoAttachOtherDocs     bool           `yaml:"auto_attach_other_docs" json:"autoAttachOtherDocs"`
	UseAIForOpenEnded       bool           `yaml:"use_ai_for_open_ended" json:"useAIForOpenEnded"`
	AIResponseLength        ResponseLength `yaml:"ai_response_length" json:"aiResponseLength" validate:"required,oneof=brief standard detailed"`
	AlwaysReviewAI          bool           `yaml:"always_review_ai" json:"alwaysReviewAI"`

	// Industry selects an additive pattern pack; empty means core only.
	Industry string `yaml:"industry,omitempty" json:"industry,omitempty" validate:"omitempty,max=64"`
}

// Defaults returns the settings used when no file exists.
func Defaults() Settings {
	return Settings{
		ShowFAB:                 true,
		AutoDetectApplications:  true,
		AutoOpenReviewSidebar:   true,
		FillSpeed:               SpeedNormal,
		OverwriteExistingValues: false,
		AutoAttachResume:        true,
		AutoAttachOtherDocs:     true,
		UseAIForOpenEnded:       true,
		AIResponseLength:        LengthStandard,
		AlwaysReviewAI:          true,
	}
}

var validate = validator.New()

// Validate checks enumerated options.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Delays is the pacing derived from FillSpeed.
type Delays struct {
	// Field is the pause between two fields.
	Field time.Duration
	// Keystroke is the pause between characters on the keystroke fallback.
	Keystroke time.Duration
	// Settle is the wait after dispatching events before verifying.
	Settle time.Duration
}

// Delays returns the pacing for s.FillSpeed. Unknown speeds pace like normal.
func (s Settings) Delays() Delays {
	switch s.FillSpeed {
	case SpeedFast:
		return Delays{Field: 50 * time.Millisecond, Keystroke: 10 * time.Millisecond, Settle: 30 * time.Millisecond}
	case SpeedCareful:
		return Delays{Field: 400 * time.Millisecond, Keystroke: 80 * time.Millisecond, Settle: 200 * time.Millisecond}
	default:
		return Delays{Field: 150 * time.Millisecond, Keystroke: 30 * time.Millisecond, Settle: 80 * time.Millisecond}
	}
}

// Parse decodes YAML settings; options the document omits keep their defaults.
func Parse(data []byte) (Settings, error) {
	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Store is the single authoritative copy of the settings, optionally backed by a file.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
	subs    []func(Settings)
}

// NewStore returns an in-memory store seeded with s.
func NewStore(s Settings) *Store {
	return &Store{current: s}
}

// Open loads settings from path. A missing file yields defaults and is created on the first Save.
func Open(path string) (*Store, error) {
	st := &Store{path: path, current: Defaults()}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	st.current = s
	return st, nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Replace validates s, persists it and swaps it in. On error the previous settings stay.
func (st *Store) Replace(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	if err := st.persist(s); err != nil {
		st.mu.Unlock()
		return err
	}
	st.current = s
	subs := append([]func(Settings){}, st.subs...)
	st.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return nil
}

// Update applies fn to a copy of the current settings and replaces them with the result.
func (st *Store) Update(fn func(*Settings)) (Settings, error) {
	s := st.Get()
	fn(&s)
	if err := st.Replace(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Subscribe registers fn to be called after every successful Replace.
func (st *Store) Subscribe(fn func(Settings)) {
	st.mu.Lock()
	st.subs = append(st.subs, fn)
	st.mu.Unlock()
}

func (st *Store) persist(s Settings) error {
	if st.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(st.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), st.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
