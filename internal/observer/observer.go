// Package observer watches a page for form fields that appear after load and
// reports them in debounced batches.
package observer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/job-autofill/internal/clock"
	"github.com/jonathan/job-autofill/internal/dom"
	"github.com/jonathan/job-autofill/internal/scanner"
)

const (
	// DefaultDebounce is the quiet period that ends a burst of mutations.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultMaxWait caps how long a continuous burst can postpone the callback.
	DefaultMaxWait = 2 * time.Second
)

// ErrStarted is returned by Start on an observer that is already running.
var ErrStarted = errors.New("observer already started")

// watchedAttributes are the attribute changes that can reveal or enable a field.
var watchedAttributes = map[string]bool{
	"type":       true,
	"name":       true,
	"id":         true,
	"class":      true,
	"style":      true,
	"hidden":     true,
	"disabled":   true,
	"aria-label": true,
	"role":       true,
}

// Callback receives the de-duplicated fields found since the previous call.
type Callback func(fields []dom.Element)

// Observer coalesces mutations under a document, its open shadow roots and
// its same-origin iframes into debounced callbacks.
type Observer struct {
	doc      dom.Document
	clock    clock.Clock
	debounce time.Duration
	maxWait  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	running  bool
	callback Callback
	stops    map[string]func()
	pending  []dom.Element
	seen     map[string]bool
	quiet    clock.Timer
	deadline clock.Timer
	// armed and burst identify the current quiet timer and the current batch.
	// A timer callback that lost the race with Stop carries an older value.
	armed uint64
	burst uint64
}

// Option configures an Observer.
type Option func(*Observer)

// WithClock sets the clock driving the debounce timers.
func WithClock(c clock.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithMaxWait sets the longest a burst may delay the callback. Non-positive values are ignored.
func WithMaxWait(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithLogger sets the observer's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// New creates a stopped observer for doc.
func New(doc dom.Document, opts ...Option) *Observer {
	o := &Observer{
		doc:      doc,
		clock:    clock.New(),
		debounce: DefaultDebounce,
		maxWait:  DefaultMaxWait,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "observer").Logger()
	return o
}

// Start begins observing and delivers batches to callback until Stop.
func (o *Observer) Start(callback Callback) error {
	observable, ok := o.doc.(dom.Observable)
	if !ok {
		return fmt.Errorf("document %T does not support mutation observation", o.doc)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrStarted
	}
	o.running = true
	o.callback = callback
	o.stops = make(map[string]func())
	o.seen = make(map[string]bool)
	o.pending = nil

	if err := o.attach(o.doc, observable); err != nil {
		o.stopLocked()
		return err
	}
	o.logger.Debug().Int("roots", len(o.stops)).Msg("observer started")
	return nil
}

// Stop detaches every observation and drops pending fields. It is safe to
// call more than once.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

// Roots returns the number of observed roots.
func (o *Observer) Roots() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.stops)
}

func (o *Observer) stopLocked() {
	for _, stop := range o.stops {
		stop()
	}
	o.stops = nil
	o.stopTimersLocked()
	o.pending, o.seen = nil, nil
	o.running = false
	o.callback = nil
}

func (o *Observer) stopTimersLocked() {
	o.armed++
	o.burst++
	if o.quiet != nil {
		o.quiet.Stop()
		o.quiet = nil
	}
	if o.deadline != nil {
		o.deadline.Stop()
		o.deadline = nil
	}
}

// attach observes root and every shadow root and iframe under it that is not
// observed yet. Must hold mu.
func (o *Observer) attach(root dom.Node, observable dom.Observable) error {
	if _, ok := o.stops[root.Key()]; ok {
		return nil
	}
	stop, err := observable.Observe(root, func(records []dom.MutationRecord) {
		o.handle(observable, records)
	})
	if err != nil {
		return fmt.Errorf("observe root: %w", err)
	}
	o.stops[root.Key()] = stop
	o.attachNested(root, observable)
	return nil
}

// attachNested attaches to shadow roots and same-origin frames under n.
// Failures to attach nested roots are logged and skipped.
func (o *Observer) attachNested(n dom.Node, observable dom.Observable) {
	dom.Walk(n, func(c dom.Node) bool {
		if c.Type() != dom.ElementNode {
			return true
		}
		if sr := c.ShadowRoot(); sr != nil {
			if err := o.attach(sr, observable); err != nil {
				o.logger.Debug().Err(err).Msg("skipping shadow root")
			}
		}
		if c.Tag() == "iframe" {
			o.attachFrame(c)
		}
		return true
	})
}

func (o *Observer) attachFrame(frame dom.Node) {
	doc, err := frame.ContentDocument()
	if errors.Is(err, dom.ErrCrossOrigin) {
		return
	}
	if err != nil {
		o.logger.Debug().Err(err).Msg("skipping iframe")
		return
	}
	observable, ok := doc.(dom.Observable)
	if !ok {
		return
	}
	if err := o.attach(doc, observable); err != nil {
		o.logger.Debug().Err(err).Msg("skipping iframe")
	}
}

// handle collects the fields touched by records and (re)arms the timers.
func (o *Observer) handle(observable dom.Observable, records []dom.MutationRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}

	added := 0
	for _, rec := range records {
		switch rec.Kind {
		case dom.MutationChildList:
			for _, n := range rec.Added {
				o.attachNested(n, observable)
				added += o.collect(n)
			}
		case dom.MutationAttributes:
			if watchedAttributes[rec.AttributeName] && rec.Target != nil {
				added += o.collect(rec.Target)
			}
		}
	}
	if added == 0 {
		return
	}

	if o.quiet != nil {
		o.quiet.Stop()
	}
	o.armed++
	armed, burst := o.armed, o.burst
	o.quiet = o.clock.AfterFunc(o.debounce, func() {
		o.flush(func() bool { return o.armed == armed })
	})
	if o.deadline == nil {
		o.deadline = o.clock.AfterFunc(o.maxWait, func() {
			o.flush(func() bool { return o.burst == burst })
		})
	}
}

// collect queues every field element in n's subtree and returns how many were new.
func (o *Observer) collect(n dom.Node) int {
	count := 0
	dom.Walk(n, func(c dom.Node) bool {
		if !scanner.IsCandidate(c) {
			return true
		}
		el, ok := dom.AsElement(c)
		if !ok || o.seen[c.Key()] {
			return true
		}
		o.seen[c.Key()] = true
		o.pending = append(o.pending, el)
		count++
		return true
	})
	return count
}

// flush hands the pending batch to the callback outside the lock. current
// reports, under the lock, whether the firing timer is still the armed one.
func (o *Observer) flush(current func() bool) {
	o.mu.Lock()
	if !current() {
		o.mu.Unlock()
		return
	}
	batch, callback := o.pending, o.callback
	o.pending = nil
	o.seen = make(map[string]bool)
	o.stopTimersLocked()
	running := o.running
	o.mu.Unlock()

	if !running || len(batch) == 0 || callback == nil {
		return
	}
	o.logger.Debug().Int("fields", len(batch)).Msg("new fields detected")
	callback(batch)
}
