// Package review holds the report of the latest autofill run for the review surfaces.
package review

import (
	"io"
	"sync"

	"github.com/jonathan/job-autofill/internal/observability"
	"github.com/jonathan/job-autofill/internal/types"
)

// EventKind distinguishes board notifications.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventPublished EventKind = "published"
	EventClosed    EventKind = "closed"
)

// Event is delivered to subscribers whenever the board changes.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Step    string           `json:"step,omitempty"`
	Message string           `json:"message,omitempty"`
	Report  *types.RunReport `json:"report,omitempty"`
}

// DefaultBuffer is the channel capacity Subscribe uses for n <= 0.
const DefaultBuffer = 8

// Board keeps the latest RunReport only. A new run replaces it and closing
// the review discards it.
type Board struct {
	mu      sync.RWMutex
	current *types.RunReport
	subs    map[int]chan Event
	nextSub int
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{subs: make(map[int]chan Event)}
}

// Publish replaces the current report and notifies subscribers.
func (b *Board) Publish(r *types.RunReport) {
	if r == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = r
	b.notify(Event{Kind: EventPublished, Report: r})
}

// Progress notifies subscribers that a run reached step. Nothing is stored.
func (b *Board) Progress(step, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify(Event{Kind: EventProgress, Step: step, Message: message})
}

// Current returns the report on display.
func (b *Board) Current() (*types.RunReport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current, b.current != nil
}

// Close discards the current report. It reports whether one was open.
func (b *Board) Close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return false
	}
	b.current = nil
	b.notify(Event{Kind: EventClosed})
	return true
}

// Subscribe returns a channel of board events and a func that cancels the
// subscription. Slow subscribers miss events rather than block publishers.
func (b *Board) Subscribe(n int) (<-chan Event, func()) {
	if n <= 0 {
		n = DefaultBuffer
	}
	ch := make(chan Event, n)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// notify must be called with b.mu held.
func (b *Board) notify(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Render writes the current report in box style. It reports whether there
// was anything to render.
func (b *Board) Render(w io.Writer) bool {
	r, ok := b.Current()
	if !ok {
		return false
	}
	observability.NewPrinter(w).PrintRunReport(r)
	return true
}
