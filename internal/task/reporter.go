package task

import (
	"sync"

	"github.com/rs/zerolog"
)

// ProgressReporter receives progress events. Report is called from the runner's worker
// goroutine and must not block for long.
type ProgressReporter interface {
	Report(Event)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(Event)

// Report calls f(e).
func (f ProgressFunc) Report(e Event) {
	f(e)
}

// MultiReporter forwards each event to every reporter in order.
type MultiReporter []ProgressReporter

// Report forwards e.
func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}

// LogReporter writes progress events to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report logs e. Terminal events are logged at info level, step progress at debug.
func (l *LogReporter) Report(e Event) {
	ev := l.logger.Debug()
	if e.Terminal() {
		ev = l.logger.Info()
	}
	ev.Str("run_id", e.RunID).
		Str("label", e.Label).
		Int("task_index", e.Index).
		Int("task_count", e.Count).
		Int("percent", e.Percent).
		Msg("pipeline progress")
}

// subscriberBuffer is the per-subscriber event buffer of a Broadcaster.
const subscriberBuffer = 64

// Broadcaster fans events out to subscribers. Sends never block: a subscriber whose
// buffer is full misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	last   *Event
	logger zerolog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Report delivers e to every subscriber.
func (b *Broadcaster) Report(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &e
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn().Str("label", e.Label).Int("percent", e.Percent).Msg("progress subscriber lagging, event dropped")
		}
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Last returns the most recent event, if any.
func (b *Broadcaster) Last() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Event{}, false
	}
	return *b.last, true
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
