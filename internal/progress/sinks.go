package progress

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes events to a logger. Fetch and discovery events are logged
// at Debug, everything else at Info.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch e.Kind {
	case KindFetchStart, KindFetchOK, KindPageDiscovered:
		level = slog.LevelDebug
	case KindFetchError:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("crawl_id", e.CrawlID),
		slog.String("phase", string(e.Phase)),
		slog.String("kind", string(e.Kind)),
	}
	if e.URL != "" {
		attrs = append(attrs, slog.String("url", e.URL), slog.Int("depth", e.Depth))
	}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}
	attrs = append(attrs,
		slog.Int("visited", e.Counters.Visited),
		slog.Int("queued", e.Counters.Queued),
		slog.Int("errors", e.Counters.Errors),
	)

	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// ChanSink sends events to a channel. Emit blocks until the event is
// received or the context is done, so consumers see every event in order.
type ChanSink struct {
	ctx context.Context //nolint:containedctx // bounds blocking sends for the sink's lifetime
	ch  chan Event
}

// NewChanSink returns a sink with a channel of the given buffer size.
func NewChanSink(ctx context.Context, buffer int) *ChanSink {
	return &ChanSink{ctx: ctx, ch: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Emit implements Sink.
func (s *ChanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	case <-s.ctx.Done():
	}
}

// Close closes the channel. Emit must not be called afterwards.
func (s *ChanSink) Close() {
	close(s.ch)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder keeps every event in memory. Tests use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds, optionally filtered by phase.
func (r *Recorder) Kinds(phase Phase) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []Kind
	for _, e := range r.events {
		if phase == "" || e.Phase == phase {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}
