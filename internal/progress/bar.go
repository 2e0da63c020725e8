package progress

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// BarSink draws one terminal progress bar per crawl. The bar total follows
// visited plus queued URLs, so it grows as the frontier grows.
type BarSink struct {
	bar  *mpb.Bar
	done bool
}

// NewBarSink adds a bar named name to p.
func NewBarSink(p *mpb.Progress, name string) *BarSink {
	bar := p.AddBar(0,
		mpb.BarOptional(mpb.BarRemoveOnComplete(), false),
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("[%d / %d]", decor.WCSyncWidth),
			decor.Percentage(decor.WCSyncSpace),
		),
	)
	return &BarSink{bar: bar}
}

// Emit implements Sink.
func (s *BarSink) Emit(e Event) {
	if s.done {
		return
	}
	switch e.Kind {
	case KindFetchOK, KindFetchError:
		s.bar.SetTotal(int64(e.Counters.Visited+e.Counters.Queued), false)
		s.bar.SetCurrent(int64(e.Counters.Visited))
	case KindStopped:
		s.finish(e)
	case KindPhaseEnd:
		if e.Phase == PhaseMerge {
			s.finish(e)
		}
	}
}

func (s *BarSink) finish(e Event) {
	s.bar.SetCurrent(int64(e.Counters.Visited))
	s.bar.SetTotal(int64(e.Counters.Visited), true)
	s.done = true
}

// Abort removes an unfinished bar, for crawls that failed during setup.
func (s *BarSink) Abort() {
	if !s.done {
		s.bar.Abort(false)
		s.done = true
	}
}
