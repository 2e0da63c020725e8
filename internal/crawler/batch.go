package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/a11ycrawl/internal/model"
)

// DefaultConcurrency is the number of roots a Batch crawls at once.
const DefaultConcurrency = 1

// Result is the outcome of one root of a batch.
type Result struct {
	RootURL string
	Report  *model.CrawlReport

	// Err is the setup error of the crawl, if any.
	Err error
}

// Batch crawls several roots concurrently. Every root gets a fresh
// Orchestrator from the factory, so crawls share no state.
type Batch struct {
	factory     func(rootURL string) *Orchestrator
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	running map[*Orchestrator]bool
	stopped bool
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithConcurrency sets the maximum number of concurrent crawls.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		b.logger = logger
	}
}

// NewBatch creates a Batch. factory is called once per root.
func NewBatch(factory func(rootURL string) *Orchestrator, opts ...BatchOption) *Batch {
	b := &Batch{
		factory:     factory,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		running:     make(map[*Orchestrator]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run crawls every root and returns one Result per root, in input order.
// With several roots a non-empty label gets the root host appended so
// report names stay distinct.
//
// Setup errors stay in their Result; the returned error is only set when
// ctx ends before every crawl started.
func (b *Batch) Run(ctx context.Context, roots []string, label string) ([]Result, error) {
	b.logger.Info("starting batch crawl", "roots", len(roots), "concurrency", b.concurrency)
	start := time.Now()

	results := make([]Result, len(roots))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, root := range roots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := b.factory(root)
			if !b.track(o) {
				results[i] = Result{RootURL: root}
				return nil
			}
			defer b.untrack(o)

			report, err := o.Crawl(ctx, root, batchLabel(label, root, len(roots)))
			results[i] = Result{RootURL: root, Report: report, Err: err}
			if err != nil {
				b.logger.Warn("crawl failed", "root", root, "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	b.logger.Info("batch crawl complete", "roots", len(roots), "elapsed", time.Since(start))
	return results, err
}

// Stop stops every running crawl and prevents new ones from starting.
func (b *Batch) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for o := range b.running {
		o.Stop()
	}
}

func (b *Batch) track(o *Orchestrator) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.running[o] = true
	return true
}

func (b *Batch) untrack(o *Orchestrator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.running, o)
}

func batchLabel(label, root string, n int) string {
	if label == "" || n <= 1 {
		return label
	}
	if u, err := url.Parse(root); err == nil && u.Hostname() != "" {
		return label + "-" + u.Hostname()
	}
	return label
}
