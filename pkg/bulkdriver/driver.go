// Package bulkdriver is the Bulk Driver: it bounds concurrency with a
// worker pool, retries transient per-item failures, and aggregates a
// run summary. RunConcurrent is the reusable concurrency engine an
// Artifact Helper calls internally to run its PullAll/PushAll batch
// against many items at once; Driver itself is a thin per-kind
// delegator that invokes exactly one of the Helper's four whole-kind
// batch methods per run, so a Coordinator run calls each kind's
// PushModified/PushAll (or PullModified/PullAll) exactly once.
package bulkdriver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/metrics"
	"github.com/cuemby/dxsync/pkg/types"
)

// Config tunes a RunConcurrent call.
type Config struct {
	// Concurrency bounds the number of in-flight items. Zero uses
	// DefaultConcurrency.
	Concurrency int64
	// RetryBudget caps how many times a single item may be re-enqueued
	// after a retryable failure before the run gives up on it.
	RetryBudget int
	// RetryDelay is the delay before a retried item re-enters the pool.
	RetryDelay time.Duration
}

// DefaultConcurrency matches spec.md's "default 5 per kind".
const DefaultConcurrency = 5

// WithDefaults fills in zero-valued fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// helper is the subset of *helper.Helper the driver depends on — kept
// narrow so tests can supply a fake without building the full stack.
// Each method is one of the four whole-kind batch operations spec.md
// §4.4 lists as the public contract the Bulk Driver depends on.
type helper interface {
	Kind() types.Kind
	PullAll(ctx context.Context, opts types.Options) (types.Summary, error)
	PullModified(ctx context.Context, opts types.Options) (types.Summary, error)
	PushAll(ctx context.Context, opts types.Options) (types.Summary, error)
	PushModified(ctx context.Context, opts types.Options) (types.Summary, error)
}

// Driver is a thin per-kind delegator: each of its methods invokes
// exactly one Helper batch method, leaving concurrency, retries, and
// paging to the Helper (which runs its own item loop through
// RunConcurrent).
type Driver struct {
	h      helper
	logger zerolog.Logger
}

// New returns a Driver for h.
func New(h helper) *Driver {
	return &Driver{h: h, logger: log.WithComponent("bulkdriver").With().Str("kind", string(h.Kind())).Logger()}
}

// Kind reports the artifact kind this Driver runs against.
func (d *Driver) Kind() types.Kind { return d.h.Kind() }

// PullAll invokes the Helper's whole-kind pull exactly once: PullAll
// when opts.IgnoreTimestamps is set, PullModified otherwise.
func (d *Driver) PullAll(ctx context.Context, opts types.Options) (types.Summary, error) {
	if opts.IgnoreTimestamps {
		return d.h.PullAll(ctx, opts)
	}
	return d.h.PullModified(ctx, opts)
}

// PushAll invokes the Helper's whole-kind push exactly once: PushAll
// when opts.IgnoreTimestamps is set, PushModified otherwise.
func (d *Driver) PushAll(ctx context.Context, opts types.Options) (types.Summary, error) {
	if opts.IgnoreTimestamps {
		return d.h.PushAll(ctx, opts)
	}
	return d.h.PushModified(ctx, opts)
}

// RunConcurrent fans items out across a bounded worker pool, calling
// fn once per item. A retryable failure (types.SyncError.IsRetryable)
// is re-enqueued, after cfg.RetryDelay, up to cfg.RetryBudget times
// before being recorded as a final failure. wg.Add for a retry always
// happens on the same goroutine as (and strictly before) the current
// attempt's own wg.Done, so Wait never observes a false zero while a
// retry is still pending. This is the concurrency engine Helper's
// pullBatch/pushBatch call once their item set is known.
func RunConcurrent(ctx context.Context, cfg Config, kind types.Kind, direction string, items []string, fn func(ctx context.Context, path string) (types.Artifact, error)) types.Summary {
	cfg = cfg.WithDefaults()
	logger := log.WithComponent("bulkdriver").With().Str("kind", string(kind)).Logger()

	op := "pushed"
	if direction == "pull" {
		op = "pulled"
	}
	summary := types.Summary{Op: op}
	if len(items) == 0 {
		return summary
	}

	var summaryMu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(cfg.Concurrency)

	var queueDepth int64
	atomic.StoreInt64(&queueDepth, int64(len(items)))
	metrics.BulkQueueDepth.WithLabelValues(string(kind)).Set(float64(len(items)))

	var attempt func(path string, n int)
	attempt = func(path string, n int) {
		defer wg.Done()
		if err := sem.Acquire(ctx, 1); err != nil {
			summaryMu.Lock()
			summary.RecordFailure(path, err)
			summaryMu.Unlock()
			return
		}
		metrics.BulkQueueDepth.WithLabelValues(string(kind)).Set(float64(atomic.AddInt64(&queueDepth, -1)))

		timer := metrics.NewTimer()
		_, opErr := fn(ctx, path)
		if direction == "pull" {
			timer.ObserveDurationVec(metrics.PullItemDuration, string(kind))
		} else {
			timer.ObserveDurationVec(metrics.PushItemDuration, string(kind))
		}
		sem.Release(1)

		if opErr == nil {
			metrics.ItemsSucceededTotal.WithLabelValues(string(kind), direction).Inc()
			summaryMu.Lock()
			summary.RecordSuccess(path)
			summaryMu.Unlock()
			return
		}

		retryable := false
		if se, ok := types.AsSyncError(opErr); ok && se.IsRetryable() {
			retryable = true
		}

		if retryable && n < cfg.RetryBudget {
			metrics.RetryTotal.WithLabelValues(string(kind)).Inc()
			logger.Debug().Str("path", path).Int("attempt", n).Msg("requeueing retryable item")
			wg.Add(1)
			atomic.AddInt64(&queueDepth, 1)
			go func() {
				select {
				case <-time.After(cfg.RetryDelay):
				case <-ctx.Done():
				}
				attempt(path, n+1)
			}()
			return
		}

		metrics.ItemsFailedTotal.WithLabelValues(string(kind), direction).Inc()
		logger.Warn().Str("path", path).Err(opErr).Msg("item failed")
		summaryMu.Lock()
		summary.RecordFailure(path, opErr)
		summaryMu.Unlock()
	}

	for _, path := range items {
		wg.Add(1)
		go attempt(path, 0)
	}

	wg.Wait()
	metrics.BulkQueueDepth.WithLabelValues(string(kind)).Set(0)
	return summary
}
