package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/config"
)

var (
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	ErrInvalidTimeout     = errors.New("timeout must be positive")
)

// Options controls dispatch.
type Options struct {
	// Concurrency bounds the number of checks in flight.
	Concurrency int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retries int
	Backoff time.Duration

	Logger *slog.Logger
	// OnPanic is called with the recovered value when a checker panics.
	OnPanic func(item WorkItem, rec any)
}

// DefaultOptions returns conservative defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency: 4 * runtime.GOMAXPROCS(0),
		Timeout:     5 * time.Second,
	}
}

// Validate reports setup errors.
func (o Options) Validate() error {
	if o.Concurrency < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidConcurrency, o.Concurrency)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("%w, got %s", ErrInvalidTimeout, o.Timeout)
	}
	if o.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", o.Retries)
	}
	if o.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative, got %s", o.Backoff)
	}
	return nil
}

// Engine runs work items with bounded concurrency. It is safe for concurrent
// use and holds no state between runs.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an engine.
func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Run expands the realm and executes every work item.
func (e *Engine) Run(ctx context.Context, realm *config.Realm) ([]Result, error) {
	return e.Execute(ctx, Expand(realm))
}

// Execute runs items and returns one result per item, in item order. When ctx
// is canceled, in-flight checks are abandoned, items never dispatched are
// reported as canceled and ctx.Err() is returned alongside the results.
func (e *Engine) Execute(ctx context.Context, items []WorkItem) ([]Result, error) {
	results := make([]Result, len(items))
	dispatched := make([]bool, len(items))
	sem := semaphore.NewWeighted(int64(e.opts.Concurrency))

	var wg sync.WaitGroup
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched[i] = true
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.runItem(ctx, items[i])
		}(i)
	}
	wg.Wait()

	err := ctx.Err()
	for i := range items {
		if dispatched[i] {
			continue
		}
		results[i] = Result{
			Item:    items[i],
			Outcome: Failed(fmt.Errorf("%w: run aborted before dispatch", checks.ErrCanceled)),
		}
	}
	if err != nil {
		e.logger.Warn("run canceled", "items", len(items), "error", err)
		return results, err
	}
	return results, nil
}

func (e *Engine) runItem(ctx context.Context, item WorkItem) (res Result) {
	res = Result{Item: item, StartedAt: time.Now()}
	defer func() {
		res.Latency = time.Since(res.StartedAt)
	}()

	if item.Checker == nil {
		res.Outcome = Failed(fmt.Errorf("%w: check %q has no checker", checks.ErrInternal, item.Check))
		return res
	}

	var err error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		res.Attempts = attempt + 1
		err = e.attempt(ctx, item)
		if err == nil || errors.Is(err, checks.ErrInternal) || ctx.Err() != nil {
			break
		}
		if attempt < e.opts.Retries {
			e.logger.Warn("check attempt failed, retrying",
				"service", item.Service, "check", item.Check, "host", item.Host,
				"attempt", attempt+1, "error", err)
			if !sleep(ctx, e.opts.Backoff) {
				break
			}
		}
	}
	res.Outcome = Failed(err)
	return res
}

func (e *Engine) attempt(ctx context.Context, item WorkItem) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.panicked(item, rec)
				done <- fmt.Errorf("%w: checker panicked: %v", checks.ErrInternal, rec)
			}
		}()
		done <- item.Checker.Check(ctx, item.Host)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no result after %s", checks.ErrTimeout, e.opts.Timeout)
		}
		return fmt.Errorf("%w: %v", checks.ErrCanceled, ctx.Err())
	}
}

func (e *Engine) panicked(item WorkItem, rec any) {
	e.logger.Error("checker panicked",
		"service", item.Service, "check", item.Check, "host", item.Host, "kind", item.Kind,
		"panic", rec, "stack", string(debug.Stack()))
	if e.opts.OnPanic != nil {
		e.opts.OnPanic(item, rec)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
