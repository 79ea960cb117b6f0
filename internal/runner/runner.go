package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/osbits/uptimer/internal/config"
	"github.com/osbits/uptimer/internal/engine"
	"github.com/osbits/uptimer/internal/notifier"
	"github.com/osbits/uptimer/internal/report"
)

const defaultNotifyTimeout = 10 * time.Second

// Execute runs one pass over the realm and builds its report. Setup errors
// return a nil report. On cancellation the partial report is returned
// together with the context error.
func Execute(ctx context.Context, realm *config.Realm, opts engine.Options) (*report.Report, error) {
	eng, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	results, runErr := eng.Run(ctx, realm)
	return report.Build(realm, results), runErr
}

// OptionsFromConfig overlays the configured engine section on base.
func OptionsFromConfig(cfg config.EngineConfig, base engine.Options) engine.Options {
	opts := base
	if cfg.Concurrency != nil {
		opts.Concurrency = *cfg.Concurrency
	}
	if cfg.Timeout.Set {
		opts.Timeout = cfg.Timeout.Duration
	}
	if cfg.Retries != nil {
		opts.Retries = *cfg.Retries
	}
	if cfg.Backoff.Set {
		opts.Backoff = cfg.Backoff.Duration
	}
	return opts
}

// Runner executes repeated passes and notifies on changes in the set of
// failing triples.
type Runner struct {
	realm         *config.Realm
	engine        *engine.Engine
	notifiers     *notifier.Registry
	logger        *slog.Logger
	notifyTimeout time.Duration

	mu      sync.Mutex
	failing map[string]report.Failure
	last    *report.Report
	passes  atomic.Int64
}

// New constructs a runner. A nil registry disables notifications.
func New(realm *config.Realm, eng *engine.Engine, notifiers *notifier.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if notifiers == nil {
		notifiers = notifier.NewRegistry()
	}
	return &Runner{
		realm:         realm,
		engine:        eng,
		notifiers:     notifiers,
		logger:        logger,
		notifyTimeout: defaultNotifyTimeout,
		failing:       map[string]report.Failure{},
	}
}

// Last returns the report of the most recent completed pass.
func (r *Runner) Last() *report.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunOnce executes a single pass. Notifications are sent only for passes
// that ran to completion.
func (r *Runner) RunOnce(ctx context.Context) (*report.Report, error) {
	runID := uuid.NewString()
	start := time.Now()
	results, err := r.engine.Run(ctx, r.realm)
	rep := report.Build(r.realm, results)
	r.passes.Add(1)

	attrs := []any{
		"run_id", runID,
		"status", rep.Status,
		"total", rep.Summary.Total,
		"success", rep.Summary.Success,
		"failure", rep.Summary.Failure,
		"duration", time.Since(start),
	}
	if err != nil {
		r.logger.Warn("run aborted", append(attrs, "error", err)...)
		return rep, err
	}
	r.logger.Info("run complete", attrs...)
	for _, f := range rep.Failures {
		r.logger.Debug("check failing", "run_id", runID, "service", f.Service, "check", f.Check, "host", f.Host, "class", f.Class, "reason", f.Reason)
	}
	for _, a := range rep.Ambiguities {
		r.logger.Warn("ambiguous configuration", "detail", a)
	}

	firing, resolved := r.transition(rep)
	if len(firing) > 0 {
		r.dispatch(ctx, r.buildEvent(runID, rep, notifier.StatusFiring, firing))
	}
	if len(resolved) > 0 {
		r.dispatch(ctx, r.buildEvent(runID, rep, notifier.StatusResolved, resolved))
	}
	return rep, nil
}

// transition records rep as the latest pass and returns the triples that
// started failing and the ones that recovered, both in report order.
func (r *Runner) transition(rep *report.Report) (firing, resolved []report.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]report.Failure, len(rep.Failures))
	for _, f := range rep.Failures {
		key := f.Key()
		if _, dup := current[key]; dup {
			continue
		}
		current[key] = f
		if _, was := r.failing[key]; !was {
			firing = append(firing, f)
		}
	}
	if r.last != nil {
		for _, f := range r.last.Failures {
			key := f.Key()
			if _, still := current[key]; still {
				continue
			}
			if _, was := r.failing[key]; was {
				resolved = append(resolved, f)
				delete(r.failing, key)
			}
		}
	}
	r.failing = current
	r.last = rep
	return firing, resolved
}

func (r *Runner) buildEvent(runID string, rep *report.Report, status string, failures []report.Failure) notifier.Event {
	severity := "warning"
	switch {
	case status == notifier.StatusResolved:
		severity = "info"
	case rep.Status == report.StatusUnhealthy:
		severity = "critical"
	}
	return notifier.Event{
		Status:      status,
		Severity:    severity,
		Summary:     fmt.Sprintf("%d of %d checks failing, realm %s", rep.Summary.Failure, rep.Summary.Total, rep.Status),
		RunID:       runID,
		Failures:    failures,
		Totals:      rep.Summary,
		RealmStatus: rep.Status,
		OccurredAt:  time.Now().UTC(),
	}
}

// dispatch delivers event to every notifier concurrently and waits for them.
func (r *Runner) dispatch(ctx context.Context, event notifier.Event) {
	all := r.notifiers.All()
	if len(all) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range all {
		wg.Add(1)
		go func(n notifier.Notifier) {
			defer wg.Done()
			if err := n.Notify(ctx, event); err != nil {
				r.logger.Error("notifier error", "notifier_id", n.ID(), "run_id", event.RunID, "status", event.Status, "error", err)
				return
			}
			r.logger.Info("notification sent", "notifier_id", n.ID(), "run_id", event.RunID, "status", event.Status, "triples", len(event.Failures))
		}(n)
	}
	wg.Wait()
}
