// Package orchestrator drives the pipeline: it walks the resolved stage
// order, consults the cache, invokes stages through their providers, and
// applies each stage's failure policy.
//
// Stages run strictly sequentially. The cache is consulted before every
// invocation and written after every success, so a rerun with unchanged
// inputs and settings costs zero provider calls.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/StephenDMay/loom/internal/cache"
	"github.com/StephenDMay/loom/internal/config"
	"github.com/StephenDMay/loom/internal/contextstore"
	"github.com/StephenDMay/loom/internal/logging"
	"github.com/StephenDMay/loom/internal/provider"
	"github.com/StephenDMay/loom/internal/stage"
	"github.com/StephenDMay/loom/internal/telemetry"
)

// seedStage is the attribution recorded for values the orchestrator
// writes itself, like the initial task.
const seedStage = "orchestrator"

// Orchestrator executes a configured pipeline over a fresh context store
// per run. Construct with New; a zero Orchestrator is not usable.
type Orchestrator struct {
	resolver *config.Resolver
	stages   *stage.Registry
	gateway  *provider.Gateway
	cache    cache.Cache
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	progress ProgressFunc
	noCache  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress registers a callback for stage-level events.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithMetrics wires Prometheus counters for cache and fallback activity.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithoutCache disables cache lookups for the run. Successful outputs are
// still written to the cache so later runs can reuse them.
func WithoutCache() Option {
	return func(o *Orchestrator) { o.noCache = true }
}

// New builds an Orchestrator. The resolver must have been constructed
// against the same stage registry, so every name in its resolution order
// is resolvable here.
func New(resolver *config.Resolver, stages *stage.Registry, gateway *provider.Gateway, c cache.Cache, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		resolver: resolver,
		stages:   stages,
		gateway:  gateway,
		cache:    c,
		logger:   logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline for one task. It returns a RunResult in every
// case that at least one stage was attempted; the error is non-nil when
// the run halted or the context was canceled.
func (o *Orchestrator) Run(ctx context.Context, task string) (*RunResult, error) {
	store := contextstore.New()
	store.Set(stage.TaskKey, task, seedStage)

	order := o.resolver.ResolutionOrder()
	result := &RunResult{Context: store}

	o.logger.Info(ctx, "starting run",
		zap.Int("stages", len(order)),
		zap.Strings("order", order),
	)

	for i, name := range order {
		if err := ctx.Err(); err != nil {
			result.Halted = true
			return result, fmt.Errorf("run canceled before stage %q: %w", name, err)
		}

		sr, err := o.runStage(ctx, store, name, i+1, len(order))
		result.Stages = append(result.Stages, sr)
		if err != nil {
			result.Halted = true
			return result, err
		}
	}

	o.logger.Info(ctx, "run complete", zap.Int("stages", len(result.Stages)))
	return result, nil
}

func (o *Orchestrator) runStage(ctx context.Context, store *contextstore.Store, name string, index, total int) (StageResult, error) {
	ctx = logging.WithStage(ctx, name)
	start := time.Now()

	emit := func(status StageStatus, fallback string, err error) {
		if o.progress == nil {
			return
		}
		o.progress(Progress{
			Stage:    name,
			Status:   status,
			Fallback: fallback,
			Err:      err,
			Elapsed:  time.Since(start),
			Index:    index,
			Total:    total,
		})
	}
	done := func(status StageStatus, output string, err error) StageResult {
		d := time.Since(start)
		o.metrics.ObserveStageDuration(name, d)
		return StageResult{Stage: name, Status: status, Output: output, Err: err, Elapsed: d}
	}

	cfg, err := o.resolver.Resolve(name)
	if err != nil {
		emit(StatusFailedHalted, "", err)
		return done(StatusFailedHalted, "", err), err
	}

	s, ok := o.stages.Get(name)
	if !ok {
		err := &config.ConfigError{Reason: fmt.Sprintf("stage %q is not registered", name)}
		emit(StatusFailedHalted, "", err)
		return done(StatusFailedHalted, "", err), err
	}
	desc := s.Descriptor()

	inputs := store.Snapshot(desc.InputKeys)
	key := cache.Key(cfg, inputs)

	if !o.noCache {
		if entry, hit := o.cache.Lookup(key); hit {
			store.Set(desc.OutputKey, entry.Output, name)
			o.metrics.RecordCacheHit()
			o.logger.Info(ctx, "cache hit", zap.String("key", key[:12]))
			emit(StatusCacheHit, "", nil)
			return done(StatusCacheHit, entry.Output, nil), nil
		}
		o.metrics.RecordCacheMiss()
	}

	emit(StatusInvoking, "", nil)
	output, execErr := s.Execute(ctx, store, cfg)
	if execErr == nil {
		store.Set(desc.OutputKey, output, name)
		if err := o.cache.Store(key, cache.Entry{Stage: name, Output: output, CreatedAt: time.Now()}); err != nil {
			// A broken cache never fails a run that produced good output.
			o.logger.Warn(ctx, "cache write failed", zap.Error(err))
		}
		emit(StatusSucceeded, "", nil)
		return done(StatusSucceeded, output, nil), nil
	}

	// Parent cancellation halts regardless of the stage's policy.
	if ctx.Err() != nil {
		emit(StatusFailedHalted, "", execErr)
		return done(StatusFailedHalted, "", execErr),
			fmt.Errorf("stage %q interrupted: %w", name, execErr)
	}

	// Only a required stage may stop the run. An optional stage that
	// inherited halt-pipeline degrades like skip.
	if cfg.Required && cfg.FallbackMode == config.FallbackHalt {
		o.logger.Error(ctx, "required stage failed, halting", zap.Error(execErr))
		emit(StatusFailedHalted, "", execErr)
		return done(StatusFailedHalted, "", execErr),
			fmt.Errorf("stage %q failed: %w", name, execErr)
	}

	mode := o.applyFallback(ctx, store, name, desc.OutputKey, cfg)
	o.metrics.RecordFallback(name, string(mode))
	o.logger.Warn(ctx, "stage failed, continuing",
		zap.String("fallback", string(mode)),
		zap.Error(execErr),
	)
	emit(StatusFailedRecovered, string(mode), execErr)
	return done(StatusFailedRecovered, "", execErr), nil
}

// applyFallback degrades a failed stage per its policy and returns the
// mode that actually took effect. A use-cache fallback with no prior
// entry degrades to skip.
func (o *Orchestrator) applyFallback(ctx context.Context, store *contextstore.Store, name, outputKey string, cfg config.EffectiveStageConfig) config.FallbackMode {
	switch cfg.FallbackMode {
	case config.FallbackUseCache:
		if entry, ok := o.cache.LatestFor(name); ok {
			store.Set(outputKey, entry.Output, name)
			return config.FallbackUseCache
		}
		o.logger.Warn(ctx, "no cached output to fall back to")
		return config.FallbackSkip
	case config.FallbackUseDefault:
		store.Set(outputKey, cfg.DefaultOutput, name)
		return config.FallbackUseDefault
	default:
		return config.FallbackSkip
	}
}

// Validate resolves every stage in the execution order and probes each
// distinct provider the order references, without invoking any stage. It
// reports a result per stage and keeps going past failures; the error is
// non-nil when any stage failed.
func (o *Orchestrator) Validate(ctx context.Context) ([]StageValidation, error) {
	probed := make(map[string]error)
	results := make([]StageValidation, 0, len(o.resolver.ResolutionOrder()))
	failures := 0

	for _, name := range o.resolver.ResolutionOrder() {
		cfg, err := o.resolver.Resolve(name)
		if err != nil {
			failures++
			results = append(results, StageValidation{Stage: name, Err: err})
			continue
		}

		probeErr, seen := probed[cfg.Provider]
		if !seen {
			probeErr = o.gateway.ValidateProvider(ctx, cfg.Provider)
			probed[cfg.Provider] = probeErr
		}
		if probeErr != nil {
			failures++
		}
		results = append(results, StageValidation{Stage: name, Provider: cfg.Provider, Err: probeErr})
	}

	if failures > 0 {
		return results, fmt.Errorf("%d of %d stages failed validation", failures, len(results))
	}
	return results, nil
}
