package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/StephenDMay/loom/internal/logging"
	"github.com/StephenDMay/loom/internal/telemetry"
)

// Backoff parameter defaults: 1s, 2s, 4s, ... capped at the ceiling.
const (
	defaultBaseBackoff = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Outcome tags one execution result.
type Outcome int

const (
	// OutcomeSuccess carries the provider's raw output.
	OutcomeSuccess Outcome = iota

	// OutcomeRecoverable marks a transient failure still eligible for
	// retry. Execute only surfaces it when the parent context is
	// cancelled mid-backoff; per-attempt transients are retried inside.
	OutcomeRecoverable

	// OutcomeTerminal marks a failure that will not be retried, including
	// an exhausted retry budget.
	OutcomeTerminal
)

// String implements fmt.Stringer for log and metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRecoverable:
		return "recoverable"
	default:
		return "terminal"
	}
}

// Result is the tagged outcome of one Execute call.
type Result struct {
	Outcome  Outcome
	Output   string
	Err      error
	Attempts int
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithBackoff overrides the base delay and delay ceiling. Primarily for
// tests and aggressive local configurations.
func WithBackoff(base, max time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.baseBackoff = base
		g.maxBackoff = max
	}
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway drives providers with per-attempt timeouts, failure
// classification, and exponential-backoff retries.
type Gateway struct {
	registry    *Registry
	logger      *logging.Logger
	metrics     *telemetry.Metrics
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewGateway creates a gateway over the given registry.
func NewGateway(registry *Registry, logger *logging.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Gateway{
		registry:    registry,
		logger:      logger.Named("gateway"),
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the underlying provider registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Execute runs one generation request against the named provider.
//
// Each attempt is bounded by timeout. Transient failures (timeouts, rate
// limits, network errors) are retried up to retryCount times with doubling
// backoff; an exhausted budget escalates to a terminal result carrying the
// last transient reason. Terminal failures return immediately. Parent
// context cancellation propagates to the in-flight attempt.
func (g *Gateway) Execute(ctx context.Context, providerID string, req Request, retryCount int, timeout time.Duration) Result {
	p, ok := g.registry.Get(providerID)
	if !ok {
		err := &UnavailableError{Err: fmt.Errorf("provider %q is not registered", providerID)}
		return Result{Outcome: OutcomeTerminal, Err: err}
	}

	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 {
			g.metrics.RecordRetry(providerID)
			delay := g.backoffDelay(attempt)
			g.logger.Debug(ctx, "backing off before retry",
				zap.String("provider", providerID),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt+1),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{Outcome: OutcomeRecoverable, Err: ctx.Err(), Attempts: attempts}
			}
		}

		attempts++
		output, err := g.attempt(ctx, p, req, timeout)
		if err == nil {
			g.metrics.RecordAttempt(providerID, "success")
			return Result{Outcome: OutcomeSuccess, Output: output, Attempts: attempts}
		}

		// Parent cancellation is not a provider failure; stop retrying
		// and report it as-is.
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeRecoverable, Err: ctx.Err(), Attempts: attempts}
		}

		if !IsTransient(err) {
			g.metrics.RecordAttempt(providerID, "terminal")
			g.logger.Warn(ctx, "terminal provider failure",
				zap.String("provider", providerID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return Result{Outcome: OutcomeTerminal, Err: err, Attempts: attempts}
		}

		g.metrics.RecordAttempt(providerID, "transient")
		g.logger.Warn(ctx, "transient provider failure",
			zap.String("provider", providerID),
			zap.Int("attempt", attempts),
			zap.Int("budget", retryCount+1),
			zap.Error(err),
		)
		lastErr = err
	}

	err := fmt.Errorf("retry budget exhausted after %d attempts: %w", attempts, lastErr)
	g.logger.Error(ctx, "provider retries exhausted",
		zap.String("provider", providerID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return Result{Outcome: OutcomeTerminal, Err: err, Attempts: attempts}
}

// attempt runs one bounded generation call.
func (g *Gateway) attempt(ctx context.Context, p Provider, req Request, timeout time.Duration) (string, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := p.Generate(attemptCtx, req)
	if err != nil {
		// A deadline blown by this attempt (not the parent) is transient.
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &TransientError{Err: fmt.Errorf("attempt timed out after %s: %w", timeout, err)}
		}
		return "", err
	}
	return output, nil
}

// backoffDelay computes the delay before retry number attempt (1-based),
// doubling from the base and capped at the ceiling.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := g.baseBackoff << (attempt - 1)
	if delay > g.maxBackoff || delay <= 0 {
		return g.maxBackoff
	}
	return delay
}

// ValidateProvider performs the named provider's cheap credential or
// reachability check. Unknown identifiers are terminal.
func (g *Gateway) ValidateProvider(ctx context.Context, providerID string) error {
	p, ok := g.registry.Get(providerID)
	if !ok {
		return &UnavailableError{Err: fmt.Errorf("provider %q is not registered", providerID)}
	}
	return p.Validate(ctx)
}
