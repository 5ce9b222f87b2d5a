package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/domain"
)

const (
	DefaultMaxRetries     = 2
	DefaultRetryDelay     = time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Options tunes retry and timeout behavior of a Gateway.
type Options struct {
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ErrorStatus is the per-channel failure counter shown next to each result.
type ErrorStatus struct {
	Count     int    `json:"count"`
	LastError string `json:"lastError,omitempty"`
}

// Gateway submits artifacts with bounded retry and owns their deletion.
type Gateway struct {
	classifier Classifier
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
	remove     func(path string) error

	mu     sync.RWMutex
	status map[domain.Channel]ErrorStatus
}

// NewGateway creates a gateway around a single-attempt classifier.
func NewGateway(classifier Classifier, opts Options) *Gateway {
	return newGateway(classifier, opts, clock.Sleep, os.Remove)
}

// NewGatewayForTests injects the delay and file removal functions.
func NewGatewayForTests(
	classifier Classifier,
	opts Options,
	sleep func(ctx context.Context, d time.Duration) error,
	remove func(path string) error,
) *Gateway {
	return newGateway(classifier, opts, sleep, remove)
}

func newGateway(
	classifier Classifier,
	opts Options,
	sleep func(ctx context.Context, d time.Duration) error,
	remove func(path string) error,
) *Gateway {
	return &Gateway{
		classifier: classifier,
		opts:       opts.withDefaults(),
		sleep:      sleep,
		remove:     remove,
		status:     make(map[domain.Channel]ErrorStatus),
	}
}

// Submit classifies one artifact. The artifact file is removed exactly once
// regardless of outcome. ctx is the session context: cancelling it stops
// further attempts but lets the attempt already on the wire complete.
func (g *Gateway) Submit(ctx context.Context, artifact domain.Artifact) (domain.ClassificationResult, error) {
	defer g.discard(artifact)

	var lastErr error
	attempts := g.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := g.sleep(ctx, g.opts.RetryDelay); err != nil {
				return domain.ClassificationResult{}, fmt.Errorf("%w: %w", ErrAborted, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return domain.ClassificationResult{}, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		result, err := g.attempt(ctx, artifact)
		if err == nil {
			g.Reset(artifact.Channel)
			return result, nil
		}

		lastErr = err
		g.RecordError(artifact.Channel, err)
		if !IsTransient(err) {
			return domain.ClassificationResult{}, err
		}
		g.opts.Logger.Warn("classification attempt failed",
			"channel", artifact.Channel,
			"artifact", artifact.ID,
			"attempt", attempt,
			"of", attempts,
			"error", err,
		)
	}

	return domain.ClassificationResult{}, fmt.Errorf("classify %s after %d attempts: %w", artifact.Channel, attempts, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, artifact domain.Artifact) (domain.ClassificationResult, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.RequestTimeout)
	defer cancel()
	return g.classifier.Classify(attemptCtx, artifact)
}

// RecordError bumps the channel error counter. The scheduler also reports
// capture failures here.
func (g *Gateway) RecordError(ch domain.Channel, err error) {
	if err == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.status[ch]
	current.Count++
	current.LastError = err.Error()
	g.status[ch] = current
}

// Reset clears the channel error counter.
func (g *Gateway) Reset(ch domain.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[ch] = ErrorStatus{}
}

// Status returns the channel failure counter since its last success.
func (g *Gateway) Status(ch domain.Channel) ErrorStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status[ch]
}

func (g *Gateway) discard(artifact domain.Artifact) {
	if artifact.Path == "" {
		return
	}
	if err := g.remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.opts.Logger.Warn("remove artifact", "artifact", artifact.ID, "path", artifact.Path, "error", err)
	}
}
