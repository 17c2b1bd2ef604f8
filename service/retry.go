package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Stream loop defaults. Overridable per call through StreamLoopOptions.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1200 * time.Millisecond
	DefaultMaxDelay    = 8000 * time.Millisecond

	// minRetryAfterDelay floors provider Retry-After hints
	minRetryAfterDelay = 600 * time.Millisecond
	// maxJitter is the random spread added to exponential backoff
	maxJitter = 300 * time.Millisecond
)

// rateLimitPatterns are the transient provider failure signals worth retrying.
// Anything else is fatal on first occurrence.
var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"too many requests",
	"quota exceeded",
}

// IsRateLimitError classifies an error message as a transient rate-limit or
// quota signal.
func IsRateLimitError(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// retryAfterRe matches a Retry-After style hint inside an error message,
// e.g. "retry after 3s", "Retry-After: 2", "retry after 1500ms".
var retryAfterRe = regexp.MustCompile(`(?i)retry[-_ ]?after[:\s]*([0-9]+(?:\.[0-9]+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`)

// parseRetryAfter extracts a Retry-After hint from an error message.
// A bare number is read as seconds.
func parseRetryAfter(message string) (time.Duration, bool) {
	m := retryAfterRe.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	var value float64
	if _, err := fmt.Sscanf(m[1], "%f", &value); err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	if strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "millisecond") {
		return time.Duration(value * float64(time.Millisecond)), true
	}
	return time.Duration(value * float64(time.Second)), true
}

// BackoffDelay computes the inter-attempt delay. A Retry-After hint in the
// error message wins, clamped to [600ms, maxDelay]; otherwise exponential
// backoff from baseDelay with up to 300ms of jitter, clamped to maxDelay.
func BackoffDelay(attempt int, errMessage string, baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	if hint, ok := parseRetryAfter(errMessage); ok {
		if hint < minRetryAfterDelay {
			hint = minRetryAfterDelay
		}
		if hint > maxDelay {
			hint = maxDelay
		}
		return hint
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := baseDelay << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(maxJitter)))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// StreamLoopOptions configures one RunStreamLoop invocation. Zero values for
// the knobs take the package defaults.
type StreamLoopOptions struct {
	Provider Provider     // resolved provider/model handle
	Request  *TurnRequest // serialized history plus workspace context
	Metrics  MetricsSink  // terminal outcome sink, reported exactly once
	Label    string       // label base; attempts run as "{label}:try{n}"

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StreamDebug bool

	// Sleep is the inter-attempt wait; tests inject a fake. Nil uses a
	// context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// StreamLoopCallbacks are the caller's hooks into the loop.
type StreamLoopCallbacks struct {
	OnUpdate         func(*StreamResult)
	OnRateLimitRetry func(attempt int)
}

// RunStreamLoop produces one conversation turn, retrying rate-limited
// attempts with backoff. On terminal failure it returns the last attempt's
// partial result (content streamed before the failure is preserved) together
// with the final error. It never panics across attempts, and it reports to
// the metrics sink exactly once per invocation.
func RunStreamLoop(ctx context.Context, opts StreamLoopOptions, cb StreamLoopCallbacks) (*StreamResult, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	report := func(outcome RunOutcome) {
		if opts.Metrics != nil {
			opts.Metrics.Report(outcome)
		}
	}
	track := func(category string) {
		if opts.Metrics != nil {
			opts.Metrics.Track(category)
		}
	}

	var last *StreamResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Cancellation is observed at task boundaries
		if err := ctx.Err(); err != nil {
			report(RunOutcome{Attempts: attempt - 1, Error: err.Error()})
			return last, err
		}

		label := fmt.Sprintf("%s:try%d", opts.Label, attempt)
		Debugf("stream loop %s starting", label)

		result := runAttempt(ctx, opts, cb, label, track)
		last = result

		if result.Error == "" {
			outcome := RunOutcome{Success: true, Attempts: attempt}
			if result.Usage != nil {
				outcome.InputTokens = result.Usage.InputTokens
				outcome.OutputTokens = result.Usage.OutputTokens
			}
			report(outcome)
			return result, nil
		}

		if IsRateLimitError(result.Error) && attempt < maxAttempts {
			Warnf("stream loop %s rate limited: %s", label, result.Error)
			if cb.OnRateLimitRetry != nil {
				cb.OnRateLimitRetry(attempt)
			}
			delay := BackoffDelay(attempt, result.Error, opts.BaseDelay, opts.MaxDelay)
			if err := sleep(ctx, delay); err != nil {
				report(RunOutcome{Attempts: attempt, Error: err.Error()})
				return last, err
			}
			continue
		}

		// Fatal error, or rate limit with attempts exhausted: surface the
		// provider's original error text without fabrication.
		report(RunOutcome{Attempts: attempt, Error: result.Error})
		return result, errors.New(result.Error)
	}

	// Unreachable: the loop always returns from within
	return last, errors.New("stream loop exited without a terminal outcome")
}

// runAttempt builds a fresh event stream and assembles it. Failures to even
// open the stream are folded into a result error so classification is uniform.
func runAttempt(ctx context.Context, opts StreamLoopOptions, cb StreamLoopCallbacks, label string, track func(string)) *StreamResult {
	stream, err := opts.Provider.StreamTurn(ctx, opts.Request)
	if err != nil {
		return &StreamResult{Error: err.Error()}
	}

	assembler := &StreamAssembler{
		OnUpdate:   cb.OnUpdate,
		OnPartType: track,
		Debug:      NewStreamDebugLogger(label, opts.StreamDebug),
	}
	return assembler.Assemble(stream)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
