package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyResponse marks a completion that produced no content. Empty
// responses are retried like any transient failure; callers may choose to
// treat a persistently empty reply as a soft condition instead of a hard
// error.
var ErrEmptyResponse = errors.New("llm: empty response")

const (
	// DefaultTimeout bounds one model call attempt.
	DefaultTimeout = 60 * time.Second
	// DefaultAttempts is the total number of attempts per logical call.
	DefaultAttempts = 3
	// DefaultBaseDelay is the backoff before the first retry; it doubles
	// after each subsequent failure.
	DefaultBaseDelay = 800 * time.Millisecond
)

// Caller is the call wrapper every generation request goes through: it
// funnels calls through the shared Limiter, enforces a per-attempt timeout,
// and retries transient failures with exponential backoff. Retries of one
// logical call run inside a single permit, so they count against — and queue
// for — the shared concurrency budget.
type Caller struct {
	transport Transport
	limiter   *Limiter
	logger    *slog.Logger

	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
}

// NewCaller wraps transport with the shared limiter and default retry and
// timeout policy.
func NewCaller(transport Transport, limiter *Limiter, logger *slog.Logger) *Caller {
	return &Caller{
		transport: transport,
		limiter:   limiter,
		logger:    logger,
		timeout:   DefaultTimeout,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
	}
}

// WithPolicy overrides the retry/timeout policy. Used by tests to avoid
// real backoff sleeps.
func (c *Caller) WithPolicy(timeout time.Duration, attempts int, baseDelay time.Duration) *Caller {
	c.timeout = timeout
	c.attempts = attempts
	c.baseDelay = baseDelay
	return c
}

// Complete issues one logical model call and returns the trimmed text
// content. An empty response counts as a failed attempt. Exhausted retries
// surface the last error.
func (c *Caller) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	err := c.limiter.RunExclusive(ctx, func() error {
		attempt := 0
		return Do(ctx, c.attempts, c.baseDelay, func() error {
			attempt++
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			content, err := c.transport.Complete(cctx, req)
			if err != nil {
				c.logger.Warn("llm: attempt failed",
					"attempt", attempt, "max_attempts", c.attempts,
					"elapsed", time.Since(start), "error", err)
				return err
			}
			content = strings.TrimSpace(content)
			if content == "" {
				return ErrEmptyResponse
			}
			out = content
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// CompleteText is the single-prompt convenience form. systemPrompt may be
// empty.
func (c *Caller) CompleteText(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var msgs []Message
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return c.Complete(ctx, Request{Messages: msgs})
}

// CompleteJSON issues a structured-output call and decodes the response into
// v. A parse failure is a hard error — it is not retried here, because a
// malformed payload must fail the record rather than corrupt the dataset.
func (c *Caller) CompleteJSON(ctx context.Context, req Request, v any) error {
	content, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(CleanJSON(content)), v); err != nil {
		return fmt.Errorf("llm: parse structured response: %w", err)
	}
	return nil
}
