package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/effort-cli/internal/config"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// JitterFraction adds ±fraction of the computed delay.
	JitterFraction float64
}

// DefaultRetryConfig returns the retry settings used for webhooks.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// Client posts JSON to webhooks, throttled by a token bucket and retrying
// 5xx, 429 and network failures.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
}

// NewClient builds a Client from the notify config.
func NewClient(cfg config.NotifyConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		retry:   DefaultRetryConfig(),
	}
}

// WithRetry returns a copy of c using rc.
func (c *Client) WithRetry(rc RetryConfig) *Client {
	cp := *c
	cp.retry = rc
	return &cp
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// PostJSON marshals payload and posts it to url.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	attempts := max(c.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "notify: rate limit wait")
		}
		lastErr = c.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) || attempt == attempts-1 {
			break
		}

		delay := backoff(attempt, c.retry)
		zap.L().Warn("notify: retrying webhook",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrap(lastErr, "notify: webhook request")
		case <-timer.C:
		}
	}
	return eris.Wrap(lastErr, "notify: webhook request")
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}
	return nil
}

func backoff(attempt int, rc RetryConfig) time.Duration {
	delay := float64(rc.InitialBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(rc.MaxBackoff) {
		delay = float64(rc.MaxBackoff)
	}
	if rc.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * rc.JitterFraction
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
