package fetch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryAfterJitter spreads retries that honour a Retry-After header by ±10%.
const retryAfterJitter = 0.1

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BaseDelay
	b.Multiplier = c.config.Multiplier
	b.MaxInterval = c.config.MaxDelay
	b.RandomizationFactor = c.config.RandomizationFactor
	b.Reset()
	return b
}

// parseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date form.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// jitter returns d scaled by a random factor in [1-factor, 1+factor].
func jitter(d time.Duration, factor float64, rnd func() float64) time.Duration {
	if d <= 0 || factor <= 0 {
		return d
	}
	delta := factor * float64(d)
	return time.Duration(float64(d) - delta + rnd()*2*delta)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
