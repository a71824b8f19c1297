package client

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"
)

const retryBase = 100 * time.Millisecond

// WithRetries retries idempotent GETs up to n extra times on transport
// errors and 5xx responses, with exponential backoff and jitter. Signed
// requests are never retried: a replayed nonce would be rejected anyway.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = max(n, 0) }
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	attempts := 1
	if req.Method == http.MethodGet {
		attempts += c.retries
	}

	var (
		resp *http.Response
		err  error
	)
	for i := 0; i < attempts; i++ {
		resp, err = c.HTTPClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if i == attempts-1 {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if werr := sleep(req.Context(), backoff(i)); werr != nil {
			return nil, werr
		}
	}
	return resp, err
}

// backoff is base * 2^attempt plus up to 50ms of jitter.
func backoff(attempt int) time.Duration {
	return retryBase<<attempt + time.Duration(rand.IntN(50))*time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
