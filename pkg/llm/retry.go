package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ChatWithRetry wraps a provider call in exponential backoff. Context
// cancellation stops retrying immediately; other errors (transport failures,
// non-200 responses, explicit error payloads) are retried until maxRetries
// attempts have been made in total.
func ChatWithRetry(ctx context.Context, p Provider, req *Request, maxRetries int) (*Response, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // bounded by the retry count, not wall clock

	var resp *Response
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r, err := p.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}
