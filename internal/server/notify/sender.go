// Package notify delivers owner, renter and operator messages. Delivery is
// best effort: the lease engine never waits on, or fails because of, a
// notification except where it explicitly asks for the delivery result.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Sender delivers a text message to a recipient on one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, to string, text string) error
}

// RetryPolicy bounds delivery retries of the HTTP senders.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond}

// ErrPermanent marks a rejection that retrying will not fix.
var ErrPermanent = errors.New("permanent delivery failure")

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithJitterPercent(10, b)
	if p.Attempts > 1 {
		b = retry.WithMaxRetries(p.Attempts-1, b)
	} else {
		b = retry.WithMaxRetries(0, b)
	}
	return b
}

// doWithRetry sends the request built by build, retrying on transport
// errors and 5xx responses. 4xx responses are returned as ErrPermanent.
func doWithRetry(ctx context.Context, hc *http.Client, policy RetryPolicy, build func(ctx context.Context) (*http.Request, error)) error {
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
		}
		return nil
	})
}
