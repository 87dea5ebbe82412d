package wspool

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRetryDelay caps the exponential backoff between acquisition
// attempts.
const maxRetryDelay = 10 * time.Second

// acquireWithRetry wraps one acquisition function in the pool's retry
// policy: bounded attempts with exponential backoff, retrying only
// transient failures. Exhaustion and pool closure fail fast; they are
// backpressure signals, not transient errors.
func (p *Pool) acquireWithRetry(ctx context.Context, attempt func(context.Context) (*Conn, error)) (*Conn, error) {
	maxAttempts := p.config.MaxRetries
	var lastErr error

	for i := 0; i < maxAttempts; i++ {
		conn, err := attempt(ctx)
		if err == nil {
			if i > 0 {
				p.logger.WithFields(logrus.Fields{
					"attempts": i + 1,
					"uri":      p.config.URI,
				}).Info("acquired connection after retries")
			}
			return conn, nil
		}

		lastErr = err
		if !retryableAcquireError(err) {
			return nil, err
		}
		if i == maxAttempts-1 {
			break
		}

		if waitErr := p.waitForRetry(ctx, i); waitErr != nil {
			return nil, waitErr
		}

		p.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": i + 1,
			"uri":     p.config.URI,
		}).Warn("acquire failed, retrying")
	}

	p.logger.WithError(lastErr).WithFields(logrus.Fields{
		"attempts": maxAttempts,
		"uri":      p.config.URI,
	}).Error("acquire failed after retries")
	return nil, lastErr
}

// retryableAcquireError reports whether an acquisition failure is
// transient. Busy connections are programming errors, and exhaustion
// and pool closure must surface immediately.
func retryableAcquireError(err error) bool {
	switch errCode(err) {
	case CodeConnUnavailable, CodeConnClosed:
		return true
	case CodeConnBusy, CodePoolExhausted, CodePoolUnavailable:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// waitForRetry sleeps for the backoff delay before the next attempt,
// honoring context cancellation.
func (p *Pool) waitForRetry(ctx context.Context, attempt int) error {
	if p.config.RetryBackoff <= 0 {
		return nil
	}

	// delay = backoff * (2^attempt), capped.
	delay := p.config.RetryBackoff << uint(attempt)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}

	p.logger.WithFields(logrus.Fields{
		"attempt": attempt + 1,
		"delay":   delay.String(),
		"uri":     p.config.URI,
	}).Debug("waiting before acquire retry")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
