package federation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearthnet/hearth/src/event"
)

const (
	// DefaultMaxAttempts is the attempt budget per call.
	DefaultMaxAttempts = 4
	// DefaultBaseDelay is the delay before the first retry; it doubles on
	// each subsequent attempt.
	DefaultBaseDelay = 250 * time.Millisecond
	// DefaultMaxDelay caps the per-attempt delay.
	DefaultMaxDelay = 5 * time.Second
)

// RetryingClient wraps a Client with bounded exponential backoff. Only
// ErrUnreachable is retried; a definite answer, including ErrNotFound,
// returns immediately.
type RetryingClient struct {
	inner Client

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	logger *logrus.Entry
}

// NewRetryingClient wraps inner with the default retry policy.
func NewRetryingClient(inner Client, logger *logrus.Entry) *RetryingClient {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &RetryingClient{
		inner:       inner,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      logger,
	}
}

// WithPolicy overrides the retry policy.
func (c *RetryingClient) WithPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryingClient {
	c.maxAttempts = maxAttempts
	c.baseDelay = baseDelay
	c.maxDelay = maxDelay
	return c
}

func (c *RetryingClient) retry(ctx context.Context, op string, serverName string, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << uint(attempt-1)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			// Jitter spreads concurrent retries against the same
			// server.
			delay += time.Duration(rand.Int63n(int64(delay) / 2))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, ErrUnreachable) {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"server":  serverName,
			"attempt": attempt + 1,
		}).Debug("Retrying federation call")
	}
	return err
}

// FetchEvent implements the Client interface.
func (c *RetryingClient) FetchEvent(ctx context.Context, serverName, roomID, eventID string) (*event.Event, error) {
	var res *event.Event
	err := c.retry(ctx, "fetch_event", serverName, func() error {
		var err error
		res, err = c.inner.FetchEvent(ctx, serverName, roomID, eventID)
		return err
	})
	return res, err
}

// FetchState implements the Client interface.
func (c *RetryingClient) FetchState(ctx context.Context, serverName, roomID, eventID string) ([]*event.Event, error) {
	var res []*event.Event
	err := c.retry(ctx, "fetch_state", serverName, func() error {
		var err error
		res, err = c.inner.FetchState(ctx, serverName, roomID, eventID)
		return err
	})
	return res, err
}

// FetchServerKeys implements the Client interface.
func (c *RetryingClient) FetchServerKeys(ctx context.Context, serverName string) (KeySet, error) {
	var res KeySet
	err := c.retry(ctx, "fetch_server_keys", serverName, func() error {
		var err error
		res, err = c.inner.FetchServerKeys(ctx, serverName)
		return err
	})
	return res, err
}
