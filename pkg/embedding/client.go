package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the maximum number of texts sent to a
	// provider in one request.
	DefaultBatchSize = 50
	// DefaultConcurrency bounds how many batches are in flight at once.
	DefaultConcurrency = 5
	// DefaultTimeout applies to each provider attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultRetries is the number of retries after a failed attempt.
	DefaultRetries = 3
)

// Client splits large embedding requests into batches, runs them with
// bounded concurrency and retries transient provider failures.
type Client struct {
	provider    Provider
	batchSize   int
	concurrency int
	timeout     time.Duration
	retries     uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithBatchSize sets the maximum batch size per provider request.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many batches may be in flight at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many times a failed batch is retried.
func WithRetries(n uint64) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// NewClient creates a batching client around p.
func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{
		provider:    p,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		retries:     DefaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.provider.Name() }

// Embed embeds texts in batches. Results line up with the input order;
// any batch failing after retries fails the whole call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			batch, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch %d-%d: %w", start, end-1, err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		result, err := c.provider.Embed(attemptCtx, batch)
		if err != nil {
			return err
		}
		if len(result) != len(batch) {
			// A miscounting provider will not fix itself on retry.
			return backoff.Permanent(fmt.Errorf("provider %s returned %d vectors for %d texts", c.provider.Name(), len(result), len(batch)))
		}
		vectors = result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return vectors, nil
}
