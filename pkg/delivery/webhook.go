package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/contexhq/contex/pkg/version"
)

const (
	webhookTimeout = 10 * time.Second
	// webhookRetries is the number of retries after the first attempt,
	// so a failing endpoint sees up to three requests.
	webhookRetries = 2
)

// WebhookSink POSTs envelopes to an agent's webhook URL. Responses in
// the 2xx range succeed; 4xx means the receiver rejected the payload
// and is not retried; anything else is retried with exponential
// backoff.
type WebhookSink struct {
	client *http.Client
	url    string
	secret string

	newBackOff func() backoff.BackOff
}

// NewWebhookSink creates a sink posting to url. When secret is
// non-empty every request carries a signature header.
func NewWebhookSink(client *http.Client, url, secret string) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{
		client:     client,
		url:        url,
		secret:     secret,
		newBackOff: newWebhookBackOff,
	}
}

func newWebhookBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 4
	b.MaxInterval = 16 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, webhookRetries)
}

func (s *WebhookSink) Deliver(ctx context.Context, env Envelope) error {
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
		defer cancel()
		return s.post(attemptCtx, env)
	}
	return backoff.Retry(operation, backoff.WithContext(s.newBackOff(), ctx))
}

func (s *WebhookSink) post(ctx context.Context, env Envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(env.Body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Contex-Webhook/"+version.Version)
	req.Header.Set("X-Contex-Event", env.Type)
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, env.Body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(err)
	}
	return err
}
