package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelfx/internal/id"
)

const (
	HeaderSignature = "X-Pixelfx-Signature"
	HeaderTimestamp = "X-Pixelfx-Timestamp"
	HeaderEvent     = "X-Pixelfx-Event"
	HeaderDelivery  = "X-Pixelfx-Delivery"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	http     *http.Client
	secret   string
	attempts int
	backoff  time.Duration
	ceiling  time.Duration
	now      func() time.Time
}

func NewClient(cfg Config) *Client {
	c := &Client{
		http:     cfg.HTTPClient,
		secret:   cfg.SigningSecret,
		attempts: max(cfg.MaxAttempts, 1),
		backoff:  cfg.InitialBackoff,
		ceiling:  cfg.MaxBackoff,
		now:      time.Now,
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	if c.ceiling < c.backoff {
		c.ceiling = c.backoff
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	return c
}

// Deliver posts ev to endpoint, retrying transport failures, 5xx, 408 and
// 429 with capped exponential backoff. An empty endpoint is a no-op. Every
// attempt carries the same delivery ID and signature so receivers can
// deduplicate.
func (c *Client) Deliver(ctx context.Context, endpoint string, ev Event) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if ev.ID == "" {
		ev.ID = id.New()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, ev.Type)
	header.Set(HeaderDelivery, ev.ID)
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSignature, Sign(c.secret, timestamp, body))

	wait := c.backoff
	for attempt := 1; ; attempt++ {
		retry, err := c.post(ctx, endpoint, header, body)
		if err == nil {
			return nil
		}
		if attempt >= c.attempts || retry.give {
			return fmt.Errorf("webhook %s delivery failed after %d attempts: %w", ev.Type, attempt, err)
		}

		delay := wait
		if retry.after > 0 {
			delay = min(retry.after, c.ceiling)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.ceiling)
	}
}

type retryHint struct {
	give  bool
	after time.Duration
}

func (c *Client) post(ctx context.Context, endpoint string, header http.Header, body []byte) (retryHint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return retryHint{give: true}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return retryHint{give: ctx.Err() != nil}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return retryHint{}, nil
	case code == http.StatusTooManyRequests:
		return retryHint{after: retryAfter(resp.Header.Get("Retry-After"))}, statusError(code)
	case code == http.StatusRequestTimeout, code >= 500:
		return retryHint{}, statusError(code)
	default:
		// The receiver rejected the delivery and will do so again.
		return retryHint{give: true}, statusError(code)
	}
}

func statusError(code int) error {
	return fmt.Errorf("receiver returned %d %s", code, http.StatusText(code))
}

// retryAfter understands the delay-seconds form only.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
