package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://hooks.example.test/pixelfx"

func completedEvent() Event {
	return Event{
		Type:     EventJobCompleted,
		JobID:    "job-1",
		Status:   "succeeded",
		Effect:   "cinematic",
		Strength: 40,
		Output:   &Output{Name: "ai-enhanced-cinematic-1.png", Format: "png", Width: 8, Height: 6},
	}
}

func TestDeliverSignsEvent(t *testing.T) {
	var (
		header http.Header
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{SigningSecret: "test-secret", Timeout: 2 * time.Second})
	client.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, client.Deliver(context.Background(), srv.URL, completedEvent()))

	assert.Equal(t, "1700000000", header.Get(HeaderTimestamp))
	assert.Equal(t, EventJobCompleted, header.Get(HeaderEvent))
	assert.NotEmpty(t, header.Get(HeaderDelivery))
	require.NoError(t, Verify("test-secret", header.Get(HeaderTimestamp), header.Get(HeaderSignature), body))
	assert.ErrorIs(t, Verify("other-secret", header.Get(HeaderTimestamp), header.Get(HeaderSignature), body), ErrInvalidSignature)

	var got Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, header.Get(HeaderDelivery), got.ID)
	assert.Equal(t, "job-1", got.JobID)
	require.NotNil(t, got.Output)
	assert.Equal(t, 8, got.Output.Width)
	assert.Empty(t, got.Error)
}

func newMockedClient(t *testing.T, attempts int) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := NewClient(Config{
		SigningSecret:  "s",
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		HTTPClient:     &http.Client{Transport: transport},
	})
	return client, transport
}

func TestDeliverRetriesWithSameDelivery(t *testing.T) {
	client, transport := newMockedClient(t, 3)

	var deliveries []string
	transport.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		deliveries = append(deliveries, req.Header.Get(HeaderDelivery))
		if len(deliveries) < 3 {
			return httpmock.NewStringResponse(http.StatusBadGateway, "upstream down"), nil
		}
		return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
	})

	ev := Event{ID: "delivery-7", Type: EventJobFailed, JobID: "j", Error: "decode error"}
	require.NoError(t, client.Deliver(context.Background(), hookURL, ev))
	assert.Equal(t, []string{"delivery-7", "delivery-7", "delivery-7"}, deliveries)
}

func TestDeliverRetriesThrottled(t *testing.T) {
	client, transport := newMockedClient(t, 2)

	calls := 0
	transport.RegisterResponder(http.MethodPost, hookURL, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
			resp.Header.Set("Retry-After", "30")
			return resp, nil
		}
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	start := time.Now()
	require.NoError(t, client.Deliver(context.Background(), hookURL, completedEvent()))
	assert.Equal(t, 2, calls)
	// Retry-After is capped by MaxBackoff.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	client, transport := newMockedClient(t, 2)
	transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	err := client.Deliver(context.Background(), hookURL, completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	client, transport := newMockedClient(t, 5)
	transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusGone, ""))

	err := client.Deliver(context.Background(), hookURL, completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDeliverStopsOnCancel(t *testing.T) {
	client, transport := newMockedClient(t, 5)
	client.backoff = time.Hour
	client.ceiling = time.Hour
	transport.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Deliver(ctx, hookURL, completedEvent())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDeliverSkipsEmptyEndpoint(t *testing.T) {
	client, transport := newMockedClient(t, 1)
	require.NoError(t, client.Deliver(context.Background(), "  ", completedEvent()))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("-1"))
	assert.Zero(t, retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
