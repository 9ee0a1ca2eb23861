package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailroom/internal/mockprovider"
)

const testToken = "secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestClient(t *testing.T, mb *mockprovider.Mailbox, retry RetryPolicy) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(mockprovider.NewRouter(mb))
	t.Cleanup(srv.Close)

	logger := zerolog.Nop()
	return NewHTTPClient(Config{
		BaseURL: srv.URL,
		Retry:   retry,
		Logger:  &logger,
	})
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Interval: time.Millisecond, MaxAttempts: attempts}
}

func TestDoInitialSyncDrainsEveryPage(t *testing.T) {
	mb := mockprovider.NewMailbox(
		mockprovider.WithPageSize(4),
		mockprovider.WithReadyAfter(3),
		mockprovider.WithToken(testToken),
	)
	mb.Generate("me@example.com", 10)
	c := newTestClient(t, mb, fastRetry(5))

	result, err := c.DoInitialSync(context.Background(), testToken)
	require.NoError(t, err)

	assert.Len(t, result.Emails, 10)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, "delta-10", result.DeltaToken)
	assert.Equal(t, 3, mb.Polls())
}

func TestDrainKeepsOnlyTerminalDeltaToken(t *testing.T) {
	// Every page carries a delta token; intermediate ones must be ignored
	pages := map[string]string{
		"":   `{"nextPageToken":"p2","nextDeltaToken":"intermediate-1","length":0,"records":[]}`,
		"p2": `{"nextPageToken":"p3","nextDeltaToken":"intermediate-2","length":0,"records":[]}`,
		"p3": `{"nextDeltaToken":"final","length":0,"records":[]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pages[r.URL.Query().Get("pageToken")]))
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	result, err := c.FetchUpdates(context.Background(), testToken, "start")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, "final", result.DeltaToken)
}

func TestFetchUpdatesReturnsOnlyNewRecords(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithPageSize(5))
	mb.Generate("me@example.com", 7)
	c := newTestClient(t, mb, fastRetry(1))
	ctx := context.Background()

	initial, err := c.DoInitialSync(ctx, testToken)
	require.NoError(t, err)
	require.Equal(t, "delta-7", initial.DeltaToken)

	mb.Generate("me@example.com", 2)

	updates, err := c.FetchUpdates(ctx, testToken, initial.DeltaToken)
	require.NoError(t, err)
	assert.Len(t, updates.Emails, 2)
	assert.Equal(t, "delta-9", updates.DeltaToken)

	empty, err := c.FetchUpdates(ctx, testToken, updates.DeltaToken)
	require.NoError(t, err)
	assert.Empty(t, empty.Emails)
	assert.Equal(t, "delta-9", empty.DeltaToken)
}

func TestFetchUpdatesRequiresToken(t *testing.T) {
	c := NewHTTPClient(Config{})
	_, err := c.FetchUpdates(context.Background(), testToken, "")
	assert.Error(t, err)
}

func TestReadinessPollExhausted(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithReadyAfter(100))
	c := newTestClient(t, mb, fastRetry(3))

	_, err := c.DoInitialSync(context.Background(), testToken)
	require.ErrorIs(t, err, ErrSyncNotReady)
	assert.Equal(t, 3, mb.Polls())
}

func TestReadinessPollTimeout(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithReadyAfter(1 << 20))
	c := newTestClient(t, mb, RetryPolicy{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond})

	_, err := c.DoInitialSync(context.Background(), testToken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyncNotReady) || errors.Is(err, context.DeadlineExceeded))
}

func TestReadinessPollHonoursCancel(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithReadyAfter(1 << 20))
	c := newTestClient(t, mb, RetryPolicy{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := c.DoInitialSync(ctx, testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroRetryPolicyIsBounded(t *testing.T) {
	c := NewHTTPClient(Config{})
	assert.Equal(t, DefaultRetryPolicy(), c.retry)
}

func TestTransportErrorAbortsInitialSync(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithPageSize(2))
	mb.Generate("me@example.com", 5)
	c := newTestClient(t, mb, fastRetry(1))

	// start and first page pass, second page fails
	mb.FailNext(0, 0, http.StatusServiceUnavailable)

	result, err := c.DoInitialSync(context.Background(), testToken)
	require.Error(t, err)
	assert.Nil(t, result)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestUnauthorized(t *testing.T) {
	mb := mockprovider.NewMailbox(mockprovider.WithToken(testToken))
	c := newTestClient(t, mb, fastRetry(1))

	_, err := c.StartSync(context.Background(), "wrong", 2, BodyHTML)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestInvalidRecordIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"nextDeltaToken":"d1","length":1,"records":[{"id":"x","threadId":"t"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	_, err := c.FetchUpdates(context.Background(), testToken, "d0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sync updated response")
}

func TestMissingTerminalDeltaTokenIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"length":0,"records":[]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	_, err := c.FetchUpdates(context.Background(), testToken, "d0")
	assert.Error(t, err)
}
