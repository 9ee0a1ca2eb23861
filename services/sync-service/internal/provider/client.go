package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/stoik/mailroom/internal/models"
)

const (
	DefaultBaseURL    = "http://localhost:8080"
	DefaultDaysWithin = 2
)

// StatusError is returned when the provider answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Config configures an HTTPClient
type Config struct {
	BaseURL    string
	DaysWithin int
	BodyType   BodyType
	Retry      RetryPolicy
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// HTTPClient implements Provider against the REST delta-sync API
type HTTPClient struct {
	baseURL    string
	daysWithin int
	bodyType   BodyType
	retry      RetryPolicy
	client     *http.Client
	log        zerolog.Logger
}

// NewHTTPClient creates a provider client, filling unset config with defaults
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DaysWithin <= 0 {
		cfg.DaysWithin = DefaultDaysWithin
	}
	if cfg.BodyType == "" {
		cfg.BodyType = BodyHTML
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		daysWithin: cfg.DaysWithin,
		bodyType:   cfg.BodyType,
		retry:      cfg.Retry,
		client:     cfg.HTTPClient,
		log:        logger.With().Str("component", "provider").Logger(),
	}
}

// NewProvider creates a provider client from viper configuration
func NewProvider() Provider {
	return NewHTTPClient(Config{
		BaseURL:    viper.GetString("provider.api_url"),
		DaysWithin: viper.GetInt("provider.days_within"),
		BodyType:   BodyType(viper.GetString("provider.body_type")),
		Retry: RetryPolicy{
			Interval:    viper.GetDuration("provider.ready_poll_interval"),
			MaxAttempts: viper.GetInt("provider.ready_max_attempts"),
			Timeout:     viper.GetDuration("provider.ready_timeout"),
		},
	})
}

// StartSync implements Provider.StartSync
func (c *HTTPClient) StartSync(ctx context.Context, token string, daysWithin int, bodyType BodyType) (*models.SyncStartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("daysWithin", strconv.Itoa(daysWithin))
	q.Set("bodyType", string(bodyType))
	req.URL.RawQuery = q.Encode()

	var resp models.SyncStartResponse
	if err := c.do(req, token, &resp); err != nil {
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetUpdatedEmails implements Provider.GetUpdatedEmails
func (c *HTTPClient) GetUpdatedEmails(ctx context.Context, token string, cursor Cursor) (*models.SyncUpdatedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/email/sync/updated", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	if cursor.PageToken != "" {
		q.Set("pageToken", cursor.PageToken)
	} else {
		q.Set("deltaToken", cursor.DeltaToken)
	}
	req.URL.RawQuery = q.Encode()

	var resp models.SyncUpdatedResponse
	if err := c.do(req, token, &resp); err != nil {
		return nil, fmt.Errorf("failed to get updated emails: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	return &resp, nil
}

// DoInitialSync implements Provider.DoInitialSync
func (c *HTTPClient) DoInitialSync(ctx context.Context, token string) (*SyncResult, error) {
	start, err := c.waitReady(ctx, token)
	if err != nil {
		return nil, err
	}

	result, err := c.drain(ctx, token, start.SyncUpdatedToken)
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Int("emails", len(result.Emails)).
		Int("pages", result.Pages).
		Msg("initial sync fetched")

	return result, nil
}

// FetchUpdates implements Provider.FetchUpdates
func (c *HTTPClient) FetchUpdates(ctx context.Context, token string, deltaToken string) (*SyncResult, error) {
	if deltaToken == "" {
		return nil, fmt.Errorf("delta token is required")
	}
	return c.drain(ctx, token, deltaToken)
}

// waitReady starts a sync job and polls until the provider reports it ready
func (c *HTTPClient) waitReady(ctx context.Context, token string) (*models.SyncStartResponse, error) {
	ctx, cancel := c.retry.withContext(ctx)
	defer cancel()

	for attempt := 1; ; attempt++ {
		resp, err := c.StartSync(ctx, token, c.daysWithin, c.bodyType)
		if err != nil {
			return nil, err
		}
		if resp.Ready {
			return resp, nil
		}
		if c.retry.exhausted(attempt) {
			return nil, fmt.Errorf("%w after %d attempts", ErrSyncNotReady, attempt)
		}

		c.log.Debug().Int("attempt", attempt).Msg("sync job not ready, polling")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrSyncNotReady, ctx.Err())
		case <-time.After(c.retry.interval()):
		}
	}
}

// drain follows nextPageToken until the terminal page. Only the terminal page's
// nextDeltaToken is returned; intermediate pages never advance the cursor.
func (c *HTTPClient) drain(ctx context.Context, token string, deltaToken string) (*SyncResult, error) {
	result := &SyncResult{}
	cursor := Cursor{DeltaToken: deltaToken}

	for {
		page, err := c.GetUpdatedEmails(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		result.Pages++
		result.Emails = append(result.Emails, page.Records...)

		if page.NextPageToken == "" {
			result.DeltaToken = page.NextDeltaToken
			return result, nil
		}
		cursor = Cursor{PageToken: page.NextPageToken}
	}
}

func (c *HTTPClient) do(req *http.Request, token string, out any) error {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

var _ Provider = (*HTTPClient)(nil)
