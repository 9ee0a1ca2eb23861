package provider

import (
	"context"

	"github.com/stoik/mailroom/internal/models"
)

// BodyType selects the body format the provider returns on each record
type BodyType string

const (
	BodyHTML BodyType = "html"
	BodyText BodyType = "text"
)

// Cursor addresses one page of the updated-records stream.
// Exactly one of DeltaToken or PageToken is set.
type Cursor struct {
	DeltaToken string
	PageToken  string
}

// SyncResult is the outcome of draining the updated-records stream.
// DeltaToken is the token from the terminal page and the only one safe to persist.
type SyncResult struct {
	Emails     []models.EmailMessage
	DeltaToken string
	Pages      int
}

// Provider defines the delta-sync contract of a remote mail provider
type Provider interface {
	// StartSync requests a sync job covering the last daysWithin days.
	// Ready is false while the provider is still materializing the job.
	StartSync(ctx context.Context, token string, daysWithin int, bodyType BodyType) (*models.SyncStartResponse, error)

	// GetUpdatedEmails fetches one page of updated records
	GetUpdatedEmails(ctx context.Context, token string, cursor Cursor) (*models.SyncUpdatedResponse, error)

	// DoInitialSync waits until the sync job is ready, then drains every page
	DoInitialSync(ctx context.Context, token string) (*SyncResult, error)

	// FetchUpdates drains every page of changes since deltaToken
	FetchUpdates(ctx context.Context, token string, deltaToken string) (*SyncResult, error)
}
