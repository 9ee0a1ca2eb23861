package models

import (
	"time"
)

// InitialSyncStatus tracks whether an account has completed its first full sync
type InitialSyncStatus string

const (
	InitialSyncPending   InitialSyncStatus = "Pending"
	InitialSyncCompleted InitialSyncStatus = "Completed"
)

// Account model for database.
// AccessToken is issued by the OAuth collaborator and used as the provider bearer token.
// NextDeltaToken is nil until the first successful full sync.
type Account struct {
	ID                string            `db:"id" json:"id"`
	Email             string            `db:"email" json:"email"`
	Name              string            `db:"name" json:"name"`
	AccessToken       string            `db:"access_token" json:"-"`
	NextDeltaToken    *string           `db:"next_delta_token" json:"nextDeltaToken,omitempty"`
	InitialSyncStatus InitialSyncStatus `db:"initial_sync_status" json:"initialSyncStatus"`
	CreatedAt         time.Time         `db:"created_at" json:"createdAt"`
}

// StoredAddress is an EmailAddress persisted for one account, with its durable id
type StoredAddress struct {
	ID        string  `db:"id" json:"id"`
	AccountID string  `db:"account_id" json:"accountId"`
	Name      *string `db:"name" json:"name,omitempty"`
	Address   string  `db:"address" json:"address"`
	Raw       *string `db:"raw" json:"raw,omitempty"`
}
