package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stoik/mailroom/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrForeignThread is returned when a thread id is already owned by another account
	ErrForeignThread = errors.New("thread belongs to another account")
	// ErrStaleEmail is returned when a stored email is newer than the upserted one
	ErrStaleEmail = errors.New("stored email is newer")
)

// ThreadUpsert carries the per-email contribution to a thread aggregate.
// Subject is last-write-wins, LastMessageDate keeps the maximum and
// ParticipantIDs are unioned with what is already stored.
type ThreadUpsert struct {
	ID              string
	AccountID       string
	Subject         string
	LastMessageDate time.Time
	ParticipantIDs  []string
}

// Store is the relational store behind the sync pipeline. Entity writes are
// native insert-or-update by natural key so concurrent callers never need a
// read-then-write.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	// SetDeltaToken advances the account cursor
	SetDeltaToken(ctx context.Context, accountID, token string) error
	// CompleteInitialSync stores the first cursor and flips the status to Completed
	CompleteInitialSync(ctx context.Context, accountID, token string) error

	// UpsertAddress inserts or updates by (accountID, address); defined fields
	// of addr overwrite stored ones
	UpsertAddress(ctx context.Context, accountID string, addr models.EmailAddress) (*models.StoredAddress, error)
	ListAddresses(ctx context.Context, accountID string) ([]models.StoredAddress, error)

	// UpsertThread fails with ErrForeignThread when the id belongs to another account
	UpsertThread(ctx context.Context, t ThreadUpsert) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus) error
	ThreadEmailStates(ctx context.Context, threadID string) ([]models.ThreadEmailState, error)

	// UpsertEmail inserts or updates by (accountID, internet message id). A
	// version older than the stored one is ignored with ErrStaleEmail.
	UpsertEmail(ctx context.Context, email *models.Email) error
	GetEmail(ctx context.Context, accountID, internetMessageID string) (*models.Email, error)
	CountEmails(ctx context.Context, threadID string) (int, error)

	UpsertAttachment(ctx context.Context, att *models.Attachment) error
	ListAttachments(ctx context.Context, emailID string) ([]models.Attachment, error)
}

// NormalizeAddress returns the case-insensitive identity of an address
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// emailColumns is the column order shared by both backends
var emailColumns = []string{
	"id",
	"account_id",
	"thread_id",
	"internet_message_id",
	"created_time",
	"last_modified_time",
	"sent_at",
	"received_at",
	"subject",
	"sys_labels",
	"keywords",
	"sys_classifications",
	"sensitivity",
	"meeting_message_method",
	"from_id",
	"to_ids",
	"cc_ids",
	"bcc_ids",
	"reply_to_ids",
	"has_attachments",
	"body",
	"body_snippet",
	"in_reply_to",
	"email_references",
	"thread_index",
	"internet_headers",
	"native_properties",
	"folder_id",
	"web_link",
	"omitted",
	"email_label",
	"is_deleted",
	"deleted_at",
}

// emailUpsertSQL builds the insert-or-update statement for emails. The first
// deletion timestamp is kept while an email stays deleted, and a record older
// than the stored one leaves the row untouched.
func emailUpsertSQL(placeholders []string) string {
	sets := make([]string, 0, len(emailColumns))
	for _, col := range emailColumns {
		switch col {
		case "account_id", "internet_message_id":
			continue
		case "deleted_at":
			sets = append(sets, "deleted_at = CASE WHEN excluded.is_deleted THEN COALESCE(emails.deleted_at, excluded.deleted_at) ELSE NULL END")
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	return fmt.Sprintf(
		"INSERT INTO emails (%s) VALUES (%s) ON CONFLICT (account_id, internet_message_id) DO UPDATE SET %s "+
			"WHERE excluded.last_modified_time >= emails.last_modified_time",
		joinColumns(emailColumns),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
	)
}

func labelsToStrings(labels []models.SysLabel) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func stringsToLabels(in []string) []models.SysLabel {
	out := make([]models.SysLabel, len(in))
	for i, s := range in {
		out[i] = models.SysLabel(s)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
