package index

import (
	"context"
	"fmt"
	"time"

	"github.com/stoik/mailroom/internal/models"
)

// Document is the normalized form of an email handed to the search collaborator
type Document struct {
	InternetMessageID string            `json:"internetMessageId"`
	ProviderID        string            `json:"providerId"`
	AccountID         string            `json:"accountId"`
	ThreadID          string            `json:"threadId"`
	Subject           string            `json:"subject"`
	From              string            `json:"from"`
	To                []string          `json:"to"`
	Snippet           string            `json:"snippet,omitempty"`
	Body              string            `json:"body,omitempty"`
	SentAt            time.Time         `json:"sentAt"`
	LastModifiedTime  time.Time         `json:"lastModifiedTime"`
	Label             models.EmailLabel `json:"label"`
	IsDeleted         bool              `json:"isDeleted"`
}

// DedupID identifies one version of a document. A relabeled or trashed email
// gets a new id even when the provider keeps its modification time.
func (d Document) DedupID() string {
	return fmt.Sprintf("%s:%d:%s:%t", d.InternetMessageID, d.LastModifiedTime.UnixNano(), d.Label, d.IsDeleted)
}

// Indexer receives documents for every email persisted by a sync
type Indexer interface {
	Index(ctx context.Context, doc Document) error
}

// NewDocument builds the search document for a provider record
func NewDocument(accountID string, msg *models.EmailMessage, label models.EmailLabel, deleted bool) Document {
	doc := Document{
		InternetMessageID: msg.InternetMessageID,
		ProviderID:        msg.ID,
		AccountID:         accountID,
		ThreadID:          msg.ThreadID,
		Subject:           msg.Subject,
		From:              msg.From.Address,
		SentAt:            msg.SentAt,
		LastModifiedTime:  msg.LastModifiedTime,
		Label:             label,
		IsDeleted:         deleted,
	}

	for _, to := range msg.To {
		doc.To = append(doc.To, to.Address)
	}
	if msg.BodySnippet != nil {
		doc.Snippet = *msg.BodySnippet
	}
	if msg.Body != nil {
		doc.Body = *msg.Body
	}

	return doc
}

// Nop discards documents. Used when no index backend is configured.
type Nop struct{}

func (Nop) Index(context.Context, Document) error { return nil }
