package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	StreamName = "MAIL_INDEX"
	// subjects are account.<account id>.email.indexed
	subjectPattern = "account.*.email.>"
)

// NATSPublisher publishes index documents to a JetStream stream. The document
// version is used as the message id so a resent unchanged email is dropped
// inside the stream's duplicate window while label and deletion changes are
// always delivered.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewNATSPublisher connects to url and makes sure the index stream exists
func NewNATSPublisher(ctx context.Context, url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailroom-sync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := &NATSPublisher{nc: nc, js: js}
	if err := p.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	return p, nil
}

// EnsureStream creates the MAIL_INDEX stream if it does not exist yet
func (p *NATSPublisher) EnsureStream(ctx context.Context) error {
	info, err := p.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil && info != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPattern},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Subject returns the subject documents of an account are published on
func Subject(accountID string) string {
	return fmt.Sprintf("account.%s.email.indexed", accountID)
}

func (p *NATSPublisher) Index(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = p.js.Publish(Subject(doc.AccountID), payload,
		nats.MsgId(doc.DedupID()),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to publish document %s: %w", doc.InternetMessageID, err)
	}

	return nil
}

// Close drains pending publishes and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

var _ Indexer = (*NATSPublisher)(nil)
