package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/stoik/mailroom/internal/models"
	"github.com/stoik/mailroom/services/sync-service/internal/index"
	"github.com/stoik/mailroom/services/sync-service/internal/store"
)

// DefaultConcurrency bounds concurrent store operations per phase
const DefaultConcurrency = 10

var (
	// ErrPartialSync is returned when at least one item of a batch failed to persist
	ErrPartialSync = errors.New("partial sync")
	// ErrUnresolvedSender fails an email whose from address has no stored record
	ErrUnresolvedSender = errors.New("unresolved sender address")
)

// Stage names the step of a reconciliation that a failure happened in
type Stage string

const (
	StageAddress    Stage = "address"
	StageEmail      Stage = "email"
	StageAttachment Stage = "attachment"
	StageConverge   Stage = "converge"
)

// Failure is a single item that could not be persisted
type Failure struct {
	Stage Stage
	Key   string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Key, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Stage Stage  `json:"stage"`
		Key   string `json:"key"`
		Error string `json:"error"`
	}{f.Stage, f.Key, f.Err.Error()})
}

// Report summarizes one reconciliation batch
type Report struct {
	Emails    int       `json:"emails"`
	Addresses int       `json:"addresses"`
	Threads   int       `json:"threads"`
	Failed    []Failure `json:"failed,omitempty"`
}

// Complete reports whether every item of the batch was persisted
func (r *Report) Complete() bool {
	return len(r.Failed) == 0
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithConcurrency sets the per-phase concurrency limit
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithIndexer hands every persisted email to ix
func WithIndexer(ix index.Indexer) Option {
	return func(r *Reconciler) {
		if ix != nil {
			r.indexer = ix
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.log = logger
	}
}

// WithClock overrides the time source used for deletion timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Reconciler merges batches of provider records into the store and keeps
// thread aggregates consistent with their member emails.
type Reconciler struct {
	store       store.Store
	indexer     index.Indexer
	concurrency int
	locks       *keyedMutex
	now         func() time.Time
	log         zerolog.Logger
}

func New(st store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       st,
		indexer:     index.Nop{},
		concurrency: DefaultConcurrency,
		locks:       newKeyedMutex(),
		now:         time.Now,
		log:         log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("component", "reconciler").Logger()
	return r
}

// batch collects results from concurrent workers
type batch struct {
	mu      sync.Mutex
	failed  []Failure
	threads map[string]struct{}
	emails  int
}

func (b *batch) fail(stage Stage, key string, err error) {
	b.mu.Lock()
	b.failed = append(b.failed, Failure{Stage: stage, Key: key, Err: err})
	b.mu.Unlock()
}

func (b *batch) touch(threadID string) {
	b.mu.Lock()
	b.threads[threadID] = struct{}{}
	b.mu.Unlock()
}

func (b *batch) persisted() {
	b.mu.Lock()
	b.emails++
	b.mu.Unlock()
}

// Sync persists emails for accountID. Item failures do not stop the batch;
// they are collected in the report and the returned error wraps
// ErrPartialSync. Only an unreachable store aborts before any write.
func (r *Reconciler) Sync(ctx context.Context, accountID string, emails []models.EmailMessage) (*Report, error) {
	logger := r.log.With().Str("account_id", accountID).Logger()

	if err := r.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}

	b := &batch{threads: make(map[string]struct{})}

	addresses := r.upsertAddresses(ctx, accountID, MergeAddresses(emails), b)

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for i := range emails {
		msg := &emails[i]
		p.Go(func() {
			if err := r.upsertEmail(ctx, accountID, msg, addresses, b); err != nil {
				logger.Error().Err(err).
					Str("internet_message_id", msg.InternetMessageID).
					Str("thread_id", msg.ThreadID).
					Msg("failed to persist email")
				b.fail(StageEmail, msg.InternetMessageID, err)
				return
			}
			b.persisted()
		})
	}
	p.Wait()

	for threadID := range b.threads {
		if err := r.ConvergeThread(ctx, threadID); err != nil {
			logger.Error().Err(err).Str("thread_id", threadID).Msg("failed to converge thread")
			b.fail(StageConverge, threadID, err)
		}
	}

	report := &Report{
		Emails:    b.emails,
		Addresses: len(addresses),
		Threads:   len(b.threads),
		Failed:    b.failed,
	}

	logger.Info().
		Int("emails", report.Emails).
		Int("addresses", report.Addresses).
		Int("threads", report.Threads).
		Int("failed", len(report.Failed)).
		Msg("reconciled batch")

	if !report.Complete() {
		return report, fmt.Errorf("%w: %d of %d emails persisted, %d failures",
			ErrPartialSync, report.Emails, len(emails), len(report.Failed))
	}

	return report, nil
}

// upsertAddresses stores every unique address and returns the lookup table
// keyed by normalized address. It returns only after every upsert finished.
func (r *Reconciler) upsertAddresses(ctx context.Context, accountID string, addrs []models.EmailAddress, b *batch) map[string]*models.StoredAddress {
	var mu sync.Mutex
	lookup := make(map[string]*models.StoredAddress, len(addrs))

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, addr := range addrs {
		p.Go(func() {
			stored, err := r.store.UpsertAddress(ctx, accountID, addr)
			if err != nil {
				r.log.Error().Err(err).Str("address", addr.Address).Msg("failed to upsert address")
				b.fail(StageAddress, addr.Address, err)
				return
			}

			mu.Lock()
			lookup[store.NormalizeAddress(stored.Address)] = stored
			mu.Unlock()
		})
	}
	p.Wait()

	return lookup
}

func (r *Reconciler) upsertEmail(ctx context.Context, accountID string, msg *models.EmailMessage, addresses map[string]*models.StoredAddress, b *batch) error {
	from, ok := addresses[store.NormalizeAddress(msg.From.Address)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnresolvedSender, msg.From.Address)
	}

	participants := newIDSet()
	participants.add(from.ID)
	resolve := func(list []models.EmailAddress) []string {
		ids := make([]string, 0, len(list))
		for _, addr := range list {
			stored, ok := addresses[store.NormalizeAddress(addr.Address)]
			if !ok {
				r.log.Warn().
					Str("internet_message_id", msg.InternetMessageID).
					Str("address", addr.Address).
					Msg("skipping unresolved recipient")
				continue
			}
			ids = append(ids, stored.ID)
			participants.add(stored.ID)
		}
		return ids
	}

	to := resolve(msg.To)
	cc := resolve(msg.Cc)
	bcc := resolve(msg.Bcc)
	replyTo := resolve(msg.ReplyTo)

	err := r.store.UpsertThread(ctx, store.ThreadUpsert{
		ID:              msg.ThreadID,
		AccountID:       accountID,
		Subject:         msg.Subject,
		LastMessageDate: msg.SentAt,
		ParticipantIDs:  participants.ids,
	})
	if err != nil {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, err)
	}
	b.touch(msg.ThreadID)

	label := Classify(msg.SysLabels)
	deleted := IsDeleted(msg.SysLabels)

	email := &models.Email{
		ID:                   msg.ID,
		AccountID:            accountID,
		ThreadID:             msg.ThreadID,
		InternetMessageID:    msg.InternetMessageID,
		CreatedTime:          msg.CreatedTime,
		LastModifiedTime:     msg.LastModifiedTime,
		SentAt:               msg.SentAt,
		ReceivedAt:           msg.ReceivedAt,
		Subject:              msg.Subject,
		SysLabels:            msg.SysLabels,
		Keywords:             msg.Keywords,
		SysClassifications:   msg.SysClassifications,
		Sensitivity:          msg.Sensitivity,
		MeetingMessageMethod: msg.MeetingMessageMethod,
		FromID:               from.ID,
		ToIDs:                to,
		CcIDs:                cc,
		BccIDs:               bcc,
		ReplyToIDs:           replyTo,
		HasAttachments:       msg.HasAttachments,
		Body:                 msg.Body,
		BodySnippet:          msg.BodySnippet,
		InReplyTo:            msg.InReplyTo,
		References:           msg.References,
		ThreadIndex:          msg.ThreadIndex,
		InternetHeaders:      msg.InternetHeaders,
		NativeProperties:     msg.NativeProperties,
		FolderID:             msg.FolderID,
		WebLink:              msg.WebLink,
		Omitted:              msg.Omitted,
		EmailLabel:           label,
		IsDeleted:            deleted,
	}
	if email.Sensitivity == "" {
		email.Sensitivity = models.SensitivityNormal
	}
	if deleted {
		deletedAt := r.now().UTC()
		email.DeletedAt = &deletedAt
	}

	if err := r.store.UpsertEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrStaleEmail) {
			r.log.Debug().
				Str("internet_message_id", msg.InternetMessageID).
				Time("last_modified_time", msg.LastModifiedTime).
				Msg("skipping older version of stored email")
			return nil
		}
		return err
	}

	for _, att := range msg.Attachments {
		err := r.store.UpsertAttachment(ctx, &models.Attachment{
			ID:              att.ID,
			EmailID:         msg.ID,
			Name:            att.Name,
			MimeType:        att.MimeType,
			Size:            att.Size,
			Inline:          att.Inline,
			ContentID:       att.ContentID,
			Content:         att.Content,
			ContentLocation: att.ContentLocation,
		})
		if err != nil {
			r.log.Error().Err(err).
				Str("internet_message_id", msg.InternetMessageID).
				Str("attachment_id", att.ID).
				Msg("failed to upsert attachment")
			b.fail(StageAttachment, att.ID, err)
		}
	}

	if err := r.ConvergeThread(ctx, msg.ThreadID); err != nil {
		r.log.Error().Err(err).Str("thread_id", msg.ThreadID).Msg("failed to converge thread")
		b.fail(StageConverge, msg.ThreadID, err)
	}

	if err := r.indexer.Index(ctx, index.NewDocument(accountID, msg, label, deleted)); err != nil {
		r.log.Warn().Err(err).Str("internet_message_id", msg.InternetMessageID).Msg("failed to index email")
	}

	return nil
}

// ConvergeThread recomputes a thread's folder flags and deletion state from
// every email currently stored for it. Calls for the same thread are
// serialized, and repeating a call without new emails changes nothing.
func (r *Reconciler) ConvergeThread(ctx context.Context, threadID string) error {
	unlock := r.locks.Lock(threadID)
	defer unlock()

	states, err := r.store.ThreadEmailStates(ctx, threadID)
	if err != nil {
		return err
	}

	return r.store.UpdateThreadStatus(ctx, threadID, DeriveThreadStatus(states, r.now()))
}

type idSet struct {
	seen map[string]struct{}
	ids  []string
}

func newIDSet() *idSet {
	return &idSet{seen: make(map[string]struct{})}
}

func (s *idSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}
