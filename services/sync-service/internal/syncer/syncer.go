package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stoik/mailroom/internal/models"
	"github.com/stoik/mailroom/services/sync-service/internal/provider"
	"github.com/stoik/mailroom/services/sync-service/internal/reconcile"
	"github.com/stoik/mailroom/services/sync-service/internal/store"
)

var (
	// ErrNoCursor is returned by DeltaSync for an account without a stored delta token
	ErrNoCursor = errors.New("account has no delta token")
	// ErrSyncInProgress is returned when the account is already being synced
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrFetch wraps every provider failure so callers can tell it from store failures
	ErrFetch = errors.New("provider fetch failed")
)

// Reconciler persists a batch of provider records
type Reconciler interface {
	Sync(ctx context.Context, accountID string, emails []models.EmailMessage) (*reconcile.Report, error)
}

// Outcome describes one sync pass of an account
type Outcome struct {
	AccountID      string            `json:"accountId"`
	Initial        bool              `json:"initial"`
	Fetched        int               `json:"fetched"`
	Pages          int               `json:"pages"`
	Report         *reconcile.Report `json:"report,omitempty"`
	DeltaToken     string            `json:"-"`
	CursorAdvanced bool              `json:"cursorAdvanced"`
}

// Syncer composes the provider client and the reconciler. It is the only
// writer of an account's delta token, and writes it only after a batch was
// fully persisted.
type Syncer struct {
	provider   provider.Provider
	store      store.Store
	reconciler Reconciler
	log        zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(p provider.Provider, st store.Store, r Reconciler) *Syncer {
	return &Syncer{
		provider:   p,
		store:      st,
		reconciler: r,
		log:        log.Logger.With().Str("component", "syncer").Logger(),
		inflight:   make(map[string]struct{}),
	}
}

// SetLogger replaces the logger
func (s *Syncer) SetLogger(logger zerolog.Logger) {
	s.log = logger.With().Str("component", "syncer").Logger()
}

// SyncAccount runs an initial sync for accounts that never completed one and
// a delta sync otherwise.
func (s *Syncer) SyncAccount(ctx context.Context, accountID string) (*Outcome, error) {
	return s.exclusive(ctx, accountID, func(acct *models.Account) (*Outcome, error) {
		if acct.InitialSyncStatus == models.InitialSyncCompleted && acct.NextDeltaToken != nil {
			return s.deltaSync(ctx, acct)
		}
		return s.initialSync(ctx, acct)
	})
}

// InitialSync fetches the full mailbox window and, on full success, stores
// the first delta token and marks the account Completed.
func (s *Syncer) InitialSync(ctx context.Context, accountID string) (*Outcome, error) {
	return s.exclusive(ctx, accountID, func(acct *models.Account) (*Outcome, error) {
		return s.initialSync(ctx, acct)
	})
}

// DeltaSync fetches the changes since the stored delta token and advances
// the token on full success.
func (s *Syncer) DeltaSync(ctx context.Context, accountID string) (*Outcome, error) {
	return s.exclusive(ctx, accountID, func(acct *models.Account) (*Outcome, error) {
		return s.deltaSync(ctx, acct)
	})
}

func (s *Syncer) exclusive(ctx context.Context, accountID string, fn func(*models.Account) (*Outcome, error)) (*Outcome, error) {
	s.mu.Lock()
	if _, busy := s.inflight[accountID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("account %s: %w", accountID, ErrSyncInProgress)
	}
	s.inflight[accountID] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, accountID)
		s.mu.Unlock()
	}()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return fn(acct)
}

func (s *Syncer) initialSync(ctx context.Context, acct *models.Account) (*Outcome, error) {
	logger := s.log.With().Str("account_id", acct.ID).Bool("initial", true).Logger()

	result, err := s.provider.DoInitialSync(ctx, acct.AccessToken)
	if err != nil {
		logger.Error().Err(err).Msg("initial sync fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	outcome, err := s.persist(ctx, acct, result, true)
	if err != nil {
		return outcome, err
	}

	if err := s.store.CompleteInitialSync(ctx, acct.ID, result.DeltaToken); err != nil {
		return outcome, fmt.Errorf("failed to store delta token: %w", err)
	}
	outcome.CursorAdvanced = true

	logger.Info().Int("emails", outcome.Fetched).Msg("initial sync completed")
	return outcome, nil
}

func (s *Syncer) deltaSync(ctx context.Context, acct *models.Account) (*Outcome, error) {
	if acct.NextDeltaToken == nil || *acct.NextDeltaToken == "" {
		return nil, fmt.Errorf("account %s: %w", acct.ID, ErrNoCursor)
	}
	logger := s.log.With().Str("account_id", acct.ID).Bool("initial", false).Logger()

	result, err := s.provider.FetchUpdates(ctx, acct.AccessToken, *acct.NextDeltaToken)
	if err != nil {
		logger.Error().Err(err).Msg("delta sync fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	outcome, err := s.persist(ctx, acct, result, false)
	if err != nil {
		return outcome, err
	}

	if err := s.store.SetDeltaToken(ctx, acct.ID, result.DeltaToken); err != nil {
		return outcome, fmt.Errorf("failed to store delta token: %w", err)
	}
	outcome.CursorAdvanced = true

	logger.Info().Int("emails", outcome.Fetched).Msg("delta sync completed")
	return outcome, nil
}

// persist reconciles a fetched result. A non-nil error means the delta token
// must stay where it is.
func (s *Syncer) persist(ctx context.Context, acct *models.Account, result *provider.SyncResult, initial bool) (*Outcome, error) {
	outcome := &Outcome{
		AccountID:  acct.ID,
		Initial:    initial,
		Fetched:    len(result.Emails),
		Pages:      result.Pages,
		DeltaToken: result.DeltaToken,
	}

	if result.DeltaToken == "" {
		return outcome, fmt.Errorf("%w: provider returned no delta token", ErrFetch)
	}

	report, err := s.reconciler.Sync(ctx, acct.ID, result.Emails)
	outcome.Report = report
	if err != nil {
		s.log.Warn().Err(err).
			Str("account_id", acct.ID).
			Msg("batch not fully persisted, keeping delta token")
		return outcome, err
	}

	return outcome, nil
}
