package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stoik/mailroom/services/sync-service/internal/store"
)

const (
	DefaultInterval           = 5 * time.Minute
	DefaultAccountConcurrency = 4
	DefaultJitterMax          = 30 * time.Second
	metricsInterval           = time.Minute
)

// AccountSyncer syncs one account
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID string) (*Outcome, error)
}

// RunnerConfig configures a Runner. A zero Interval or AccountConcurrency takes
// the default; a zero JitterMax disables the first-pass stagger.
type RunnerConfig struct {
	Interval           time.Duration
	AccountConcurrency int
	JitterMax          time.Duration
}

// Runner periodically syncs every account. The first pass of each account is
// staggered by a deterministic delay derived from its id so a restart does not
// hit the provider with every account at once.
type Runner struct {
	syncer    AccountSyncer
	store     store.Store
	interval  time.Duration
	jitterMax time.Duration
	sem       chan struct{}
	log       zerolog.Logger

	started sync.Map // account id -> struct{}
	queued  sync.Map // account id -> struct{}, while a sync is waiting or running
	wg      sync.WaitGroup

	synced  int64 // atomic
	failed  int64 // atomic
	fetched int64 // atomic
}

func NewRunner(s AccountSyncer, st store.Store, cfg RunnerConfig) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.AccountConcurrency <= 0 {
		cfg.AccountConcurrency = DefaultAccountConcurrency
	}
	if cfg.JitterMax < 0 {
		cfg.JitterMax = 0
	}

	return &Runner{
		syncer:    s,
		store:     st,
		interval:  cfg.Interval,
		jitterMax: cfg.JitterMax,
		sem:       make(chan struct{}, cfg.AccountConcurrency),
		log:       log.Logger.With().Str("component", "runner").Logger(),
	}
}

// Run syncs all accounts every interval until ctx is done
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("starting sync runner")

	go r.logPerformanceMetrics(ctx)

	r.syncAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.syncAll(ctx)
		}
	}
}

// Shutdown waits for in-flight account syncs with a timeout. Returns true if
// every sync finished before the timeout.
func (r *Runner) Shutdown(timeout time.Duration) bool {
	r.log.Info().Dur("timeout", timeout).Msg("shutting down sync runner")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Msg("all account syncs completed")
		return true
	case <-time.After(timeout):
		r.log.Warn().Msg("shutdown timeout reached, some syncs may still be in progress")
		return false
	}
}

func (r *Runner) syncAll(ctx context.Context) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list accounts")
		return
	}

	for _, acct := range accounts {
		// A tick never stacks a second sync behind one still waiting or running
		if _, busy := r.queued.LoadOrStore(acct.ID, struct{}{}); busy {
			r.log.Debug().Str("account_id", acct.ID).Msg("previous sync not finished, skipping tick")
			continue
		}

		var delay time.Duration
		if _, seen := r.started.LoadOrStore(acct.ID, struct{}{}); !seen {
			delay = r.initialDelay(acct.ID)
		}

		r.wg.Add(1)
		go func(accountID string, delay time.Duration) {
			defer r.wg.Done()
			defer r.queued.Delete(accountID)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			select {
			case <-ctx.Done():
				return
			case r.sem <- struct{}{}:
			}
			defer func() { <-r.sem }()

			r.syncOne(ctx, accountID)
		}(acct.ID, delay)
	}
}

func (r *Runner) syncOne(ctx context.Context, accountID string) {
	outcome, err := r.syncer.SyncAccount(ctx, accountID)
	if outcome != nil {
		atomic.AddInt64(&r.fetched, int64(outcome.Fetched))
	}

	switch {
	case err == nil:
		atomic.AddInt64(&r.synced, 1)
	case errors.Is(err, ErrSyncInProgress):
		r.log.Debug().Str("account_id", accountID).Msg("sync still running, skipping")
	default:
		atomic.AddInt64(&r.failed, 1)
		r.log.Error().Err(err).Str("account_id", accountID).Msg("account sync failed")
	}
}

// initialDelay maps an account id onto [0, jitterMax). The same account
// always gets the same delay.
func (r *Runner) initialDelay(accountID string) time.Duration {
	if r.jitterMax <= 0 {
		return 0
	}

	var seed uint64
	if id, err := uuid.Parse(accountID); err == nil {
		seed = binary.BigEndian.Uint64(id[:8])
	} else {
		sum := sha256.Sum256([]byte(accountID))
		seed = binary.BigEndian.Uint64(sum[:8])
	}

	return time.Duration(seed % uint64(r.jitterMax.Nanoseconds()))
}

func (r *Runner) logPerformanceMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logMetrics()
		}
	}
}

func (r *Runner) logMetrics() {
	r.log.Info().
		Int64("synced", atomic.LoadInt64(&r.synced)).
		Int64("failed", atomic.LoadInt64(&r.failed)).
		Int64("fetched", atomic.LoadInt64(&r.fetched)).
		Msg("sync metrics")
}
