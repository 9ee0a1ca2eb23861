package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stoik/mailroom/internal/models"
	"github.com/stoik/mailroom/services/sync-service/internal/reconcile"
	"github.com/stoik/mailroom/services/sync-service/internal/store"
	"github.com/stoik/mailroom/services/sync-service/internal/syncer"
)

type handler struct {
	syncer syncer.AccountSyncer
	store  store.Store
	log    zerolog.Logger
}

// NewRouter exposes account management and on-demand sync over HTTP
func NewRouter(s syncer.AccountSyncer, st store.Store) *gin.Engine {
	h := &handler{
		syncer: s,
		store:  st,
		log:    log.Logger.With().Str("component", "api").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.health)

	accounts := r.Group("/accounts")
	{
		accounts.POST("", h.createAccount)
		accounts.GET("/:id", h.getAccount)
		accounts.POST("/:id/sync", h.syncAccount)
	}
	r.GET("/threads/:id", h.getThread)

	return r
}

func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

func (h *handler) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createAccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Name        string `json:"name"`
	AccessToken string `json:"accessToken" binding:"required"`
}

func (h *handler) createAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct := &models.Account{
		Email:       req.Email,
		Name:        req.Name,
		AccessToken: req.AccessToken,
	}
	if err := h.store.CreateAccount(c.Request.Context(), acct); err != nil {
		h.log.Error().Err(err).Str("email", req.Email).Msg("failed to create account")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, acct)
}

func (h *handler) getAccount(c *gin.Context) {
	acct, err := h.store.GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, acct)
}

func (h *handler) getThread(c *gin.Context) {
	thread, err := h.store.GetThread(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, thread)
}

// syncAccount runs one sync pass. A partially persisted batch is reported as
// a generic failure; the mailbox keeps its last fully synced cursor.
func (h *handler) syncAccount(c *gin.Context) {
	accountID := c.Param("id")

	outcome, err := h.syncer.SyncAccount(c.Request.Context(), accountID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, outcome)
	case errors.Is(err, syncer.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, syncer.ErrFetch):
		h.log.Error().Err(err).Str("account_id", accountID).Msg("provider fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to sync"})
	case errors.Is(err, reconcile.ErrPartialSync):
		h.log.Error().Err(err).Str("account_id", accountID).Msg("sync partially persisted")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync", "outcome": outcome})
	default:
		h.log.Error().Err(err).Str("account_id", accountID).Msg("sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sync"})
	}
}
