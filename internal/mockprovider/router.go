package mockprovider

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailroom/internal/models"
)

// NewRouter exposes a Mailbox through the provider delta-sync API
func NewRouter(mb *Mailbox) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	email := r.Group("/email", authRequired(mb), injectFailures(mb))
	{
		email.POST("/sync", handleStartSync(mb))
		email.GET("/sync/updated", handleGetUpdated(mb))
	}

	// Admin endpoints for testing
	admin := r.Group("/admin")
	{
		admin.POST("/emails", handleAppendEmails(mb))
		admin.POST("/emails/generate", handleGenerateEmails(mb))
	}

	return r
}

func authRequired(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !mb.Authorized(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Next()
	}
}

func injectFailures(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		if code := mb.nextFailure(); code != 0 {
			c.AbortWithStatusJSON(code, gin.H{"error": "injected failure"})
			return
		}
		c.Next()
	}
}

func handleStartSync(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("daysWithin", "2"))
		if err != nil || days < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid daysWithin"})
			return
		}
		switch c.DefaultQuery("bodyType", "html") {
		case "html", "text":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bodyType"})
			return
		}

		c.JSON(http.StatusOK, mb.StartSync())
	}
}

func handleGetUpdated(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := mb.Updated(c.Query("deltaToken"), c.Query("pageToken"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func handleAppendEmails(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		var records []models.EmailMessage
		if err := c.ShouldBindJSON(&records); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := models.ValidateMessages(records); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		total := mb.Append(records...)
		c.JSON(http.StatusOK, gin.H{"added": len(records), "total": total})
	}
}

func handleGenerateEmails(mb *Mailbox) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Owner string `json:"owner"`
			Count int    `json:"count"`
		}

		// Try JSON body first
		if err := c.ShouldBindJSON(&req); err != nil {
			req.Owner = c.DefaultQuery("owner", "me@example.com")
			if n, err := strconv.Atoi(c.DefaultQuery("count", "10")); err == nil {
				req.Count = n
			}
		}
		if req.Owner == "" {
			req.Owner = "me@example.com"
		}
		if req.Count < 1 {
			req.Count = 1
		}

		total := mb.Generate(req.Owner, req.Count)
		c.JSON(http.StatusOK, gin.H{"added": req.Count, "total": total})
	}
}
