package mockprovider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailroom/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStartSyncReadiness(t *testing.T) {
	mb := NewMailbox(WithReadyAfter(2))

	first := mb.StartSync()
	assert.False(t, first.Ready)
	assert.Empty(t, first.SyncUpdatedToken)

	second := mb.StartSync()
	assert.True(t, second.Ready)
	assert.Equal(t, "delta-0", second.SyncUpdatedToken)
	assert.Equal(t, 2, mb.Polls())
}

func TestUpdatedPaging(t *testing.T) {
	mb := NewMailbox(WithPageSize(4))
	mb.Generate("me@example.com", 10)

	page, err := mb.Updated("delta-0", "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 4)
	assert.Equal(t, "page-4-10", page.NextPageToken)

	// Records appended mid-drain belong to the next delta
	mb.Generate("me@example.com", 3)

	page, err = mb.Updated("", page.NextPageToken)
	require.NoError(t, err)
	assert.Len(t, page.Records, 4)
	assert.Equal(t, "page-8-10", page.NextPageToken)

	page, err = mb.Updated("", page.NextPageToken)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Empty(t, page.NextPageToken)
	assert.Equal(t, "delta-10", page.NextDeltaToken)

	page, err = mb.Updated("delta-10", "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 3)
	assert.Equal(t, "delta-13", page.NextDeltaToken)
}

func TestUpdatedRejectsBadTokens(t *testing.T) {
	mb := NewMailbox()
	mb.Generate("me@example.com", 2)

	for _, tc := range []struct{ delta, page string }{
		{"", ""},
		{"nope", ""},
		{"delta-9", ""},
		{"", "page-x"},
		{"", "page-0-99"},
	} {
		_, err := mb.Updated(tc.delta, tc.page)
		assert.Error(t, err, "delta=%q page=%q", tc.delta, tc.page)
	}
}

func TestGeneratedRecordsAreValid(t *testing.T) {
	mb := NewMailbox(WithPageSize(100))
	mb.Generate("me@example.com", 25)

	page, err := mb.Updated("delta-0", "")
	require.NoError(t, err)
	assert.NoError(t, models.ValidateMessages(page.Records))
	assert.NoError(t, page.Validate())
}

func TestRouter(t *testing.T) {
	mb := NewMailbox(WithToken("secret"), WithPageSize(2))
	r := NewRouter(mb)

	do := func(method, target, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPost, "/email/sync", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodPost, "/email/sync", "other", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/email/sync?daysWithin=0", "secret", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/email/sync?bodyType=pdf", "secret", "").Code)

	w := do(http.MethodPost, "/admin/emails/generate", "", `{"owner":"me@example.com","count":3}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/email/sync?daysWithin=2&bodyType=text", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	var start models.SyncStartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &start))
	assert.True(t, start.Ready)

	w = do(http.MethodGet, "/email/sync/updated?deltaToken="+start.SyncUpdatedToken, "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page models.SyncUpdatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Records, 2)
	assert.Equal(t, "page-2-3", page.NextPageToken)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/email/sync/updated?deltaToken=bad", "secret", "").Code)

	mb.FailNext(http.StatusBadGateway)
	assert.Equal(t, http.StatusBadGateway, do(http.MethodPost, "/email/sync", "secret", "").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/email/sync", "secret", "").Code)
}

func TestAppendEmailsValidates(t *testing.T) {
	mb := NewMailbox()
	r := NewRouter(mb)

	req := httptest.NewRequest(http.MethodPost, "/admin/emails", strings.NewReader(`[{"id":"x"}]`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	page, err := mb.Updated("delta-0", "")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}
