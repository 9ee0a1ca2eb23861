package mockprovider

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailroom/internal/models"
)

var (
	firstNames = []string{"John", "Jane", "Bob", "Alice", "Charlie", "Diana", "Eve", "Frank"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis"}
	domains    = []string{"example.com", "company.com", "business.org", "enterprise.net"}
	subjects   = []string{
		"Meeting tomorrow",
		"Project update",
		"Budget review",
		"Team lunch",
		"Quarterly report",
		"Client feedback",
		"Urgent: Action required",
		"Follow up",
	}
	labelSets = [][]models.SysLabel{
		{models.LabelInbox},
		{models.LabelInbox, models.LabelUnread},
		{models.LabelInbox, models.LabelImportant},
		{models.LabelSent},
		{models.LabelDraft},
		{models.LabelTrash},
	}
)

const (
	deltaPrefix = "delta-"
	pagePrefix  = "page-"
)

// Mailbox is an in-memory change stream served through the delta-sync API.
// Every appended record is a change; a delta token is an offset into the stream.
type Mailbox struct {
	mu         sync.Mutex
	changes    []models.EmailMessage
	pageSize   int
	readyAfter int
	polls      int
	token      string
	failures   []int
}

// Option configures a Mailbox
type Option func(*Mailbox)

// WithPageSize sets how many records each page of the updated stream carries
func WithPageSize(n int) Option {
	return func(m *Mailbox) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithReadyAfter makes the sync job report ready only on the n-th start call
func WithReadyAfter(n int) Option {
	return func(m *Mailbox) { m.readyAfter = n }
}

// WithToken requires every request to carry this bearer token
func WithToken(token string) Option {
	return func(m *Mailbox) { m.token = token }
}

// NewMailbox creates an empty mailbox
func NewMailbox(opts ...Option) *Mailbox {
	m := &Mailbox{pageSize: 50, readyAfter: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds records to the change stream and returns the new stream length
func (m *Mailbox) Append(records ...models.EmailMessage) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.changes = append(m.changes, records...)
	return len(m.changes)
}

// FailNext makes the next len(codes) API calls answer with the given statuses.
// A code of 0 lets that call through.
func (m *Mailbox) FailNext(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = append(m.failures, codes...)
}

// Polls returns how many times a sync job was requested
func (m *Mailbox) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.polls
}

// Authorized checks a bearer token against the configured one
func (m *Mailbox) Authorized(token string) bool {
	if token == "" {
		return false
	}
	return m.token == "" || m.token == token
}

func (m *Mailbox) nextFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) == 0 {
		return 0
	}
	code := m.failures[0]
	m.failures = m.failures[1:]
	return code
}

// StartSync registers one readiness poll. The updated token always starts
// from the beginning of the stream.
func (m *Mailbox) StartSync() models.SyncStartResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.polls++
	if m.polls < m.readyAfter {
		return models.SyncStartResponse{Ready: false}
	}

	return models.SyncStartResponse{
		SyncUpdatedToken: deltaToken(0),
		SyncDeletedToken: deltaToken(0),
		Ready:            true,
	}
}

// Updated returns one page of the change stream. A delta token snapshots the
// current stream end so records appended mid-drain land in the next delta.
func (m *Mailbox) Updated(delta, page string) (models.SyncUpdatedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var start, end int
	switch {
	case page != "":
		var err error
		start, end, err = parsePageToken(page)
		if err != nil {
			return models.SyncUpdatedResponse{}, err
		}
	case delta != "":
		var err error
		start, err = parseDeltaToken(delta)
		if err != nil {
			return models.SyncUpdatedResponse{}, err
		}
		end = len(m.changes)
	default:
		return models.SyncUpdatedResponse{}, fmt.Errorf("deltaToken or pageToken is required")
	}

	if start > end || end > len(m.changes) {
		return models.SyncUpdatedResponse{}, fmt.Errorf("token out of range")
	}

	pageEnd := start + m.pageSize
	if pageEnd > end {
		pageEnd = end
	}

	records := make([]models.EmailMessage, pageEnd-start)
	copy(records, m.changes[start:pageEnd])

	resp := models.SyncUpdatedResponse{
		// Intermediate pages carry a provisional token; only the terminal one is final.
		NextDeltaToken: deltaToken(pageEnd),
		Length:         len(records),
		Records:        records,
	}
	if pageEnd < end {
		resp.NextPageToken = pageToken(pageEnd, end)
	}

	return resp, nil
}

func deltaToken(offset int) string {
	return deltaPrefix + strconv.Itoa(offset)
}

func pageToken(start, end int) string {
	return fmt.Sprintf("%s%d-%d", pagePrefix, start, end)
}

func parseDeltaToken(token string) (int, error) {
	if !strings.HasPrefix(token, deltaPrefix) {
		return 0, fmt.Errorf("invalid delta token")
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(token, deltaPrefix))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid delta token")
	}
	return offset, nil
}

func parsePageToken(token string) (int, int, error) {
	if !strings.HasPrefix(token, pagePrefix) {
		return 0, 0, fmt.Errorf("invalid page token")
	}
	parts := strings.SplitN(strings.TrimPrefix(token, pagePrefix), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid page token")
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page token")
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page token")
	}
	return start, end, nil
}

// Generate appends n random records spread over a handful of threads and
// returns the new stream length
func (m *Mailbox) Generate(owner string, n int) int {
	now := time.Now().UTC()
	records := make([]models.EmailMessage, 0, n)
	threads := make([]string, 1+n/3)
	for i := range threads {
		threads[i] = uuid.NewString()
	}

	for i := 0; i < n; i++ {
		records = append(records, generateEmail(owner, threads[rand.Intn(len(threads))], now.Add(-time.Duration(rand.Intn(3600))*time.Second)))
	}

	return m.Append(records...)
}

func generateEmail(owner, threadID string, sentAt time.Time) models.EmailMessage {
	index := rand.Intn(50000)
	firstName := firstNames[index%len(firstNames)]
	lastName := lastNames[index%len(lastNames)]
	name := fmt.Sprintf("%s %s", firstName, lastName)
	subject := subjects[rand.Intn(len(subjects))]
	snippet := fmt.Sprintf("This is a snippet for: %s", subject)
	body := fmt.Sprintf("<p>Hello,</p><p>Full email body for: %s</p><p>%s</p>", subject, name)
	id := uuid.NewString()

	return models.EmailMessage{
		ID:                id,
		ThreadID:          threadID,
		CreatedTime:       sentAt,
		LastModifiedTime:  sentAt,
		SentAt:            sentAt,
		ReceivedAt:        sentAt.Add(2 * time.Second),
		InternetMessageID: fmt.Sprintf("<%s@%s>", id, domains[index%len(domains)]),
		Subject:           subject,
		SysLabels:         labelSets[rand.Intn(len(labelSets))],
		Sensitivity:       models.SensitivityNormal,
		From: models.EmailAddress{
			Name:    &name,
			Address: fmt.Sprintf("%s.%s.%d@%s", strings.ToLower(firstName), strings.ToLower(lastName), index, domains[index%len(domains)]),
		},
		To:          []models.EmailAddress{{Address: owner}},
		Body:        &body,
		BodySnippet: &snippet,
	}
}
