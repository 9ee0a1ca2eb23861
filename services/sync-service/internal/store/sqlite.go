package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/stoik/mailroom/internal/models"
)

// SQLiteStore implements Store on a local SQLite database. It is used for
// local development and as the relational backend in tests.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs any
// pending schema migrations. ":memory:" is supported.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !strings.Contains(dbPath, ":memory:") {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite has a single writer; one connection serializes writes and keeps
	// an in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type accountRow struct {
	ID                string  `db:"id"`
	Email             string  `db:"email"`
	Name              string  `db:"name"`
	AccessToken       string  `db:"access_token"`
	NextDeltaToken    *string `db:"next_delta_token"`
	InitialSyncStatus string  `db:"initial_sync_status"`
	CreatedAt         int64   `db:"created_at"`
}

func (r accountRow) toModel() models.Account {
	return models.Account{
		ID:                r.ID,
		Email:             r.Email,
		Name:              r.Name,
		AccessToken:       r.AccessToken,
		NextDeltaToken:    r.NextDeltaToken,
		InitialSyncStatus: models.InitialSyncStatus(r.InitialSyncStatus),
		CreatedAt:         fromMillis(r.CreatedAt),
	}
}

const accountColumns = "id, email, name, access_token, next_delta_token, initial_sync_status, created_at"

func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.InitialSyncStatus == "" {
		account.InitialSyncStatus = models.InitialSyncPending
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email)
		DO UPDATE SET access_token = excluded.access_token, name = excluded.name
		RETURNING ` + accountColumns

	var row accountRow
	err := s.db.QueryRowxContext(ctx, query,
		account.ID,
		account.Email,
		account.Name,
		account.AccessToken,
		account.NextDeltaToken,
		string(account.InitialSyncStatus),
		toMillis(account.CreatedAt),
	).StructScan(&row)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	*account = row.toModel()

	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	a := row.toModel()
	return &a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+accountColumns+" FROM accounts ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

func (s *SQLiteStore) SetDeltaToken(ctx context.Context, accountID, token string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET next_delta_token = ? WHERE id = ?",
		token, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set delta token: %w", err)
	}
	return requireRow(res, "account", accountID)
}

func (s *SQLiteStore) CompleteInitialSync(ctx context.Context, accountID, token string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET next_delta_token = ?, initial_sync_status = ? WHERE id = ?",
		token, string(models.InitialSyncCompleted), accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete initial sync: %w", err)
	}
	return requireRow(res, "account", accountID)
}

func (s *SQLiteStore) UpsertAddress(ctx context.Context, accountID string, addr models.EmailAddress) (*models.StoredAddress, error) {
	query := `
		INSERT INTO email_addresses (id, account_id, name, address, raw)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, address)
		DO UPDATE SET
			name = COALESCE(excluded.name, email_addresses.name),
			raw = COALESCE(excluded.raw, email_addresses.raw)
		RETURNING id, account_id, name, address, raw
	`

	var stored models.StoredAddress
	err := s.db.QueryRowxContext(ctx, query,
		uuid.NewString(),
		accountID,
		addr.Name,
		NormalizeAddress(addr.Address),
		addr.Raw,
	).StructScan(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert address %s: %w", addr.Address, err)
	}

	return &stored, nil
}

func (s *SQLiteStore) ListAddresses(ctx context.Context, accountID string) ([]models.StoredAddress, error) {
	var addrs []models.StoredAddress
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT id, account_id, name, address, raw FROM email_addresses WHERE account_id = ? ORDER BY address",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addrs, nil
}

type threadRow struct {
	ID              string `db:"id"`
	AccountID       string `db:"account_id"`
	Subject         string `db:"subject"`
	LastMessageDate int64  `db:"last_message_date"`
	ParticipantIDs  string `db:"participant_ids"`
	DraftStatus     bool   `db:"draft_status"`
	InboxStatus     bool   `db:"inbox_status"`
	SentStatus      bool   `db:"sent_status"`
	IsDeleted       bool   `db:"is_deleted"`
	DeletedAt       *int64 `db:"deleted_at"`
}

func (s *SQLiteStore) UpsertThread(ctx context.Context, t ThreadUpsert) error {
	participants, err := encodeJSON(nonNil(t.ParticipantIDs))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO threads (id, account_id, subject, last_message_date, participant_ids)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			subject = excluded.subject,
			last_message_date = MAX(threads.last_message_date, excluded.last_message_date),
			participant_ids = (
				SELECT json_group_array(value) FROM (
					SELECT value FROM json_each(threads.participant_ids)
					UNION
					SELECT value FROM json_each(excluded.participant_ids)
					ORDER BY value
				)
			)
		WHERE threads.account_id = excluded.account_id
	`

	res, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.AccountID,
		t.Subject,
		toMillis(t.LastMessageDate),
		participants,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread %s: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", t.ID, ErrForeignThread)
	}

	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, `SELECT id, account_id, subject, last_message_date, participant_ids,
			draft_status, inbox_status, sent_status, is_deleted, deleted_at
		FROM threads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	t := &models.Thread{
		ID:              row.ID,
		AccountID:       row.AccountID,
		Subject:         row.Subject,
		LastMessageDate: fromMillis(row.LastMessageDate),
		ThreadStatus: models.ThreadStatus{
			DraftStatus: row.DraftStatus,
			InboxStatus: row.InboxStatus,
			SentStatus:  row.SentStatus,
			IsDeleted:   row.IsDeleted,
			DeletedAt:   fromNullMillis(row.DeletedAt),
		},
	}
	if err := json.Unmarshal([]byte(row.ParticipantIDs), &t.ParticipantIDs); err != nil {
		return nil, fmt.Errorf("decoding participants of thread %s: %w", id, err)
	}

	return t, nil
}

func (s *SQLiteStore) UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus) error {
	query := `
		UPDATE threads SET
			draft_status = ?,
			inbox_status = ?,
			sent_status = ?,
			is_deleted = ?,
			deleted_at = CASE WHEN ? THEN COALESCE(deleted_at, ?) ELSE NULL END
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		status.DraftStatus,
		status.InboxStatus,
		status.SentStatus,
		status.IsDeleted,
		status.IsDeleted,
		toNullMillis(status.DeletedAt),
		threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread %s: %w", threadID, err)
	}
	return requireRow(res, "thread", threadID)
}

func (s *SQLiteStore) ThreadEmailStates(ctx context.Context, threadID string) ([]models.ThreadEmailState, error) {
	var states []models.ThreadEmailState
	err := s.db.SelectContext(ctx, &states,
		"SELECT email_label, is_deleted FROM emails WHERE thread_id = ?",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread emails: %w", err)
	}
	return states, nil
}

// emailRow mirrors the emails table with JSON text arrays and millisecond times
type emailRow struct {
	ID                   string  `db:"id"`
	AccountID            string  `db:"account_id"`
	ThreadID             string  `db:"thread_id"`
	InternetMessageID    string  `db:"internet_message_id"`
	CreatedTime          int64   `db:"created_time"`
	LastModifiedTime     int64   `db:"last_modified_time"`
	SentAt               int64   `db:"sent_at"`
	ReceivedAt           int64   `db:"received_at"`
	Subject              string  `db:"subject"`
	SysLabels            string  `db:"sys_labels"`
	Keywords             string  `db:"keywords"`
	SysClassifications   string  `db:"sys_classifications"`
	Sensitivity          string  `db:"sensitivity"`
	MeetingMessageMethod string  `db:"meeting_message_method"`
	FromID               string  `db:"from_id"`
	ToIDs                string  `db:"to_ids"`
	CcIDs                string  `db:"cc_ids"`
	BccIDs               string  `db:"bcc_ids"`
	ReplyToIDs           string  `db:"reply_to_ids"`
	HasAttachments       bool    `db:"has_attachments"`
	Body                 *string `db:"body"`
	BodySnippet          *string `db:"body_snippet"`
	InReplyTo            *string `db:"in_reply_to"`
	References           *string `db:"email_references"`
	ThreadIndex          *string `db:"thread_index"`
	InternetHeaders      string  `db:"internet_headers"`
	NativeProperties     *string `db:"native_properties"`
	FolderID             *string `db:"folder_id"`
	WebLink              *string `db:"web_link"`
	Omitted              string  `db:"omitted"`
	EmailLabel           string  `db:"email_label"`
	IsDeleted            bool    `db:"is_deleted"`
	DeletedAt            *int64  `db:"deleted_at"`
}

func newEmailRow(e *models.Email) (*emailRow, error) {
	row := &emailRow{
		ID:                   e.ID,
		AccountID:            e.AccountID,
		ThreadID:             e.ThreadID,
		InternetMessageID:    e.InternetMessageID,
		CreatedTime:          toMillis(e.CreatedTime),
		LastModifiedTime:     toMillis(e.LastModifiedTime),
		SentAt:               toMillis(e.SentAt),
		ReceivedAt:           toMillis(e.ReceivedAt),
		Subject:              e.Subject,
		Sensitivity:          string(e.Sensitivity),
		MeetingMessageMethod: string(e.MeetingMessageMethod),
		FromID:               e.FromID,
		HasAttachments:       e.HasAttachments,
		Body:                 e.Body,
		BodySnippet:          e.BodySnippet,
		InReplyTo:            e.InReplyTo,
		References:           e.References,
		ThreadIndex:          e.ThreadIndex,
		FolderID:             e.FolderID,
		WebLink:              e.WebLink,
		EmailLabel:           string(e.EmailLabel),
		IsDeleted:            e.IsDeleted,
		DeletedAt:            toNullMillis(e.DeletedAt),
	}

	headers := e.InternetHeaders
	if headers == nil {
		headers = []models.EmailHeader{}
	}

	fields := []struct {
		dst *string
		src any
	}{
		{&row.SysLabels, labelsToStrings(e.SysLabels)},
		{&row.Keywords, nonNil(e.Keywords)},
		{&row.SysClassifications, nonNil(e.SysClassifications)},
		{&row.ToIDs, nonNil(e.ToIDs)},
		{&row.CcIDs, nonNil(e.CcIDs)},
		{&row.BccIDs, nonNil(e.BccIDs)},
		{&row.ReplyToIDs, nonNil(e.ReplyToIDs)},
		{&row.InternetHeaders, headers},
		{&row.Omitted, nonNil(e.Omitted)},
	}
	for _, f := range fields {
		encoded, err := encodeJSON(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = encoded
	}

	if e.NativeProperties != nil {
		encoded, err := encodeJSON(e.NativeProperties)
		if err != nil {
			return nil, err
		}
		row.NativeProperties = &encoded
	}

	return row, nil
}

func (r *emailRow) toModel() (*models.Email, error) {
	e := &models.Email{
		ID:                   r.ID,
		AccountID:            r.AccountID,
		ThreadID:             r.ThreadID,
		InternetMessageID:    r.InternetMessageID,
		CreatedTime:          fromMillis(r.CreatedTime),
		LastModifiedTime:     fromMillis(r.LastModifiedTime),
		SentAt:               fromMillis(r.SentAt),
		ReceivedAt:           fromMillis(r.ReceivedAt),
		Subject:              r.Subject,
		Sensitivity:          models.Sensitivity(r.Sensitivity),
		MeetingMessageMethod: models.MeetingMessageMethod(r.MeetingMessageMethod),
		FromID:               r.FromID,
		HasAttachments:       r.HasAttachments,
		Body:                 r.Body,
		BodySnippet:          r.BodySnippet,
		InReplyTo:            r.InReplyTo,
		References:           r.References,
		ThreadIndex:          r.ThreadIndex,
		FolderID:             r.FolderID,
		WebLink:              r.WebLink,
		EmailLabel:           models.EmailLabel(r.EmailLabel),
		IsDeleted:            r.IsDeleted,
		DeletedAt:            fromNullMillis(r.DeletedAt),
	}

	var labels []string
	fields := []struct {
		src string
		dst any
	}{
		{r.SysLabels, &labels},
		{r.Keywords, &e.Keywords},
		{r.SysClassifications, &e.SysClassifications},
		{r.ToIDs, &e.ToIDs},
		{r.CcIDs, &e.CcIDs},
		{r.BccIDs, &e.BccIDs},
		{r.ReplyToIDs, &e.ReplyToIDs},
		{r.InternetHeaders, &e.InternetHeaders},
		{r.Omitted, &e.Omitted},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decoding email %s: %w", r.InternetMessageID, err)
		}
	}
	e.SysLabels = stringsToLabels(labels)

	if r.NativeProperties != nil {
		if err := json.Unmarshal([]byte(*r.NativeProperties), &e.NativeProperties); err != nil {
			return nil, fmt.Errorf("decoding email %s: %w", r.InternetMessageID, err)
		}
	}

	return e, nil
}

func (s *SQLiteStore) UpsertEmail(ctx context.Context, e *models.Email) error {
	row, err := newEmailRow(e)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(emailColumns))
	for i, col := range emailColumns {
		placeholders[i] = ":" + col
	}

	res, err := s.db.NamedExecContext(ctx, emailUpsertSQL(placeholders), row)
	if err != nil {
		return fmt.Errorf("failed to upsert email %s: %w", e.InternetMessageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("email %s: %w", e.InternetMessageID, ErrStaleEmail)
	}

	return nil
}

func (s *SQLiteStore) GetEmail(ctx context.Context, accountID, internetMessageID string) (*models.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+joinColumns(emailColumns)+" FROM emails WHERE account_id = ? AND internet_message_id = ?",
		accountID,
		internetMessageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", internetMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	return row.toModel()
}

func (s *SQLiteStore) CountEmails(ctx context.Context, threadID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails WHERE thread_id = ?", threadID); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpsertAttachment(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO email_attachments (id, email_id, name, mime_type, size, inline, content_id, content, content_location)
		VALUES (:id, :email_id, :name, :mime_type, :size, :inline, :content_id, :content, :content_location)
		ON CONFLICT (id)
		DO UPDATE SET
			email_id = excluded.email_id,
			name = excluded.name,
			mime_type = excluded.mime_type,
			size = excluded.size,
			inline = excluded.inline,
			content_id = excluded.content_id,
			content = excluded.content,
			content_location = excluded.content_location
	`

	if _, err := s.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("failed to upsert attachment %s: %w", att.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, emailID string) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := s.db.SelectContext(ctx, &atts, `SELECT id, email_id, name, mime_type, size, inline, content_id, content, content_location
		FROM email_attachments WHERE email_id = ? ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return atts, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	return string(b), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromNullMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

var _ Store = (*SQLiteStore)(nil)
