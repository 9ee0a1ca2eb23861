package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stoik/mailroom/internal/models"
)

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already connected pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the db package
func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
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
		INSERT INTO accounts (id, email, name, access_token, next_delta_token, initial_sync_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email)
		DO UPDATE SET access_token = EXCLUDED.access_token, name = EXCLUDED.name
		RETURNING id, next_delta_token, initial_sync_status, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.Name,
		account.AccessToken,
		account.NextDeltaToken,
		string(account.InitialSyncStatus),
		account.CreatedAt,
	).Scan(&account.ID, &account.NextDeltaToken, &account.InitialSyncStatus, &account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT id, email, name, access_token, next_delta_token, initial_sync_status, created_at
		FROM accounts WHERE id = $1`

	var a models.Account
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.AccessToken,
		&a.NextDeltaToken,
		&a.InitialSyncStatus,
		&a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	query := `SELECT id, email, name, access_token, next_delta_token, initial_sync_status, created_at
		FROM accounts ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID,
			&a.Email,
			&a.Name,
			&a.AccessToken,
			&a.NextDeltaToken,
			&a.InitialSyncStatus,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

func (s *PostgresStore) SetDeltaToken(ctx context.Context, accountID, token string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET next_delta_token = $1 WHERE id = $2",
		token, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set delta token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CompleteInitialSync(ctx context.Context, accountID, token string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET next_delta_token = $1, initial_sync_status = $2 WHERE id = $3",
		token, string(models.InitialSyncCompleted), accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete initial sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertAddress(ctx context.Context, accountID string, addr models.EmailAddress) (*models.StoredAddress, error) {
	query := `
		INSERT INTO email_addresses (id, account_id, name, address, raw)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, address)
		DO UPDATE SET
			name = COALESCE(EXCLUDED.name, email_addresses.name),
			raw = COALESCE(EXCLUDED.raw, email_addresses.raw)
		RETURNING id, account_id, name, address, raw
	`

	var stored models.StoredAddress
	err := s.pool.QueryRow(ctx, query,
		uuid.NewString(),
		accountID,
		addr.Name,
		NormalizeAddress(addr.Address),
		addr.Raw,
	).Scan(&stored.ID, &stored.AccountID, &stored.Name, &stored.Address, &stored.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert address %s: %w", addr.Address, err)
	}

	return &stored, nil
}

func (s *PostgresStore) ListAddresses(ctx context.Context, accountID string) ([]models.StoredAddress, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, account_id, name, address, raw FROM email_addresses WHERE account_id = $1 ORDER BY address",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []models.StoredAddress
	for rows.Next() {
		var a models.StoredAddress
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Name, &a.Address, &a.Raw); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}

	return addrs, rows.Err()
}

func (s *PostgresStore) UpsertThread(ctx context.Context, t ThreadUpsert) error {
	query := `
		INSERT INTO threads (id, account_id, subject, last_message_date, participant_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			subject = EXCLUDED.subject,
			last_message_date = GREATEST(threads.last_message_date, EXCLUDED.last_message_date),
			participant_ids = ARRAY(
				SELECT DISTINCT p FROM unnest(threads.participant_ids || EXCLUDED.participant_ids) AS p ORDER BY p
			)
		WHERE threads.account_id = EXCLUDED.account_id
	`

	tag, err := s.pool.Exec(ctx, query,
		t.ID,
		t.AccountID,
		t.Subject,
		t.LastMessageDate.UTC(),
		nonNil(t.ParticipantIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", t.ID, ErrForeignThread)
	}

	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	query := `SELECT id, account_id, subject, last_message_date, participant_ids,
			draft_status, inbox_status, sent_status, is_deleted, deleted_at
		FROM threads WHERE id = $1`

	var t models.Thread
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.AccountID,
		&t.Subject,
		&t.LastMessageDate,
		&t.ParticipantIDs,
		&t.DraftStatus,
		&t.InboxStatus,
		&t.SentStatus,
		&t.IsDeleted,
		&t.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus) error {
	query := `
		UPDATE threads SET
			draft_status = $2,
			inbox_status = $3,
			sent_status = $4,
			is_deleted = $5,
			deleted_at = CASE WHEN $5 THEN COALESCE(deleted_at, $6) ELSE NULL END
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		threadID,
		status.DraftStatus,
		status.InboxStatus,
		status.SentStatus,
		status.IsDeleted,
		status.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread %s: %w", threadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}

	return nil
}

func (s *PostgresStore) ThreadEmailStates(ctx context.Context, threadID string) ([]models.ThreadEmailState, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT email_label, is_deleted FROM emails WHERE thread_id = $1",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread emails: %w", err)
	}
	defer rows.Close()

	var states []models.ThreadEmailState
	for rows.Next() {
		var st models.ThreadEmailState
		if err := rows.Scan(&st.EmailLabel, &st.IsDeleted); err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, rows.Err()
}

func (s *PostgresStore) UpsertEmail(ctx context.Context, e *models.Email) error {
	placeholders := make([]string, len(emailColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	headers := e.InternetHeaders
	if headers == nil {
		headers = []models.EmailHeader{}
	}

	tag, err := s.pool.Exec(ctx, emailUpsertSQL(placeholders),
		e.ID,
		e.AccountID,
		e.ThreadID,
		e.InternetMessageID,
		e.CreatedTime.UTC(),
		e.LastModifiedTime.UTC(),
		e.SentAt.UTC(),
		e.ReceivedAt.UTC(),
		e.Subject,
		labelsToStrings(e.SysLabels),
		nonNil(e.Keywords),
		nonNil(e.SysClassifications),
		string(e.Sensitivity),
		string(e.MeetingMessageMethod),
		e.FromID,
		nonNil(e.ToIDs),
		nonNil(e.CcIDs),
		nonNil(e.BccIDs),
		nonNil(e.ReplyToIDs),
		e.HasAttachments,
		e.Body,
		e.BodySnippet,
		e.InReplyTo,
		e.References,
		e.ThreadIndex,
		headers,
		e.NativeProperties,
		e.FolderID,
		e.WebLink,
		nonNil(e.Omitted),
		string(e.EmailLabel),
		e.IsDeleted,
		e.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert email %s: %w", e.InternetMessageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %s: %w", e.InternetMessageID, ErrStaleEmail)
	}

	return nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, accountID, internetMessageID string) (*models.Email, error) {
	query := fmt.Sprintf("SELECT %s FROM emails WHERE account_id = $1 AND internet_message_id = $2", joinColumns(emailColumns))

	var (
		e      models.Email
		labels []string
	)
	err := s.pool.QueryRow(ctx, query, accountID, internetMessageID).Scan(
		&e.ID,
		&e.AccountID,
		&e.ThreadID,
		&e.InternetMessageID,
		&e.CreatedTime,
		&e.LastModifiedTime,
		&e.SentAt,
		&e.ReceivedAt,
		&e.Subject,
		&labels,
		&e.Keywords,
		&e.SysClassifications,
		&e.Sensitivity,
		&e.MeetingMessageMethod,
		&e.FromID,
		&e.ToIDs,
		&e.CcIDs,
		&e.BccIDs,
		&e.ReplyToIDs,
		&e.HasAttachments,
		&e.Body,
		&e.BodySnippet,
		&e.InReplyTo,
		&e.References,
		&e.ThreadIndex,
		&e.InternetHeaders,
		&e.NativeProperties,
		&e.FolderID,
		&e.WebLink,
		&e.Omitted,
		&e.EmailLabel,
		&e.IsDeleted,
		&e.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", internetMessageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	e.SysLabels = stringsToLabels(labels)

	return &e, nil
}

func (s *PostgresStore) CountEmails(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM emails WHERE thread_id = $1", threadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpsertAttachment(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO email_attachments (id, email_id, name, mime_type, size, inline, content_id, content, content_location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			email_id = EXCLUDED.email_id,
			name = EXCLUDED.name,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			inline = EXCLUDED.inline,
			content_id = EXCLUDED.content_id,
			content = EXCLUDED.content,
			content_location = EXCLUDED.content_location
	`

	_, err := s.pool.Exec(ctx, query,
		att.ID,
		att.EmailID,
		att.Name,
		att.MimeType,
		att.Size,
		att.Inline,
		att.ContentID,
		att.Content,
		att.ContentLocation,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment %s: %w", att.ID, err)
	}

	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, emailID string) ([]models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email_id, name, mime_type, size, inline, content_id, content, content_location
		FROM email_attachments WHERE email_id = $1 ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(
			&a.ID,
			&a.EmailID,
			&a.Name,
			&a.MimeType,
			&a.Size,
			&a.Inline,
			&a.ContentID,
			&a.Content,
			&a.ContentLocation,
		); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}

	return atts, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
