package store

// postgresSchema is applied by the setup command
const postgresSchema = `
-- Accounts own every address, thread and email below
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    name VARCHAR(255) NOT NULL DEFAULT '',
    access_token TEXT NOT NULL,
    next_delta_token TEXT,
    initial_sync_status VARCHAR(16) NOT NULL DEFAULT 'Pending',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

-- Addresses are stored lowercased, unique per account
CREATE TABLE IF NOT EXISTS email_addresses (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    name TEXT,
    address TEXT NOT NULL,
    raw TEXT,
    UNIQUE (account_id, address)
);

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    subject TEXT NOT NULL DEFAULT '',
    last_message_date TIMESTAMP WITH TIME ZONE NOT NULL,
    participant_ids TEXT[] NOT NULL DEFAULT '{}',
    draft_status BOOLEAN NOT NULL DEFAULT false,
    inbox_status BOOLEAN NOT NULL DEFAULT false,
    sent_status BOOLEAN NOT NULL DEFAULT false,
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    deleted_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_threads_account_id ON threads(account_id);
CREATE INDEX IF NOT EXISTS idx_threads_last_message_date ON threads(last_message_date);

-- The same message delivered to two mailboxes is stored once per account
CREATE TABLE IF NOT EXISTS emails (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    internet_message_id TEXT NOT NULL,
    created_time TIMESTAMP WITH TIME ZONE NOT NULL,
    last_modified_time TIMESTAMP WITH TIME ZONE NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    sys_labels TEXT[] NOT NULL DEFAULT '{}',
    keywords TEXT[] NOT NULL DEFAULT '{}',
    sys_classifications TEXT[] NOT NULL DEFAULT '{}',
    sensitivity VARCHAR(16) NOT NULL DEFAULT 'normal',
    meeting_message_method VARCHAR(16) NOT NULL DEFAULT '',
    from_id TEXT NOT NULL REFERENCES email_addresses(id),
    to_ids TEXT[] NOT NULL DEFAULT '{}',
    cc_ids TEXT[] NOT NULL DEFAULT '{}',
    bcc_ids TEXT[] NOT NULL DEFAULT '{}',
    reply_to_ids TEXT[] NOT NULL DEFAULT '{}',
    has_attachments BOOLEAN NOT NULL DEFAULT false,
    body TEXT,
    body_snippet TEXT,
    in_reply_to TEXT,
    email_references TEXT,
    thread_index TEXT,
    internet_headers JSONB NOT NULL DEFAULT '[]',
    native_properties JSONB,
    folder_id TEXT,
    web_link TEXT,
    omitted TEXT[] NOT NULL DEFAULT '{}',
    email_label VARCHAR(8) NOT NULL DEFAULT 'inbox',
    is_deleted BOOLEAN NOT NULL DEFAULT false,
    deleted_at TIMESTAMP WITH TIME ZONE,
    UNIQUE (account_id, internet_message_id)
);

CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_email_label ON emails(email_label);
CREATE INDEX IF NOT EXISTS idx_emails_sent_at ON emails(sent_at);

-- Attachments follow their email when the provider re-keys it
CREATE TABLE IF NOT EXISTS email_attachments (
    id TEXT PRIMARY KEY,
    email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE ON UPDATE CASCADE,
    name TEXT NOT NULL,
    mime_type TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    inline BOOLEAN NOT NULL DEFAULT false,
    content_id TEXT,
    content TEXT,
    content_location TEXT
);

CREATE INDEX IF NOT EXISTS idx_email_attachments_email_id ON email_attachments(email_id);
`

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations is the ordered list of SQLite schema migrations. Times are
// unix milliseconds and arrays are JSON text.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL DEFAULT '',
	access_token        TEXT NOT NULL,
	next_delta_token    TEXT,
	initial_sync_status TEXT NOT NULL DEFAULT 'Pending',
	created_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS email_addresses (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name       TEXT,
	address    TEXT NOT NULL,
	raw        TEXT,
	UNIQUE (account_id, address)
);

CREATE TABLE IF NOT EXISTS threads (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	subject           TEXT NOT NULL DEFAULT '',
	last_message_date INTEGER NOT NULL,
	participant_ids   TEXT NOT NULL DEFAULT '[]',
	draft_status      INTEGER NOT NULL DEFAULT 0,
	inbox_status      INTEGER NOT NULL DEFAULT 0,
	sent_status       INTEGER NOT NULL DEFAULT 0,
	is_deleted        INTEGER NOT NULL DEFAULT 0,
	deleted_at        INTEGER
);

CREATE INDEX IF NOT EXISTS idx_threads_account_id ON threads(account_id);

CREATE TABLE IF NOT EXISTS emails (
	id                     TEXT PRIMARY KEY,
	account_id             TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	thread_id              TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	internet_message_id    TEXT NOT NULL,
	created_time           INTEGER NOT NULL,
	last_modified_time     INTEGER NOT NULL,
	sent_at                INTEGER NOT NULL,
	received_at            INTEGER NOT NULL,
	subject                TEXT NOT NULL DEFAULT '',
	sys_labels             TEXT NOT NULL DEFAULT '[]',
	keywords               TEXT NOT NULL DEFAULT '[]',
	sys_classifications    TEXT NOT NULL DEFAULT '[]',
	sensitivity            TEXT NOT NULL DEFAULT 'normal',
	meeting_message_method TEXT NOT NULL DEFAULT '',
	from_id                TEXT NOT NULL REFERENCES email_addresses(id),
	to_ids                 TEXT NOT NULL DEFAULT '[]',
	cc_ids                 TEXT NOT NULL DEFAULT '[]',
	bcc_ids                TEXT NOT NULL DEFAULT '[]',
	reply_to_ids           TEXT NOT NULL DEFAULT '[]',
	has_attachments        INTEGER NOT NULL DEFAULT 0,
	body                   TEXT,
	body_snippet           TEXT,
	in_reply_to            TEXT,
	email_references       TEXT,
	thread_index           TEXT,
	internet_headers       TEXT NOT NULL DEFAULT '[]',
	native_properties      TEXT,
	folder_id              TEXT,
	web_link               TEXT,
	omitted                TEXT NOT NULL DEFAULT '[]',
	email_label            TEXT NOT NULL DEFAULT 'inbox',
	is_deleted             INTEGER NOT NULL DEFAULT 0,
	deleted_at             INTEGER,
	UNIQUE (account_id, internet_message_id)
);

CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id);

CREATE TABLE IF NOT EXISTS email_attachments (
	id               TEXT PRIMARY KEY,
	email_id         TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE ON UPDATE CASCADE,
	name             TEXT NOT NULL,
	mime_type        TEXT NOT NULL,
	size             INTEGER NOT NULL DEFAULT 0,
	inline           INTEGER NOT NULL DEFAULT 0,
	content_id       TEXT,
	content          TEXT,
	content_location TEXT
);

CREATE INDEX IF NOT EXISTS idx_email_attachments_email_id ON email_attachments(email_id);
`,
	},
}
