package store

// migration is one schema version. Statements run in order.
type migration struct {
	version    int
	statements []string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				email      TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id     INTEGER NOT NULL REFERENCES users(id),
				external_id TEXT NOT NULL,
				thread_id   TEXT NOT NULL DEFAULT '',
				from_addr   TEXT NOT NULL DEFAULT '',
				to_addrs    TEXT NOT NULL DEFAULT '[]',
				subject     TEXT NOT NULL DEFAULT '',
				snippet     TEXT NOT NULL DEFAULT '',
				received_at DATETIME NOT NULL,
				labels      TEXT NOT NULL DEFAULT '[]',
				is_read     BOOLEAN NOT NULL DEFAULT 0,
				replied_at  DATETIME NULL,
				raw_ref     TEXT NOT NULL DEFAULT '',
				UNIQUE (user_id, external_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_user_received ON messages(user_id, received_at)`,
			`CREATE TABLE IF NOT EXISTS inferences (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				kind       TEXT NOT NULL,
				payload    TEXT NOT NULL,
				producer   TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				version    INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE INDEX IF NOT EXISTS idx_inferences_message_kind ON inferences(message_id, kind)`,
			`CREATE TABLE IF NOT EXISTS drafts (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id  INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				text        TEXT NOT NULL,
				confidence  INTEGER NOT NULL DEFAULT 0,
				style       TEXT NOT NULL DEFAULT '',
				created_at  DATETIME NOT NULL,
				approved_at DATETIME NULL,
				sent_at     DATETIME NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_drafts_message ON drafts(message_id)`,
			`CREATE TABLE IF NOT EXISTS feedback (
				id                      INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id              INTEGER NOT NULL,
				user_id                 INTEGER NOT NULL,
				is_spam                 BOOLEAN NOT NULL,
				sender_domain           TEXT NOT NULL DEFAULT '',
				subject_length          INTEGER NOT NULL DEFAULT 0,
				body_length             INTEGER NOT NULL DEFAULT 0,
				has_links               BOOLEAN NOT NULL DEFAULT 0,
				classification_snapshot TEXT NOT NULL DEFAULT 'null',
				created_at              DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_feedback_user_domain ON feedback(user_id, sender_domain)`,
		},
	},
}

var mysqlMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id         BIGINT AUTO_INCREMENT PRIMARY KEY,
				email      VARCHAR(320) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				UNIQUE KEY uq_users_email (email)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id          BIGINT AUTO_INCREMENT PRIMARY KEY,
				user_id     BIGINT NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				thread_id   VARCHAR(255) NOT NULL DEFAULT '',
				from_addr   VARCHAR(512) NOT NULL DEFAULT '',
				to_addrs    TEXT NOT NULL,
				subject     TEXT NOT NULL,
				snippet     TEXT NOT NULL,
				received_at DATETIME(6) NOT NULL,
				labels      TEXT NOT NULL,
				is_read     BOOLEAN NOT NULL DEFAULT FALSE,
				replied_at  DATETIME(6) NULL,
				raw_ref     VARCHAR(1024) NOT NULL DEFAULT '',
				UNIQUE KEY uq_messages_external (user_id, external_id),
				INDEX idx_messages_user_received (user_id, received_at)
			)`,
			`CREATE TABLE IF NOT EXISTS inferences (
				id         BIGINT AUTO_INCREMENT PRIMARY KEY,
				message_id BIGINT NOT NULL,
				kind       VARCHAR(64) NOT NULL,
				payload    LONGTEXT NOT NULL,
				producer   VARCHAR(128) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				version    INT NOT NULL DEFAULT 1,
				INDEX idx_inferences_message_kind (message_id, kind)
			)`,
			`CREATE TABLE IF NOT EXISTS drafts (
				id          BIGINT AUTO_INCREMENT PRIMARY KEY,
				message_id  BIGINT NOT NULL,
				text        TEXT NOT NULL,
				confidence  INT NOT NULL DEFAULT 0,
				style       VARCHAR(64) NOT NULL DEFAULT '',
				created_at  DATETIME(6) NOT NULL,
				approved_at DATETIME(6) NULL,
				sent_at     DATETIME(6) NULL,
				INDEX idx_drafts_message (message_id)
			)`,
			`CREATE TABLE IF NOT EXISTS feedback (
				id                      BIGINT AUTO_INCREMENT PRIMARY KEY,
				message_id              BIGINT NOT NULL,
				user_id                 BIGINT NOT NULL,
				is_spam                 BOOLEAN NOT NULL,
				sender_domain           VARCHAR(255) NOT NULL DEFAULT '',
				subject_length          INT NOT NULL DEFAULT 0,
				body_length             INT NOT NULL DEFAULT 0,
				has_links               BOOLEAN NOT NULL DEFAULT FALSE,
				classification_snapshot LONGTEXT NOT NULL,
				created_at              DATETIME(6) NOT NULL,
				INDEX idx_feedback_user_domain (user_id, sender_domain)
			)`,
		},
	},
}
