package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    username TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    session_token TEXT
);

CREATE TABLE IF NOT EXISTS devices (
    username TEXT NOT NULL REFERENCES accounts(username) ON DELETE CASCADE,
    id TEXT NOT NULL,
    caption TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT 'other',
    PRIMARY KEY (username, id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    username TEXT NOT NULL,
    device TEXT NOT NULL,
    url TEXT NOT NULL,
    created BIGINT NOT NULL,
    deleted BIGINT,
    PRIMARY KEY (username, device, url),
    CHECK (deleted IS NULL OR deleted >= created)
);

CREATE TABLE IF NOT EXISTS episodes (
    username TEXT NOT NULL,
    podcast TEXT NOT NULL,
    episode TEXT NOT NULL,
    device TEXT,
    timestamp BIGINT,
    guid TEXT,
    action TEXT NOT NULL,
    started BIGINT,
    position BIGINT,
    total BIGINT,
    modified BIGINT NOT NULL,
    content_hash TEXT NOT NULL,
    PRIMARY KEY (username, podcast, episode)
);

CREATE INDEX IF NOT EXISTS episodes_modified_idx ON episodes (username, modified);
`

// InitPostgres opens the connection, verifies it, and applies the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
