package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/podsync/internal/models"
)

// PostgresStore implements Store against a PostgreSQL database.
type PostgresStore struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresStore creates a PostgresStore over the given connection.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// FindAccount fetches one account row by username.
func (s *PostgresStore) FindAccount(ctx context.Context, username string) (models.Account, error) {
	var account models.Account
	var token sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT username, password_hash, session_token FROM accounts WHERE username = $1
	`, username).Scan(&account.Username, &account.PasswordHash, &token)
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("find account: %w", err)
	}
	if token.Valid {
		account.SessionToken = &token.String
	}
	return account, nil
}

// SetSessionToken stores or clears (token == nil) the account's session
// token.
func (s *PostgresStore) SetSessionToken(ctx context.Context, username string, token *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE accounts SET session_token = $1 WHERE username = $2
	`, token, username)
	if err != nil {
		return fmt.Errorf("set session token: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AccountsWithToken returns every account holding the given session token.
func (s *PostgresStore) AccountsWithToken(ctx context.Context, token string) ([]models.Account, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT username, password_hash, session_token FROM accounts WHERE session_token = $1
	`, token)
	if err != nil {
		return nil, fmt.Errorf("accounts with token: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		var stored sql.NullString
		if err := rows.Scan(&account.Username, &account.PasswordHash, &stored); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if stored.Valid {
			account.SessionToken = &stored.String
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// ListDevices returns the account's devices with their active
// subscription counts.
func (s *PostgresStore) ListDevices(ctx context.Context, username string) ([]models.Device, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.id, d.caption, d.type,
		       COUNT(s.url) FILTER (WHERE s.deleted IS NULL) AS subscriptions
		FROM devices d
		LEFT JOIN subscriptions s ON s.username = d.username AND s.device = d.id
		WHERE d.username = $1
		GROUP BY d.id, d.caption, d.type
	`, username)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.ID, &device.Caption, &device.Type, &device.Subscriptions); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// UpsertDevice inserts the device with defaults or patches the existing
// row field by field: a nil update field keeps the stored value.
func (s *PostgresStore) UpsertDevice(ctx context.Context, username, id string, update models.DeviceUpdate) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO devices (username, id, caption, type)
		VALUES ($1, $2, COALESCE($3, ''), COALESCE($4, 'other'))
		ON CONFLICT (username, id) DO UPDATE SET
			caption = COALESCE($3, devices.caption),
			type = COALESCE($4, devices.type)
	`, username, id, update.Caption, (*string)(update.Type))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// Subscriptions returns the device's rows created or tombstoned after
// since.
func (s *PostgresStore) Subscriptions(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT url, created, deleted FROM subscriptions
		WHERE username = $1 AND device = $2 AND (created > $3 OR deleted > $3)
	`, username, device, int64(since))
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var deleted sql.NullInt64
		if err := rows.Scan(&sub.URL, &sub.Created, &deleted); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if deleted.Valid {
			ts := models.Timestamp(deleted.Int64)
			sub.Deleted = &ts
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ApplySubscriptionChanges tombstones removals and inserts additions in
// one transaction. Adds that collide with an existing row — active or
// tombstoned — are ignored.
func (s *PostgresStore) ApplySubscriptionChanges(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, url := range remove {
		_, err := tx.ExecContext(ctx, `
			UPDATE subscriptions SET deleted = $1
			WHERE username = $2 AND device = $3 AND url = $4 AND deleted IS NULL
		`, int64(now), username, device, url)
		if err != nil {
			return fmt.Errorf("tombstone subscription: %w", err)
		}
	}

	for _, url := range add {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (username, device, url, created)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, username, device, url, int64(now))
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Episodes returns the compacted episode rows modified after the cursor,
// optionally filtered by exact podcast/device match.
func (s *PostgresStore) Episodes(ctx context.Context, username string, filter EpisodeFilter) ([]models.EpisodeAction, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT podcast, episode, device, timestamp, guid, action, started, position, total, modified
		FROM episodes
		WHERE username = $1 AND modified > $2
			AND ($3::text IS NULL OR podcast = $3)
			AND ($4::text IS NULL OR device = $4)
	`, username, int64(filter.Since), filter.Podcast, filter.Device)
	if err != nil {
		return nil, fmt.Errorf("select episodes: %w", err)
	}
	defer rows.Close()

	var actions []models.EpisodeAction
	for rows.Next() {
		var action models.EpisodeAction
		var device, guid sql.NullString
		var timestamp, started, position, total sql.NullInt64
		err := rows.Scan(&action.Podcast, &action.Episode, &device, &timestamp, &guid,
			&action.Action, &started, &position, &total, &action.Modified)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if device.Valid {
			action.Device = &device.String
		}
		if guid.Valid {
			action.GUID = &guid.String
		}
		if timestamp.Valid {
			ts := models.Timestamp(timestamp.Int64)
			action.Timestamp = &ts
		}
		if started.Valid {
			action.Started = &started.Int64
		}
		if position.Valid {
			action.Position = &position.Int64
		}
		if total.Valid {
			action.Total = &total.Int64
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// ApplyEpisodeChanges upserts actions by (username, podcast, episode) in
// one transaction. The content_hash guard keeps a semantically identical
// replay from touching the row or its modified marker.
func (s *PostgresStore) ApplyEpisodeChanges(ctx context.Context, username string, now models.Timestamp, actions []models.EpisodeAction) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, action := range actions {
		var timestamp *int64
		if action.Timestamp != nil {
			ts := int64(*action.Timestamp)
			timestamp = &ts
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episodes
				(username, podcast, episode, device, timestamp, guid, action,
				 started, position, total, modified, content_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (username, podcast, episode) DO UPDATE SET
				device = COALESCE(EXCLUDED.device, episodes.device),
				timestamp = EXCLUDED.timestamp,
				guid = EXCLUDED.guid,
				action = EXCLUDED.action,
				started = EXCLUDED.started,
				position = EXCLUDED.position,
				total = EXCLUDED.total,
				modified = EXCLUDED.modified,
				content_hash = EXCLUDED.content_hash
			WHERE episodes.content_hash <> EXCLUDED.content_hash
		`, username, action.Podcast, action.Episode, action.Device, timestamp,
			action.GUID, string(action.Action), action.Started, action.Position,
			action.Total, int64(now), action.ContentHash())
		if err != nil {
			return fmt.Errorf("upsert episode: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
