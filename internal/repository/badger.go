package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/atinyakov/podsync/internal/models"
)

// Key layout: one record per entity, JSON-encoded values.
//
//	account\x00<username>
//	device\x00<username>\x00<id>
//	sub\x00<username>\x00<device>\x00<url>
//	episode\x00<username>\x00<podcast>\x00<episode>
//
// The NUL separator cannot occur in usernames, device ids or URLs coming
// off the wire, so prefix scans never bleed across entities.
func key(parts ...string) []byte {
	return []byte(strings.Join(parts, "\x00"))
}

type accountRecord struct {
	PasswordHash string  `json:"password_hash"`
	SessionToken *string `json:"session_token,omitempty"`
}

type deviceRecord struct {
	Caption string            `json:"caption"`
	Type    models.DeviceType `json:"type"`
}

type subscriptionRecord struct {
	Created models.Timestamp  `json:"created"`
	Deleted *models.Timestamp `json:"deleted,omitempty"`
}

type episodeRecord struct {
	Device      *string           `json:"device,omitempty"`
	Timestamp   *models.Timestamp `json:"timestamp,omitempty"`
	GUID        *string           `json:"guid,omitempty"`
	Action      models.ActionType `json:"action"`
	Started     *int64            `json:"started,omitempty"`
	Position    *int64            `json:"position,omitempty"`
	Total       *int64            `json:"total,omitempty"`
	Modified    models.Timestamp  `json:"modified"`
	ContentHash string            `json:"content_hash"`
}

// BadgerStore implements Store on an embedded Badger key-value database,
// the flat-file alternative to PostgresStore. Batch applies run inside a
// single Badger transaction, which gives the same all-or-nothing guarantee
// the relational store gets from BEGIN/COMMIT.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if needed) a Badger database rooted at dir.
func OpenBadger(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getJSON(txn *badger.Txn, k []byte, out any) error {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, k []byte, in any) error {
	val, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return txn.Set(k, val)
}

// CreateAccount stores a fresh account record. Used by provisioning and
// tests; the sync core itself never registers accounts.
func (s *BadgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key("account", account.Username), accountRecord{
			PasswordHash: account.PasswordHash,
			SessionToken: account.SessionToken,
		})
	})
}

// FindAccount fetches one account by username.
func (s *BadgerStore) FindAccount(ctx context.Context, username string) (models.Account, error) {
	var rec accountRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key("account", username), &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("find account: %w", err)
	}
	return models.Account{
		Username:     username,
		PasswordHash: rec.PasswordHash,
		SessionToken: rec.SessionToken,
	}, nil
}

// SetSessionToken stores or clears the account's session token.
func (s *BadgerStore) SetSessionToken(ctx context.Context, username string, token *string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		k := key("account", username)
		var rec accountRecord
		if err := getJSON(txn, k, &rec); err != nil {
			return err
		}
		rec.SessionToken = token
		return setJSON(txn, k, rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("set session token: %w", err)
	}
	return nil
}

// AccountsWithToken scans the account prefix for holders of token.
func (s *BadgerStore) AccountsWithToken(ctx context.Context, token string) ([]models.Account, error) {
	var accounts []models.Account
	prefix := key("account", "")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			username := string(bytes.TrimPrefix(item.Key(), prefix))
			var rec accountRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.SessionToken != nil && *rec.SessionToken == token {
				accounts = append(accounts, models.Account{
					Username:     username,
					PasswordHash: rec.PasswordHash,
					SessionToken: rec.SessionToken,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accounts with token: %w", err)
	}
	return accounts, nil
}

// ListDevices returns the account's devices with active subscription
// counts.
func (s *BadgerStore) ListDevices(ctx context.Context, username string) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.View(func(txn *badger.Txn) error {
		// Count active subscriptions per device first.
		counts := make(map[string]int)
		subPrefix := key("sub", username, "")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = subPrefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := bytes.TrimPrefix(item.Key(), subPrefix)
			device, _, ok := bytes.Cut(rest, []byte{0})
			if !ok {
				continue
			}
			var rec subscriptionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				it.Close()
				return err
			}
			if rec.Deleted == nil {
				counts[string(device)]++
			}
		}
		it.Close()

		devPrefix := key("device", username, "")
		opts = badger.DefaultIteratorOptions
		opts.Prefix = devPrefix
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), devPrefix))
			var rec deviceRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			devices = append(devices, models.Device{
				ID:            id,
				Caption:       rec.Caption,
				Type:          rec.Type,
				Subscriptions: counts[id],
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// UpsertDevice creates the device with defaults or patches the stored
// record field by field.
func (s *BadgerStore) UpsertDevice(ctx context.Context, username, id string, update models.DeviceUpdate) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		k := key("device", username, id)
		rec := deviceRecord{Type: models.DeviceOther}
		if err := getJSON(txn, k, &rec); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if update.Caption != nil {
			rec.Caption = *update.Caption
		}
		if update.Type != nil {
			rec.Type = *update.Type
		}
		return setJSON(txn, k, rec)
	})
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// Subscriptions returns the device's rows created or tombstoned after
// since.
func (s *BadgerStore) Subscriptions(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error) {
	var subs []models.Subscription
	prefix := key("sub", username, device, "")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			url := string(bytes.TrimPrefix(item.Key(), prefix))
			var rec subscriptionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.Created <= since && (rec.Deleted == nil || *rec.Deleted <= since) {
				continue
			}
			subs = append(subs, models.Subscription{
				URL:     url,
				Created: rec.Created,
				Deleted: rec.Deleted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	return subs, nil
}

// ApplySubscriptionChanges tombstones removals and insert-or-ignores
// additions inside a single Badger transaction.
func (s *BadgerStore) ApplySubscriptionChanges(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, url := range remove {
			k := key("sub", username, device, url)
			var rec subscriptionRecord
			err := getJSON(txn, k, &rec)
			if errors.Is(err, ErrNotFound) {
				continue // no active row, removal is a no-op
			}
			if err != nil {
				return err
			}
			if rec.Deleted != nil {
				continue // already tombstoned
			}
			ts := now
			rec.Deleted = &ts
			if err := setJSON(txn, k, rec); err != nil {
				return err
			}
		}

		for _, url := range add {
			k := key("sub", username, device, url)
			var rec subscriptionRecord
			err := getJSON(txn, k, &rec)
			if err == nil {
				continue // existing key, tombstoned or not: never resurrected
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := setJSON(txn, k, subscriptionRecord{Created: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply subscription changes: %w", err)
	}
	return nil
}

// Episodes returns the compacted episode rows modified after the cursor.
func (s *BadgerStore) Episodes(ctx context.Context, username string, filter EpisodeFilter) ([]models.EpisodeAction, error) {
	var actions []models.EpisodeAction
	prefix := key("episode", username, "")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			rest := bytes.TrimPrefix(item.Key(), prefix)
			podcast, episode, ok := bytes.Cut(rest, []byte{0})
			if !ok {
				continue
			}
			var rec episodeRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.Modified <= filter.Since {
				continue
			}
			if filter.Podcast != nil && *filter.Podcast != string(podcast) {
				continue
			}
			if filter.Device != nil && (rec.Device == nil || *rec.Device != *filter.Device) {
				continue
			}
			actions = append(actions, models.EpisodeAction{
				Podcast:   string(podcast),
				Episode:   string(episode),
				Device:    rec.Device,
				Timestamp: rec.Timestamp,
				GUID:      rec.GUID,
				Action:    rec.Action,
				Started:   rec.Started,
				Position:  rec.Position,
				Total:     rec.Total,
				Modified:  rec.Modified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select episodes: %w", err)
	}
	return actions, nil
}

// ApplyEpisodeChanges upserts actions by (username, podcast, episode)
// inside one Badger transaction, skipping rows whose stored content hash
// matches the incoming action.
func (s *BadgerStore) ApplyEpisodeChanges(ctx context.Context, username string, now models.Timestamp, actions []models.EpisodeAction) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, action := range actions {
			k := key("episode", username, action.Podcast, action.Episode)
			hash := action.ContentHash()

			var existing episodeRecord
			err := getJSON(txn, k, &existing)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if err == nil && existing.ContentHash == hash {
				continue // semantic duplicate: leave modified untouched
			}

			rec := episodeRecord{
				Device:      action.Device,
				Timestamp:   action.Timestamp,
				GUID:        action.GUID,
				Action:      action.Action,
				Started:     action.Started,
				Position:    action.Position,
				Total:       action.Total,
				Modified:    now,
				ContentHash: hash,
			}
			if rec.Device == nil && err == nil {
				rec.Device = existing.Device
			}
			if err := setJSON(txn, k, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply episode changes: %w", err)
	}
	return nil
}
