// Package repository defines the persistence contract the sync core is
// written against, plus its two implementations: a relational store backed
// by PostgreSQL and an embedded key-value store backed by Badger. The core
// never branches on which one it is given.
package repository

import (
	"context"
	"errors"

	"github.com/atinyakov/podsync/internal/models"
)

// ErrNotFound is returned by lookups that miss. It never crosses the
// service facade: callers there see Unauthorized or Internal instead.
var ErrNotFound = errors.New("not found")

// EpisodeFilter narrows an episode query. Nil filter fields are
// unconstrained; Since is exclusive.
type EpisodeFilter struct {
	Since   models.Timestamp
	Podcast *string
	Device  *string
}

// AccountStore persists accounts and their single session token.
type AccountStore interface {
	// FindAccount fetches an account by username.
	// Returns ErrNotFound when no such account exists.
	FindAccount(ctx context.Context, username string) (models.Account, error)
	// SetSessionToken stores the account's session token; nil clears it
	// (logout). Returns ErrNotFound for an unknown account.
	SetSessionToken(ctx context.Context, username string, token *string) error
	// AccountsWithToken returns every account whose stored token equals
	// token. More than one element signals an integrity violation the
	// caller must surface.
	AccountsWithToken(ctx context.Context, token string) ([]models.Account, error)
}

// DeviceStore persists per-account devices.
type DeviceStore interface {
	// ListDevices returns the account's devices with their active
	// subscription counts.
	ListDevices(ctx context.Context, username string) ([]models.Device, error)
	// UpsertDevice applies a partial update, creating the device with
	// defaults when it does not exist yet.
	UpsertDevice(ctx context.Context, username, id string, update models.DeviceUpdate) error
}

// SubscriptionStore persists per-device subscription rows with tombstones.
type SubscriptionStore interface {
	// Subscriptions returns rows for (username, device) where
	// created > since or deleted > since.
	Subscriptions(ctx context.Context, username, device string, since models.Timestamp) ([]models.Subscription, error)
	// ApplySubscriptionChanges tombstones the active rows matching remove
	// and insert-or-ignores the add rows, all inside one transaction.
	// An existing row — tombstoned or not — is never altered by an add.
	ApplySubscriptionChanges(ctx context.Context, username, device string, add, remove []string, now models.Timestamp) error
}

// EpisodeStore persists the compacted episode-action log.
type EpisodeStore interface {
	// Episodes returns actions matching the filter, newest state only.
	Episodes(ctx context.Context, username string, filter EpisodeFilter) ([]models.EpisodeAction, error)
	// ApplyEpisodeChanges upserts actions by (username, podcast, episode)
	// inside one transaction. A row whose stored content hash equals the
	// incoming action's hash is left completely untouched, including its
	// modified marker; otherwise all mutable fields are overwritten and
	// modified is set to now.
	ApplyEpisodeChanges(ctx context.Context, username string, now models.Timestamp, actions []models.EpisodeAction) error
}

// Store is the full persistence port consumed by the service layer.
type Store interface {
	AccountStore
	DeviceStore
	SubscriptionStore
	EpisodeStore
}
