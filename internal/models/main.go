// Package models defines the core data structures for accounts, devices,
// subscriptions and episode actions.
package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// Timestamp is seconds since the Unix epoch. It doubles as a sync cursor:
// clients resubmit the last value they saw to receive only newer state.
// The zero value means "no cursor" / synchronize everything.
type Timestamp int64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// IsZero reports whether t is the epoch / "no cursor" value.
func (t Timestamp) IsZero() bool {
	return t == 0
}

// Account represents a registered user with credentials and an optional
// live session.
type Account struct {
	// Username is the login name of the account.
	Username string
	// PasswordHash is the hex-encoded SHA-256 digest of the password.
	PasswordHash string
	// SessionToken is the account's single live session token,
	// nil when logged out.
	SessionToken *string
}

// DeviceType classifies a client device.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceLaptop  DeviceType = "laptop"
	DeviceMobile  DeviceType = "mobile"
	DeviceServer  DeviceType = "server"
	// DeviceOther is the default for unclassified devices.
	DeviceOther DeviceType = "other"
)

// Valid reports whether d is one of the known device types.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceDesktop, DeviceLaptop, DeviceMobile, DeviceServer, DeviceOther:
		return true
	}
	return false
}

// Device is a client device registered under an account, keyed by
// (account, id).
type Device struct {
	// ID is the client-chosen device identifier.
	ID string `json:"id"`
	// Caption is a human-readable device name; may be empty.
	Caption string `json:"caption"`
	// Type classifies the device; defaults to DeviceOther.
	Type DeviceType `json:"type"`
	// Subscriptions is the number of active subscriptions on this device.
	Subscriptions int `json:"subscriptions"`
}

// DeviceUpdate is a partial-update patch for a device record: nil fields
// keep the existing value, non-nil fields overwrite it. Applying a patch to
// a device that does not exist yet creates it with defaults.
type DeviceUpdate struct {
	Caption *string     `json:"caption"`
	Type    *DeviceType `json:"type"`
}

// Validate rejects patches carrying an unknown device type.
func (u DeviceUpdate) Validate() error {
	if u.Type != nil && !u.Type.Valid() {
		return errors.New("unknown device type")
	}
	return nil
}

// Subscription is one podcast URL subscribed on one device. Rows are never
// physically removed: a removal sets Deleted (tombstone) so "what was
// removed since X" queries keep working.
type Subscription struct {
	// URL identifies the podcast feed.
	URL string `json:"url"`
	// Created is when the subscription was added.
	Created Timestamp `json:"created"`
	// Deleted, when non-nil, is when the subscription was removed.
	// Always >= Created.
	Deleted *Timestamp `json:"deleted,omitempty"`
}

// ActionType is the kind of an episode action.
type ActionType string

const (
	ActionNew      ActionType = "new"
	ActionDownload ActionType = "download"
	ActionPlay     ActionType = "play"
	ActionDelete   ActionType = "delete"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	switch a {
	case ActionNew, ActionDownload, ActionPlay, ActionDelete:
		return true
	}
	return false
}

// EpisodeAction records the latest playback/download state of one episode.
// The merge identity is (account, podcast, episode) — the device is recorded
// but deliberately not part of the key, so the latest writer across all of
// an account's devices wins.
type EpisodeAction struct {
	// Podcast is the feed URL the episode belongs to.
	Podcast string `json:"podcast"`
	// Episode identifies the episode within the podcast.
	Episode string `json:"episode"`
	// Device is the reporting device; optional from clients and not part
	// of the merge identity.
	Device *string `json:"device,omitempty"`
	// Action is what happened to the episode.
	Action ActionType `json:"action"`
	// Timestamp is the client-reported time of the action.
	Timestamp *Timestamp `json:"timestamp,omitempty"`
	// GUID is the episode's feed GUID, if the client knows it.
	GUID *string `json:"guid,omitempty"`
	// Started/Position/Total carry play progress in seconds.
	// Required for ActionPlay, absent otherwise.
	Started  *int64 `json:"started,omitempty"`
	Position *int64 `json:"position,omitempty"`
	Total    *int64 `json:"total,omitempty"`
	// Modified is the server-side merge time. Never sent by clients.
	Modified Timestamp `json:"-"`
}

// Validate checks the action/progress field combination.
func (e EpisodeAction) Validate() error {
	if e.Podcast == "" || e.Episode == "" {
		return errors.New("podcast and episode are required")
	}
	if !e.Action.Valid() {
		return errors.New("unknown episode action")
	}
	if e.Action == ActionPlay && (e.Started == nil || e.Position == nil || e.Total == nil) {
		return errors.New("play action without started/position/total")
	}
	return nil
}

// ContentHash is a deterministic digest of the action's logical fields:
// podcast, episode, action, started/position/total, guid and the client
// timestamp. Modified and Device are excluded. Two actions hash equal
// exactly when they are semantic duplicates, which is what lets the episode
// merge skip no-op writes.
func (e EpisodeAction) ContentHash() string {
	h := sha256.New()
	writeStr := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeOptInt := func(v *int64) {
		if v == nil {
			h.Write([]byte{0})
			return
		}
		var n [9]byte
		n[0] = 1
		binary.BigEndian.PutUint64(n[1:], uint64(*v))
		h.Write(n[:])
	}

	writeStr(e.Podcast)
	writeStr(e.Episode)
	writeStr(string(e.Action))
	writeOptInt(e.Started)
	writeOptInt(e.Position)
	writeOptInt(e.Total)
	if e.GUID != nil {
		writeStr(*e.GUID)
	} else {
		h.Write([]byte{0})
	}
	if e.Timestamp != nil {
		ts := int64(*e.Timestamp)
		writeOptInt(&ts)
	} else {
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
