package repository_test

import (
	"context"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/podsync/internal/models"
	"github.com/atinyakov/podsync/internal/repository"
)

func setupBadger(t *testing.T) *repository.BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewBadgerStore(db)
}

func strPtr(s string) *string { return &s }

func tsPtr(v models.Timestamp) *models.Timestamp { return &v }

func i64Ptr(v int64) *int64 { return &v }

func typePtr(v models.DeviceType) *models.DeviceType { return &v }

func TestBadgerAccounts(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, models.Account{
		Username:     "bob",
		PasswordHash: "hash",
	}))

	account, err := store.FindAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", account.Username)
	assert.Equal(t, "hash", account.PasswordHash)
	assert.Nil(t, account.SessionToken)

	_, err = store.FindAccount(ctx, "tim")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// Set, look up by token, clear.
	token := "11111111222222223333333344444444"
	require.NoError(t, store.SetSessionToken(ctx, "bob", &token))

	accounts, err := store.AccountsWithToken(ctx, token)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "bob", accounts[0].Username)

	require.NoError(t, store.SetSessionToken(ctx, "bob", nil))
	accounts, err = store.AccountsWithToken(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	err = store.SetSessionToken(ctx, "tim", &token)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBadgerDevices(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	// Implicit creation: empty patch yields defaults.
	require.NoError(t, store.UpsertDevice(ctx, "bob", "phone", models.DeviceUpdate{}))

	devices, err := store.ListDevices(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, models.Device{ID: "phone", Caption: "", Type: models.DeviceOther}, devices[0])

	// Partial patch keeps the other field.
	require.NoError(t, store.UpsertDevice(ctx, "bob", "phone", models.DeviceUpdate{
		Caption: strPtr("My Phone"),
	}))
	require.NoError(t, store.UpsertDevice(ctx, "bob", "phone", models.DeviceUpdate{
		Type: typePtr(models.DeviceMobile),
	}))

	devices, err = store.ListDevices(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "My Phone", devices[0].Caption)
	assert.Equal(t, models.DeviceMobile, devices[0].Type)

	// A later empty patch never overwrites.
	require.NoError(t, store.UpsertDevice(ctx, "bob", "phone", models.DeviceUpdate{}))
	devices, err = store.ListDevices(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "My Phone", devices[0].Caption)

	// Devices of other accounts stay invisible.
	devices, err = store.ListDevices(ctx, "tim")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestBadgerSubscriptions_TombstoneNeverResurrected(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	u1 := "http://example.com/a.xml"
	u2 := "http://example.com/b.xml"

	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", []string{u1, u2}, nil, 100))
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", nil, []string{u1}, 200))

	// Literal re-add of a tombstoned URL is ignored.
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", []string{u1}, nil, 300))

	subs, err := store.Subscriptions(ctx, "bob", "phone", 0)
	require.NoError(t, err)
	byURL := make(map[string]models.Subscription, len(subs))
	for _, sub := range subs {
		byURL[sub.URL] = sub
	}

	require.Contains(t, byURL, u1)
	assert.Equal(t, models.Timestamp(100), byURL[u1].Created)
	require.NotNil(t, byURL[u1].Deleted)
	assert.Equal(t, models.Timestamp(200), *byURL[u1].Deleted)

	require.Contains(t, byURL, u2)
	assert.Nil(t, byURL[u2].Deleted)

	// Removing an already-tombstoned or unknown URL is a no-op.
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", nil, []string{u1, "http://example.com/none.xml"}, 400))
	subs, err = store.Subscriptions(ctx, "bob", "phone", 0)
	require.NoError(t, err)
	for _, sub := range subs {
		if sub.URL == u1 {
			assert.Equal(t, models.Timestamp(200), *sub.Deleted, "tombstone timestamp must not move")
		}
	}
}

func TestBadgerSubscriptions_SinceCursor(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	u1 := "http://example.com/a.xml"
	u2 := "http://example.com/b.xml"
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", []string{u1}, nil, 100))
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", []string{u2}, nil, 200))
	require.NoError(t, store.ApplySubscriptionChanges(ctx, "bob", "phone", nil, []string{u1}, 250))

	// since=150: u2 created at 200 and u1 tombstoned at 250 both qualify.
	subs, err := store.Subscriptions(ctx, "bob", "phone", 150)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	// since=300: nothing changed after.
	subs, err = store.Subscriptions(ctx, "bob", "phone", 300)
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Other devices have independent sets.
	subs, err = store.Subscriptions(ctx, "bob", "laptop", 0)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestBadgerEpisodes_IdempotentMerge(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	action := models.EpisodeAction{
		Podcast:   "http://example.com/feed.xml",
		Episode:   "http://example.com/e1.mp3",
		Device:    strPtr("phone"),
		Action:    models.ActionPlay,
		Timestamp: tsPtr(100),
		Started:   i64Ptr(0),
		Position:  i64Ptr(60),
		Total:     i64Ptr(120),
	}

	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 10, []models.EpisodeAction{action}))

	got, err := store.Episodes(ctx, "bob", repository.EpisodeFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Timestamp(10), got[0].Modified)

	// Replaying the identical action leaves modified untouched.
	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 20, []models.EpisodeAction{action}))
	got, err = store.Episodes(ctx, "bob", repository.EpisodeFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Timestamp(10), got[0].Modified)

	// A changed position advances modified.
	action.Position = i64Ptr(90)
	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 30, []models.EpisodeAction{action}))
	got, err = store.Episodes(ctx, "bob", repository.EpisodeFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Timestamp(30), got[0].Modified)
	assert.Equal(t, int64(90), *got[0].Position)
}

func TestBadgerEpisodes_KeepsDeviceWhenIncomingNil(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	withDevice := models.EpisodeAction{
		Podcast: "http://example.com/feed.xml",
		Episode: "http://example.com/e1.mp3",
		Device:  strPtr("phone"),
		Action:  models.ActionDownload,
	}
	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 10, []models.EpisodeAction{withDevice}))

	withoutDevice := withDevice
	withoutDevice.Device = nil
	withoutDevice.Action = models.ActionDelete
	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 20, []models.EpisodeAction{withoutDevice}))

	got, err := store.Episodes(ctx, "bob", repository.EpisodeFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ActionDelete, got[0].Action)
	require.NotNil(t, got[0].Device)
	assert.Equal(t, "phone", *got[0].Device)
}

func TestBadgerEpisodes_Filters(t *testing.T) {
	store := setupBadger(t)
	ctx := context.Background()

	feedA := "http://example.com/a.xml"
	feedB := "http://example.com/b.xml"
	actions := []models.EpisodeAction{
		{Podcast: feedA, Episode: "e1", Device: strPtr("phone"), Action: models.ActionDownload},
		{Podcast: feedB, Episode: "e2", Device: strPtr("laptop"), Action: models.ActionNew},
	}
	require.NoError(t, store.ApplyEpisodeChanges(ctx, "bob", 10, actions))

	got, err := store.Episodes(ctx, "bob", repository.EpisodeFilter{Podcast: &feedA})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].Episode)

	got, err = store.Episodes(ctx, "bob", repository.EpisodeFilter{Device: strPtr("laptop")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].Episode)

	got, err = store.Episodes(ctx, "bob", repository.EpisodeFilter{Since: 10})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.Episodes(ctx, "tim", repository.EpisodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
