package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.db")
	store, err := Open(context.Background(), path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func int64p(v int64) *int64 { return &v }

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), " ", zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, store.sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var busy, fk int
	require.NoError(t, store.sqlDB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)
	require.NoError(t, store.sqlDB.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenTwiceReappliesNothing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.db")
	first, err := Open(context.Background(), path, zerolog.Nop())
	require.NoError(t, err)
	_, err = first.Upsert(context.Background(), "0xkeep", account.Patch{Points: int64p(3)})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()
	p, err := second.Get(context.Background(), "0xkeep")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Points)
}

func TestGetOrCreateDefaults(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "0xabc")
	assert.True(t, errors.Is(err, account.ErrNotFound))

	p, err := store.GetOrCreate(ctx, "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", p.ID)
	assert.Equal(t, int64(1), p.TapPower)
	assert.Equal(t, int64(50), p.TapUpgradeCost)
	assert.Equal(t, int64(150), p.AutoUpgradeCost)
	assert.Nil(t, p.LastDailyClaim)
	assert.Nil(t, p.DisplayName)

	again, err := store.GetOrCreate(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestUpsertRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	claimed := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
	name := "willow"

	want := account.Profile{
		ID: "0xround", Points: 120, Experience: 4000, TapPower: 4, AutoLevel: 3,
		LastDailyClaim: &claimed, TotalTaps: 321, PrestigeCount: 2, DisplayName: &name,
		TapUpgradeCost: 145, AutoUpgradeCost: 486,
	}
	_, err := store.Upsert(ctx, want.ID, account.Snapshot(want))
	require.NoError(t, err)

	got, err := store.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Points, got.Points)
	assert.Equal(t, want.Experience, got.Experience)
	assert.Equal(t, want.TapPower, got.TapPower)
	assert.Equal(t, want.AutoLevel, got.AutoLevel)
	assert.Equal(t, want.TotalTaps, got.TotalTaps)
	assert.Equal(t, want.PrestigeCount, got.PrestigeCount)
	assert.Equal(t, want.TapUpgradeCost, got.TapUpgradeCost)
	assert.Equal(t, want.AutoUpgradeCost, got.AutoUpgradeCost)
	require.NotNil(t, got.LastDailyClaim)
	assert.True(t, claimed.Equal(*got.LastDailyClaim))
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, "willow", *got.DisplayName)

	// explicit null clears the claim, absent fields stay
	_, err = store.Upsert(ctx, want.ID, account.Patch{LastDailyClaim: account.OptionalTime{Set: true}})
	require.NoError(t, err)
	got, err = store.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastDailyClaim)
	assert.Equal(t, want.Points, got.Points)
}

func TestUpsertRejectsInvalidPatch(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.Upsert(context.Background(), "0xbad", account.Patch{TapPower: int64p(0)})
	assert.ErrorIs(t, err, account.ErrInvalidPatch)

	_, err = store.Get(context.Background(), "0xbad")
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestTopByExperience(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, row := range []struct {
		id string
		xp int64
	}{{"0xa", 50}, {"0xb", 900}, {"0xc", 900}, {"0xd", 10}, {"0xe", 300}} {
		_, err := store.Upsert(ctx, row.id, account.Patch{Experience: int64p(row.xp)})
		require.NoError(t, err)
	}

	top, err := store.TopByExperience(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "0xb", top[0].ID)
	assert.Equal(t, "0xc", top[1].ID)
	assert.Equal(t, "0xe", top[2].ID)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.GetOrCreate(ctx, "0xabc")
	assert.ErrorIs(t, err, context.Canceled)
}
