// Package sqlite provides a SQLite-backed profile store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/account/sqlite/migrations"
)

// Store persists profiles in SQLite.
type Store struct {
	sqlDB *sql.DB
	log   zerolog.Logger
	now   func() time.Time

	// serializes read-modify-write upserts inside this process
	writeMu sync.Mutex
}

var _ account.Backend = (*Store)(nil)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// pragmas run on every new connection; modernc.org/sqlite only reads _pragma keys.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	q := make(url.Values)
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return filepath.Clean(path) + "?" + q.Encode()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{
		sqlDB: sqlDB,
		log:   log.With().Str("store", "sqlite").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const profileColumns = `wallet, points, xp, tap_power, auto_level, last_daily, total_taps,
       soft_resets, farcaster_username, tap_cost, auto_cost, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (account.Profile, error) {
	var (
		p                    account.Profile
		lastDaily            sql.NullInt64
		displayName          sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.ID,
		&p.Points,
		&p.Experience,
		&p.TapPower,
		&p.AutoLevel,
		&lastDaily,
		&p.TotalTaps,
		&p.PrestigeCount,
		&displayName,
		&p.TapUpgradeCost,
		&p.AutoUpgradeCost,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return account.Profile{}, err
	}
	if lastDaily.Valid {
		t := fromMillis(lastDaily.Int64)
		p.LastDailyClaim = &t
	}
	if displayName.Valid {
		n := displayName.String
		p.DisplayName = &n
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (account.Profile, error) {
	if err := ctx.Err(); err != nil {
		return account.Profile{}, err
	}
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	return s.get(ctx, s.sqlDB, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q querier, id string) (account.Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE wallet = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Profile{}, account.ErrNotFound
	}
	if err != nil {
		return account.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id string) (account.Profile, error) {
	if err := ctx.Err(); err != nil {
		return account.Profile{}, err
	}
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	p, err := s.get(ctx, s.sqlDB, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return account.Profile{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	now := s.now()
	p = account.NewProfile(id)
	p.CreatedAt, p.UpdatedAt = now, now
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (wallet, tap_power, tap_cost, auto_cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(wallet) DO NOTHING`,
		id, p.TapPower, p.TapUpgradeCost, p.AutoUpgradeCost, toMillis(now), toMillis(now),
	); err != nil {
		return account.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	// another writer may have won the insert
	return s.get(ctx, s.sqlDB, id)
}

func (s *Store) Upsert(ctx context.Context, id string, patch account.Patch) (account.Profile, error) {
	if err := ctx.Err(); err != nil {
		return account.Profile{}, err
	}
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	if err := patch.Validate(); err != nil {
		return account.Profile{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return account.Profile{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored *account.Profile
	cur, err := s.get(ctx, tx, id)
	switch {
	case err == nil:
		stored = &cur
	case !errors.Is(err, account.ErrNotFound):
		return account.Profile{}, err
	}
	p := account.Merge(id, stored, patch, s.now())

	var lastDaily sql.NullInt64
	if p.LastDailyClaim != nil {
		lastDaily = sql.NullInt64{Int64: toMillis(*p.LastDailyClaim), Valid: true}
	}
	var displayName sql.NullString
	if p.DisplayName != nil {
		displayName = sql.NullString{String: *p.DisplayName, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(wallet) DO UPDATE SET
		   points = excluded.points,
		   xp = excluded.xp,
		   tap_power = excluded.tap_power,
		   auto_level = excluded.auto_level,
		   last_daily = excluded.last_daily,
		   total_taps = excluded.total_taps,
		   soft_resets = excluded.soft_resets,
		   farcaster_username = excluded.farcaster_username,
		   tap_cost = excluded.tap_cost,
		   auto_cost = excluded.auto_cost,
		   updated_at = excluded.updated_at`,
		p.ID,
		p.Points,
		p.Experience,
		p.TapPower,
		p.AutoLevel,
		lastDaily,
		p.TotalTaps,
		p.PrestigeCount,
		displayName,
		p.TapUpgradeCost,
		p.AutoUpgradeCost,
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	if err != nil {
		return account.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return account.Profile{}, fmt.Errorf("commit upsert: %w", err)
	}
	return p, nil
}

func (s *Store) TopByExperience(ctx context.Context, limit int) ([]account.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []account.Profile{}, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+profileColumns+`
		   FROM profiles
		  ORDER BY xp DESC, wallet ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]account.Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}
