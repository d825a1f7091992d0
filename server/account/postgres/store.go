// Package postgres provides a PostgreSQL-backed profile store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
)

type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

var _ account.Backend = (*Store)(nil)

// Open connects using dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:  db,
		log: log.With().Str("store", "postgres").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS profiles (
			wallet TEXT PRIMARY KEY,
			points BIGINT NOT NULL DEFAULT 0,
			xp BIGINT NOT NULL DEFAULT 0,
			tap_power BIGINT NOT NULL DEFAULT 1,
			auto_level BIGINT NOT NULL DEFAULT 0,
			last_daily TIMESTAMPTZ,
			total_taps BIGINT NOT NULL DEFAULT 0,
			soft_resets BIGINT NOT NULL DEFAULT 0,
			farcaster_username TEXT,
			tap_cost BIGINT NOT NULL DEFAULT 50,
			auto_cost BIGINT NOT NULL DEFAULT 150,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_xp ON profiles (xp DESC, wallet ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const profileColumns = `wallet, points, xp, tap_power, auto_level, last_daily, total_taps,
	soft_resets, farcaster_username, tap_cost, auto_cost, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (account.Profile, error) {
	var (
		p           account.Profile
		lastDaily   sql.NullTime
		displayName sql.NullString
	)
	if err := row.Scan(
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
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return account.Profile{}, err
	}
	if lastDaily.Valid {
		t := lastDaily.Time.UTC()
		p.LastDailyClaim = &t
	}
	if displayName.Valid {
		n := displayName.String
		p.DisplayName = &n
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (account.Profile, error) {
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE wallet = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return account.Profile{}, account.ErrNotFound
	}
	if err != nil {
		return account.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id string) (account.Profile, error) {
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (wallet, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (wallet) DO NOTHING
	`, id, now)
	if err != nil {
		return account.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info().Str("wallet", id).Msg("created profile")
	}
	return s.Get(ctx, id)
}

// Upsert locks the row for the read-modify-write so concurrent patches to the
// same wallet apply one after the other.
func (s *Store) Upsert(ctx context.Context, id string, patch account.Patch) (account.Profile, error) {
	id, err := account.CanonicalID(id)
	if err != nil {
		return account.Profile{}, err
	}
	if err := patch.Validate(); err != nil {
		return account.Profile{}, err
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return account.Profile{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (wallet, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (wallet) DO NOTHING
	`, id, now); err != nil {
		return account.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	cur, err := scanProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE wallet = $1 FOR UPDATE`, id))
	if err != nil {
		return account.Profile{}, fmt.Errorf("lock profile: %w", err)
	}
	p := account.Merge(id, &cur, patch, now)

	var lastDaily sql.NullTime
	if p.LastDailyClaim != nil {
		lastDaily = sql.NullTime{Time: *p.LastDailyClaim, Valid: true}
	}
	var displayName sql.NullString
	if p.DisplayName != nil {
		displayName = sql.NullString{String: *p.DisplayName, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE profiles
		SET points = $2,
			xp = $3,
			tap_power = $4,
			auto_level = $5,
			last_daily = $6,
			total_taps = $7,
			soft_resets = $8,
			farcaster_username = $9,
			tap_cost = $10,
			auto_cost = $11,
			updated_at = $12
		WHERE wallet = $1
	`, id, p.Points, p.Experience, p.TapPower, p.AutoLevel, lastDaily, p.TotalTaps,
		p.PrestigeCount, displayName, p.TapUpgradeCost, p.AutoUpgradeCost, p.UpdatedAt); err != nil {
		return account.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return account.Profile{}, fmt.Errorf("commit upsert: %w", err)
	}
	return p, nil
}

func (s *Store) TopByExperience(ctx context.Context, limit int) ([]account.Profile, error) {
	if limit <= 0 {
		return []account.Profile{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		ORDER BY xp DESC, wallet ASC
		LIMIT $1
	`, limit)
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
	return out, rows.Err()
}
