package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/account/postgres"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/account/sqlite"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/config"
)

// openStore picks the profile backend named by TAPGROW_STORE.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (account.Backend, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "sqlite":
		path := cfg.SQLiteFile()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return sqlite.Open(ctx, path, log)
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN, log)
	case "file", "":
		return account.OpenFileStore(cfg.ProfilesDir(), log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
