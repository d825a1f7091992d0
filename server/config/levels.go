package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/PLUTOX-DEV/Tree-miniapp/shared/game/types"
)

type levelsFile struct {
	Levels []types.LevelTier `yaml:"levels"`
}

// LoadLevels reads a level table override from path. An empty path or a
// missing file falls back to the built-in table; a file that exists but is
// malformed is an error.
func LoadLevels(path string, log zerolog.Logger) (*types.LevelTable, error) {
	if path == "" {
		return types.DefaultLevels(), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("levels file not found, using built-in table")
		return types.DefaultLevels(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read levels file: %w", err)
	}
	return ParseLevels(b)
}

// ParseLevels decodes YAML of the form
//
//	levels:
//	  - name: Seed
//	    xp: 0
func ParseLevels(b []byte) (*types.LevelTable, error) {
	var f levelsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode levels file: %w", err)
	}
	t, err := types.NewLevelTable(f.Levels)
	if err != nil {
		return nil, fmt.Errorf("levels file: %w", err)
	}
	return t, nil
}
