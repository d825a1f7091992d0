package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9]+`)

// FileStore keeps one JSON document per wallet under dir. Writes go through a
// temp file and a rename so readers never see a torn record.
type FileStore struct {
	dir string
	log zerolog.Logger
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenFileStore creates dir if needed.
func OpenFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("profiles dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}
	return &FileStore{
		dir:   dir,
		log:   log.With().Str("store", "file").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) Close() error { return nil }

// safeFileName maps an id to a file name; distinct wallets stay distinct
// because ids are already lowercase hex or "fc:<fid>".
func safeFileName(id string) string {
	n := unsafeFileChars.ReplaceAllString(id, "_")
	if n == "" {
		n = "player"
	}
	return n + ".json"
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, safeFileName(id))
}

func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *FileStore) read(id string) (Profile, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", id, err)
	}
	p.ID = id
	p.normalize()
	return p, nil
}

func (s *FileStore) write(p Profile) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	path := s.path(p.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename profile: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	id, err := CanonicalID(id)
	if err != nil {
		return Profile{}, err
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.read(id)
}

func (s *FileStore) GetOrCreate(ctx context.Context, id string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	id, err := CanonicalID(id)
	if err != nil {
		return Profile{}, err
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	p, err := s.read(id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}
	p = NewProfile(id)
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	if err := s.write(p); err != nil {
		return Profile{}, err
	}
	s.log.Info().Str("wallet", id).Msg("created profile")
	return p, nil
}

func (s *FileStore) Upsert(ctx context.Context, id string, patch Patch) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	id, err := CanonicalID(id)
	if err != nil {
		return Profile{}, err
	}
	if err := patch.Validate(); err != nil {
		return Profile{}, err
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	var stored *Profile
	cur, err := s.read(id)
	switch {
	case err == nil:
		stored = &cur
	case !errors.Is(err, ErrNotFound):
		return Profile{}, err
	}
	p := Merge(id, stored, patch, s.now())
	if err := s.write(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// TopByExperience walks the profiles dir. Fine for small deployments; the SQL
// backends use an index instead.
func (s *FileStore) TopByExperience(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		return []Profile{}, nil
	}
	var out []Profile
	err := fs.WalkDir(os.DirFS(s.dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != "." {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".json") {
			return nil
		}
		b, err := os.ReadFile(filepath.Join(s.dir, p))
		if err != nil {
			s.log.Warn().Err(err).Str("file", p).Msg("skip unreadable profile")
			return nil
		}
		var prof Profile
		if err := json.Unmarshal(b, &prof); err != nil {
			s.log.Warn().Err(err).Str("file", p).Msg("skip corrupt profile")
			return nil
		}
		prof.normalize()
		out = append(out, prof)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	SortByExperience(out)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Profile{}
	}
	return out, nil
}

// SortByExperience orders descending by xp, then by wallet for a stable board.
func SortByExperience(ps []Profile) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Experience != ps[j].Experience {
			return ps[i].Experience > ps[j].Experience
		}
		return ps[i].ID < ps[j].ID
	})
}
