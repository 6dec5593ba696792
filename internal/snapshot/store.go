package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const imageExt = ".png"

var nonWord = regexp.MustCompile(`\W+`)

// Meta describes a stored snapshot image.
type Meta struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store manages snapshot images on disk. Images are named by Key, so the same
// landing page always maps to the same file.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Key derives a name-based uuid from a host+path with non-word characters removed.
func Key(hostPath string) string {
	normalized := strings.ToLower(nonWord.ReplaceAllString(hostPath, ""))
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(normalized)).String()
}

func (s *Store) Dir() string { return s.dir }

// PathFor returns the image path for a landing page host+path.
func (s *Store) PathFor(hostPath string) string {
	return filepath.Join(s.dir, Key(hostPath)+imageExt)
}

// List returns stored images, newest first.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list()
}

func (s *Store) list() ([]Meta, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+imageExt))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			Name:       info.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].ModifiedAt.After(metas[j].ModifiedAt)
	})
	return metas, nil
}

// Prune deletes the oldest images beyond keep and returns how many were removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.list()
	if err != nil {
		return 0, err
	}
	if len(metas) <= keep {
		return 0, nil
	}

	removed := 0
	for _, meta := range metas[keep:] {
		if err := os.Remove(filepath.Join(s.dir, meta.Name)); err != nil {
			slog.Debug("snapshot cleanup failed", "name", meta.Name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

var imageName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.png$`)

// ErrInvalidName is returned for names that Key could not have produced.
var ErrInvalidName = errors.New("snapshot: invalid image name")

// Read returns the bytes of a stored image by file name.
func (s *Store) Read(name string) ([]byte, error) {
	if !imageName.MatchString(name) {
		return nil, ErrInvalidName
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return os.ReadFile(filepath.Join(s.dir, name))
}
