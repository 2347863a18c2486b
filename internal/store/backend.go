package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IndexName is the backend name of the index snapshot.
const IndexName = "index.json"

// Backend persists named blobs. Names are slash-separated paths relative to
// the memory root, e.g. "long-term/facts.json".
type Backend interface {
	// Load returns the blob stored under name, or nil when there is none.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the blob stored under name.
	Save(ctx context.Context, name string, data []byte) error

	// List returns the names of every stored shard, excluding the index.
	List(ctx context.Context) ([]string, error)

	// Describe returns a human-readable location.
	Describe() string

	Close() error
}

// FileBackend stores each shard as a JSON file under Root.
type FileBackend struct {
	Root string
}

// NewFileBackend returns a backend rooted at dir/memory, creating it if
// needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	root := filepath.Join(dir, "memory")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileBackend{Root: root}, nil
}

func (b *FileBackend) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid shard name %q", name)
	}
	return filepath.Join(b.Root, clean), nil
}

func (b *FileBackend) Load(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Save writes data to a temp file beside the target and renames it into
// place, so readers never observe a partially written shard.
func (b *FileBackend) Save(_ context.Context, name string, data []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) List(_ context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(b.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != IndexName {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (b *FileBackend) Describe() string { return "file:" + b.Root }

func (b *FileBackend) Close() error { return nil }
