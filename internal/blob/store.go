// Package blob is the file-blob collaborator: get/put by key. The pipeline
// treats it as opaque storage; only the filesystem implementation lives here.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Zikki-Qing/tabmend/internal/common"
)

// Store is a blob store keyed by string. Keys may contain slashes; they map
// to paths under the store root.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Ping verifies the store is reachable and writable.
	Ping(ctx context.Context) error
}

type fsStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore returns a filesystem-backed store rooted at dir.
func NewFSStore(dir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.WrapError(err, "create blob root")
	}
	return &fsStore{root: dir, logger: logger}, nil
}

func (s *fsStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: invalid blob key %q", common.ErrStorage, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *fsStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return common.WrapError(err, "create blob dir")
	}
	// Write-then-rename so readers never observe a partial blob.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return common.WrapError(err, "write blob")
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return common.WrapError(err, "commit blob")
	}
	s.logger.Debug("blob stored", "key", key, "bytes", len(data))
	return nil
}

func (s *fsStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", common.ErrNotFound, key)
	}
	if err != nil {
		return nil, common.WrapError(err, "read blob")
	}
	return data, nil
}

func (s *fsStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.WrapError(err, "delete blob")
	}
	return nil
}

func (s *fsStore) Ping(_ context.Context) error {
	probe := filepath.Join(s.root, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return common.WrapError(err, "blob store not writable")
	}
	return os.Remove(probe)
}
