// Package persist implements the KV abstraction used for channel monitor
// snapshots, channel manager state, the shared network graph, and the
// probabilistic scorer. Two Store implementations sit behind the same
// interface: a filesystem store rooted at a data directory, and a
// database-backed store that writes into a tenant's wallet_kv rows.
package persist

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Store is the KV contract both concrete stores satisfy: write, read
// (returning a found flag rather than a NotFound error, since "absent" is
// the expected steady state for a fresh tenant), and list-by-prefix.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) (data []byte, found bool, err error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileStore persists keys as files under a root directory. A key may
// contain "/" to place it in a subdirectory (e.g. "monitors/<name>").
// Writes are atomic: data lands in a ".tmp" sibling first, then is
// renamed over the destination, so a crash mid-write never leaves a
// truncated file in place of a valid one.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "create persist dir %s", dir)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileStore) Write(ctx context.Context, key string, data []byte) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return lnerrors.ChainFatal(err, "create persist subdir for %s", key)
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return lnerrors.ChainFatal(err, "write tmp file for %s", key)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return lnerrors.ChainFatal(err, "rename tmp file for %s", key)
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, lnerrors.ChainFatal(err, "read file for %s", key)
	}
	return data, true, nil
}

// List returns every key under prefix, skipping any ".tmp" sibling left
// behind by a torn write.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.path(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, lnerrors.ChainFatal(err, "list persist dir %s", prefix)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		out = append(out, strings.TrimSuffix(prefix, "/")+"/"+e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// DBStore persists keys into one tenant's wallet_kv namespace, backed by
// the shared Database connection pool WalletStore also uses.
type DBStore struct {
	db       *database.DB
	tenantID string
}

// NewDBStore returns a DBStore scoped to one tenant.
func NewDBStore(db *database.DB, tenantID string) *DBStore {
	return &DBStore{db: db, tenantID: tenantID}
}

func (s *DBStore) Write(ctx context.Context, key string, data []byte) error {
	return s.db.PutKV(ctx, s.tenantID, key, data)
}

func (s *DBStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.db.GetKV(ctx, s.tenantID, key)
	if err != nil {
		if lnerrors.Is(err, lnerrors.KindNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *DBStore) List(ctx context.Context, prefix string) ([]string, error) {
	kv, err := s.db.ListKVByPrefix(ctx, s.tenantID, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(kv))
	for k := range kv {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
