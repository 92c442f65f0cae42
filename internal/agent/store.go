package agent

import (
	"fmt"
	"path/filepath"
	"strings"

	"dfs-lite/internal/config"
)

// PartStore holds the parts a node has been given, keyed by access name.
type PartStore interface {
	Put(name string, data []byte) error
	Get(name string) ([]byte, error)
	Delete(name string) error
	// Search returns the names of parts whose contents contain substr.
	Search(substr []byte) ([]string, error)
	Close() error
}

func OpenStore(backend config.StoreBackend, dir string) (PartStore, error) {
	switch backend {
	case config.StoreDisk, "":
		return NewDiskStore(dir)
	case config.StoreBadger:
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}

// validName rejects names that could escape the storage directory or break
// the comma-joined search reply.
func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		filepath.Base(name) != name ||
		strings.ContainsAny(name, `,/\`) ||
		strings.HasSuffix(name, tmpSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
