package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object exists under the key.
// It is the only error callers may treat as a cache miss.
var ErrNotFound = errors.New("storage: key not found")

// Storage is the interface for object storage (Local/Memory/Redis/OSS)
type Storage interface {
	// Put stores data with the given key, replacing any previous object
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves data by key; a missing key yields an error wrapping ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes data by key
	Delete(ctx context.Context, key string) error

	// Exists checks if key exists
	Exists(ctx context.Context, key string) (bool, error)

	// List lists all keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Name identifies the backend in logs, e.g. "file:/var/cache/gratsample"
	Name() string
}

// Preparer is implemented by backends that need a namespace to exist
// before objects are written under it (directories on a filesystem).
type Preparer interface {
	Prepare(ctx context.Context, namespace string) error
}

// MakeKey joins a namespace and an entry key into a storage key.
// Format: {namespace}/{key}
func MakeKey(namespace, key string) string {
	return namespace + "/" + key
}

// SplitKey is the inverse of MakeKey.
func SplitKey(storageKey string) (namespace, key string, ok bool) {
	namespace, key, ok = strings.Cut(storageKey, "/")
	if !ok || namespace == "" || key == "" {
		return "", "", false
	}
	return namespace, key, true
}

// ValidateNamespace reports whether ns can be used as a single path segment.
func ValidateNamespace(ns string) error {
	switch {
	case ns == "":
		return errors.New("storage: empty namespace")
	case ns == "." || ns == "..":
		return fmt.Errorf("storage: invalid namespace %q", ns)
	case strings.ContainsAny(ns, `/\`+"\x00"):
		return fmt.Errorf("storage: namespace %q contains a path separator", ns)
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
