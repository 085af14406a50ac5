package storage

import "fmt"

// Kinds lists the backend names NewStore accepts.
func Kinds() []string {
	return []string{"memory", "file", "sqlite", "redis", "postgres"}
}

// NewStore builds an uninitialized backend. location is the directory for
// file, the database path for sqlite, the address or URL for redis and the
// DSN for postgres; memory ignores it.
func NewStore(kind, location string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(location), nil
	case "sqlite":
		return newSQLiteStore(location)
	case "redis":
		return NewRedisStore(location)
	case "postgres":
		return NewPostgresStore(location), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
