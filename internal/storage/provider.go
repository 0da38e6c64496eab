// Package storage provides durable client-side storage: a flat map of
// "<category>.<attribute>" keys to string values.
package storage

import "fmt"

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// KV is the interface for durable key/value storage.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	// Set durably stores value under key.
	Set(key, value string) error
	// All returns a copy of every stored entry.
	All() (map[string]string, error)
	// Close releases the underlying resources.
	Close() error
}

// Open returns the KV implementation for driver, stored at path.
func Open(driver, path string) (KV, error) {
	switch driver {
	case DriverFile, "":
		return OpenFile(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
