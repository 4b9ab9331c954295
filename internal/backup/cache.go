package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketStatus = []byte("set_status")

// Cache persists the last known SetStatus for each backup set so a status
// query made before the daemon finishes its startup refresh still returns
// something useful instead of an empty record.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if needed) the bbolt database at dbPath.
func OpenCache(dbPath string) (*Cache, error) {
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: open cache %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStatus)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backup: init cache buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put persists status for a set, overwriting any previous entry.
func (c *Cache) Put(status SetStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("backup: marshal status for %s: %w", status.Name, err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).Put([]byte(status.Name), data)
	})
}

// Get returns the cached status for name, or ok=false if nothing has been
// cached yet.
func (c *Cache) Get(name string) (status SetStatus, ok bool) {
	_ = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStatus).Get([]byte(name))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &status); err != nil {
			return nil
		}
		ok = true
		return nil
	})
	return status, ok
}

// Delete removes a set's cached entry, used when a set is removed from
// configuration.
func (c *Cache) Delete(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).Delete([]byte(name))
	})
}

// DBFileName is the bbolt file name created under the data directory.
const DBFileName = "cache.db"

// JoinCachePath builds the cache database path under dataDir.
func JoinCachePath(dataDir string) string {
	return filepath.Join(dataDir, DBFileName)
}
