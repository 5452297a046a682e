// Package boltengine is the alternative embedded storage-engine
// implementation: the same get/set/remove/range/export/import capability
// set as pkg/engine, backed by go.etcd.io/bbolt instead of a hand-rolled
// segmented log. It is a drop-in for pkg/engine.Engine, per the spec's
// "polymorphism over storage engines" design note — higher layers (the
// MVCC column store) depend on the interface, not on which package
// produced it.
package boltengine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/percokv/pkg/metrics"
)

var bucketName = []byte("kv")

// Engine is a bbolt-backed implementation of pkg/engine.Engine.
type Engine struct {
	db    *bolt.DB
	label string // directory base name, used only to label metrics
}

// Open opens (creating if absent) a bbolt file at dir/data.db with a single
// "kv" bucket holding the engine's key space.
func Open(dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("boltengine: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "data.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltengine: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltengine: create bucket: %w", err)
	}
	e := &Engine{db: db, label: filepath.Base(dir)}
	e.reportSize()
	return e, nil
}

// reportSize refreshes EngineKeysTotal from bbolt's own bucket statistics.
// bbolt does no online compaction the way the log engine does, so there is
// no uncompacted-bytes or compaction-count/duration equivalent to report.
func (e *Engine) reportSize() {
	var keys int
	e.db.View(func(tx *bolt.Tx) error {
		keys = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	metrics.EngineKeysTotal.WithLabelValues(e.label).Set(float64(keys))
}

// Get looks up key's current value, if any.
func (e *Engine) Get(key string) (string, bool, error) {
	var value string
	found := false
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	return value, found, err
}

// Set writes key to value, superseding any prior value.
func (e *Engine) Set(key, value string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return err
	}
	e.reportSize()
	return nil
}

// ErrKeyNotFound is returned by Remove when the key does not currently exist.
var ErrKeyNotFound = fmt.Errorf("boltengine: key not found")

// Remove deletes key, failing if it does not currently exist.
func (e *Engine) Remove(key string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return ErrKeyNotFound
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	e.reportSize()
	return nil
}

// RangeLast returns the greatest key in [lo, hi] with its current value.
func (e *Engine) RangeLast(lo, hi string) (string, string, bool, error) {
	var bestKey, bestValue string
	found := false
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		// bbolt cursors iterate in byte order; walk from hi downward by
		// seeking to hi (or the end) and stepping back while out of range.
		k, v := c.Seek([]byte(hi))
		if k == nil || string(k) > hi {
			k, v = c.Prev()
		}
		for k != nil {
			ks := string(k)
			if ks < lo {
				break
			}
			if ks <= hi {
				bestKey, bestValue, found = ks, string(v), true
				break
			}
			k, v = c.Prev()
		}
		return nil
	})
	return bestKey, bestValue, found, err
}

// RangeErase removes every key in [lo, hi].
func (e *Engine) RangeErase(lo, hi string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		var victims [][]byte
		for k, _ := c.Seek([]byte(lo)); k != nil && string(k) <= hi; k, _ = c.Next() {
			victims = append(victims, append([]byte(nil), k...))
		}
		for _, k := range victims {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.reportSize()
	return nil
}

// Export returns the full observable key/value map, keys sorted.
func (e *Engine) Export() ([]string, []string, error) {
	var keys, values []string
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			values = append(values, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	// ForEach already walks in byte order, but guard against bbolt
	// implementation changes.
	sort.Sort(byKey{keys, values})
	return keys, values, nil
}

// Import replaces the engine's contents with the given key/value pairs.
func (e *Engine) Import(keys, values []string) error {
	if len(keys) != len(values) {
		return fmt.Errorf("boltengine: import keys/values length mismatch")
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		nb, err := tx.CreateBucket(bucketName)
		if err != nil {
			return err
		}
		b = nb
		for i, k := range keys {
			if err := b.Put([]byte(k), []byte(values[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.reportSize()
	return nil
}

// Close closes the underlying bbolt database.
func (e *Engine) Close() error {
	return e.db.Close()
}

type byKey struct {
	keys   []string
	values []string
}

func (s byKey) Len() int           { return len(s.keys) }
func (s byKey) Less(i, j int) bool { return s.keys[i] < s.keys[j] }
func (s byKey) Swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}
