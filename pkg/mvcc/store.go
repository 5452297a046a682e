// Package mvcc implements the three-column (Data / Lock / Write) MVCC
// store the Percolator transaction engine reads and writes. Each column is
// a namespace over a Log Engine, keyed by (user_key, ts); see types.go for
// the key and value codecs.
package mvcc

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cuemby/percokv/pkg/engine"
	"github.com/cuemby/percokv/pkg/engine/boltengine"
)

// Kind names a storage-engine implementation. It is persisted in the
// .engine tag file at the root of a replica's data directory and validated
// on reopen (§6, §9 "polymorphism over storage engines").
type Kind string

const (
	KindLog  Kind = "kvs"
	KindBolt Kind = "bolt"
)

const engineTagFile = ".engine"

// Store is the three-column MVCC store: C3.
type Store struct {
	data  engine.Engine
	lock  engine.Engine
	write engine.Engine
}

// Open opens (or creates) a Store rooted at dir, using the named engine
// implementation for all three columns. If dir already has a .engine tag
// recording a different implementation, Open fails rather than silently
// reopening with mismatched semantics.
func Open(dir string, kind Kind) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mvcc: create dir %s: %w", dir, err)
	}
	if err := checkOrWriteEngineTag(dir, kind); err != nil {
		return nil, err
	}

	open := func(name string) (engine.Engine, error) {
		sub := filepath.Join(dir, name)
		switch kind {
		case KindLog:
			return engine.Open(sub)
		case KindBolt:
			return boltengine.Open(sub)
		default:
			return nil, fmt.Errorf("mvcc: unknown engine kind %q", kind)
		}
	}

	data, err := open("data")
	if err != nil {
		return nil, fmt.Errorf("mvcc: open data column: %w", err)
	}
	lock, err := open("lock")
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("mvcc: open lock column: %w", err)
	}
	write, err := open("write")
	if err != nil {
		data.Close()
		lock.Close()
		return nil, fmt.Errorf("mvcc: open write column: %w", err)
	}

	return &Store{data: data, lock: lock, write: write}, nil
}

func checkOrWriteEngineTag(dir string, kind Kind) error {
	path := filepath.Join(dir, engineTagFile)
	existing, err := os.ReadFile(path)
	if err == nil {
		if Kind(existing) != kind {
			return fmt.Errorf("mvcc: directory %s was created with engine %q, cannot reopen with %q", dir, existing, kind)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("mvcc: read engine tag: %w", err)
	}
	return os.WriteFile(path, []byte(kind), 0o644)
}

// Close closes all three underlying columns.
func (s *Store) Close() error {
	var firstErr error
	for _, e := range []engine.Engine{s.data, s.lock, s.write} {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MinTS and MaxTS are the open-range endpoint defaults used throughout
// this package and by the Percolator transaction engine built on top of
// it: 0 for an absent lower bound, the maximum uint64 for an absent upper
// bound.
const (
	MinTS uint64 = 0
	MaxTS uint64 = math.MaxUint64
)

type window struct {
	lo, hi uint64
}

func rangeBounds(userKey string, w window) (string, string) {
	return Key{UserKey: userKey, TS: w.lo}.String(), Key{UserKey: userKey, TS: w.hi}.String()
}

// ReadData returns the greatest Data entry for key with lo <= ts <= hi.
func (s *Store) ReadData(key string, lo, hi uint64) (Key, DataValue, bool, error) {
	loKey, hiKey := rangeBounds(key, window{lo, hi})
	k, v, ok, err := s.data.RangeLast(loKey, hiKey)
	if err != nil || !ok {
		return Key{}, DataValue{}, false, err
	}
	pk, err := ParseKey(k)
	if err != nil {
		return Key{}, DataValue{}, false, err
	}
	pv, err := ParseDataValue(v)
	if err != nil {
		return Key{}, DataValue{}, false, err
	}
	return pk, pv, true, nil
}

// ReadLock returns the greatest Lock entry for key with lo <= ts <= hi.
func (s *Store) ReadLock(key string, lo, hi uint64) (Key, LockValue, bool, error) {
	loKey, hiKey := rangeBounds(key, window{lo, hi})
	k, v, ok, err := s.lock.RangeLast(loKey, hiKey)
	if err != nil || !ok {
		return Key{}, LockValue{}, false, err
	}
	pk, err := ParseKey(k)
	if err != nil {
		return Key{}, LockValue{}, false, err
	}
	pv, err := ParseLockValue(v)
	if err != nil {
		return Key{}, LockValue{}, false, err
	}
	return pk, pv, true, nil
}

// ReadWrite returns the greatest Write entry for key with lo <= ts <= hi.
func (s *Store) ReadWrite(key string, lo, hi uint64) (Key, WriteValue, bool, error) {
	loKey, hiKey := rangeBounds(key, window{lo, hi})
	k, v, ok, err := s.write.RangeLast(loKey, hiKey)
	if err != nil || !ok {
		return Key{}, WriteValue{}, false, err
	}
	pk, err := ParseKey(k)
	if err != nil {
		return Key{}, WriteValue{}, false, err
	}
	pv, err := ParseWriteValue(v)
	if err != nil {
		return Key{}, WriteValue{}, false, err
	}
	return pk, pv, true, nil
}

// WriteData writes the user's bytes at write timestamp ts.
func (s *Store) WriteData(key string, ts uint64, value string) error {
	k := Key{UserKey: key, TS: ts}
	return s.data.Set(k.String(), DataValue{Value: value}.String())
}

// WriteLock writes a fresh lock at ts with the current wall clock as its
// TTL origin.
func (s *Store) WriteLock(key string, ts uint64, primary string, op Op) error {
	k := Key{UserKey: key, TS: ts}
	v := LockValue{Primary: primary, TTLUnixNanos: nowFunc(), Op: op}
	return s.lock.Set(k.String(), v.String())
}

// UpdateLock refreshes the wall-clock TTL of the lock at (primary, ts), if
// it still exists. Used to extend liveness of the primary lock while
// secondary keys are being prewritten.
func (s *Store) UpdateLock(primary string, ts uint64) error {
	_, v, ok, err := s.ReadLock(primary, ts, ts)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	k := Key{UserKey: primary, TS: ts}
	v.TTLUnixNanos = nowFunc()
	return s.lock.Set(k.String(), v.String())
}

// WriteWrite records a committed pointer: key was committed at commitTS,
// making the Data version written at startTS visible.
func (s *Store) WriteWrite(key string, commitTS, startTS uint64, op Op) error {
	k := Key{UserKey: key, TS: commitTS}
	v := WriteValue{StartTS: startTS, Op: op}
	return s.write.Set(k.String(), v.String())
}

// EraseData removes every Data entry of key with ts <= upToTS.
func (s *Store) EraseData(key string, upToTS uint64) error {
	lo, hi := rangeBounds(key, window{0, upToTS})
	return s.data.RangeErase(lo, hi)
}

// EraseLock removes every Lock entry of key with ts <= upToTS.
func (s *Store) EraseLock(key string, upToTS uint64) error {
	lo, hi := rangeBounds(key, window{0, upToTS})
	return s.lock.RangeErase(lo, hi)
}

// EraseWrite removes every Write entry of key with ts <= upToTS.
func (s *Store) EraseWrite(key string, upToTS uint64) error {
	lo, hi := rangeBounds(key, window{0, upToTS})
	return s.write.RangeErase(lo, hi)
}

// Snapshot is the bulk export format used by Raft snapshotting (§4.6).
type Snapshot struct {
	DataKeys, DataValues   []string
	LockKeys, LockValues   []string
	WriteKeys, WriteValues []string
}

// Export captures the full observable contents of all three columns.
func (s *Store) Export() (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.DataKeys, snap.DataValues, err = s.data.Export(); err != nil {
		return Snapshot{}, fmt.Errorf("mvcc: export data: %w", err)
	}
	if snap.LockKeys, snap.LockValues, err = s.lock.Export(); err != nil {
		return Snapshot{}, fmt.Errorf("mvcc: export lock: %w", err)
	}
	if snap.WriteKeys, snap.WriteValues, err = s.write.Export(); err != nil {
		return Snapshot{}, fmt.Errorf("mvcc: export write: %w", err)
	}
	return snap, nil
}

// Import installs a previously captured Snapshot, replacing the store's
// current contents column by column.
func (s *Store) Import(snap Snapshot) error {
	if err := s.data.Import(snap.DataKeys, snap.DataValues); err != nil {
		return fmt.Errorf("mvcc: import data: %w", err)
	}
	if err := s.lock.Import(snap.LockKeys, snap.LockValues); err != nil {
		return fmt.Errorf("mvcc: import lock: %w", err)
	}
	if err := s.write.Import(snap.WriteKeys, snap.WriteValues); err != nil {
		return fmt.Errorf("mvcc: import write: %w", err)
	}
	return nil
}
