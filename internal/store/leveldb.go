package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

const lifetimePrefix = "\x00lifetime/"

// LevelDB persists records in an embedded LevelDB database. Lifetime hints
// are stored beside each key as big-endian unix seconds and never evict data.
type LevelDB struct {
	db    *leveldb.DB
	nowFn func() time.Time
}

// OpenLevelDB opens (or creates) a database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb store: %w", err)
	}
	return NewLevelDB(db), nil
}

// NewLevelDB wraps an already opened database.
func NewLevelDB(db *leveldb.DB) *LevelDB {
	return &LevelDB{db: db, nowFn: time.Now}
}

func (l *LevelDB) Get(_ context.Context, key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return v, nil
}

func (l *LevelDB) Has(_ context.Context, key []byte) (bool, error) {
	ok, err := l.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	return ok, nil
}

func (l *LevelDB) Write(_ context.Context, b *Batch) error {
	batch := new(leveldb.Batch)
	for _, op := range b.Ops() {
		if op.Delete {
			batch.Delete(op.Key)
			batch.Delete(lifetimeKey(op.Key))
			continue
		}
		batch.Put(op.Key, op.Value)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb write: %w", err)
	}
	return nil
}

func (l *LevelDB) ExtendTTL(_ context.Context, key []byte, lt Lifetime) error {
	ok, err := l.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("leveldb has: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	now := l.nowFn()
	if exp, found, err := l.Expiry(key); err != nil {
		return err
	} else if found && exp.Sub(now) >= lt.Threshold {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(now.Add(lt.ExtendTo).Unix()))
	if err := l.db.Put(lifetimeKey(key), buf, nil); err != nil {
		return fmt.Errorf("leveldb extend lifetime: %w", err)
	}
	return nil
}

// Expiry returns the recorded lifetime hint for key.
func (l *LevelDB) Expiry(key []byte) (time.Time, bool, error) {
	raw, err := l.db.Get(lifetimeKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("leveldb lifetime: %w", err)
	}
	if len(raw) != 8 {
		return time.Time{}, false, fmt.Errorf("leveldb lifetime: corrupt entry")
	}
	return time.Unix(int64(binary.BigEndian.Uint64(raw)), 0), true, nil
}

func (l *LevelDB) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func lifetimeKey(key []byte) []byte {
	return append([]byte(lifetimePrefix), key...)
}
