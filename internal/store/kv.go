package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("store: key not found")

// KV is the durable keyed store the ledger persists into.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Has(ctx context.Context, key []byte) (bool, error)
	// Write applies every operation of b atomically.
	Write(ctx context.Context, b *Batch) error
	// ExtendTTL is an opaque lifetime hint issued after every persistent write.
	// Backends record it as they see fit; none may drop a record because of it.
	ExtendTTL(ctx context.Context, key []byte, lt Lifetime) error
	Close() error
}

// Lifetime asks the backend to push the key's expiry out to ExtendTo when
// less than Threshold remains.
type Lifetime struct {
	Threshold time.Duration
	ExtendTo  time.Duration
}

// ledgerClose approximates one ledger on the host network; lifetimes are
// expressed in ledgers there.
const ledgerClose = 5 * time.Second

// DefaultLifetime mirrors a 100000-ledger extension.
var DefaultLifetime = Lifetime{
	Threshold: 100_000 * ledgerClose,
	ExtendTo:  100_000 * ledgerClose,
}

// Op is one staged mutation.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batch is an ordered set of writes applied atomically by KV.Write.
type Batch struct {
	ops []Op
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Op{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Key: append([]byte(nil), key...), Delete: true})
}

func (b *Batch) Len() int { return len(b.ops) }

func (b *Batch) Ops() []Op { return b.ops }
