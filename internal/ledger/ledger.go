// Package ledger owns every persisted settlement record: channels, used
// nonces, client nonce counters, bounded settlement history and policy state.
// Records are JSON encoded over a store.KV and written through a Txn whose
// staged writes are committed as one batch.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/store"
)

const (
	// HistoryLimit bounds the settlement history kept per channel.
	HistoryLimit = 100
	// DefaultMinimumPayment applies to tokens without an explicit minimum.
	DefaultMinimumPayment = 100
)

// Ledger is safe for concurrent use as long as callers serialize the
// read-modify-write cycle of a Txn, which the engine does.
type Ledger struct {
	kv       store.KV
	lifetime store.Lifetime
	logger   *slog.Logger
}

func New(kv store.KV, lt store.Lifetime, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{kv: kv, lifetime: lt, logger: logger}
}

// Begin starts a transaction. Reads see the transaction's own staged writes.
func (l *Ledger) Begin() *Txn {
	return &Txn{l: l, staged: make(map[string][]byte)}
}

func channelKey(client, server domain.Address) []byte {
	return []byte("channel/" + client.String() + "/" + server.String())
}

func nonceUsedKey(client, server domain.Address, nonce uint64) []byte {
	return []byte("nonce-used/" + client.String() + "/" + server.String() + "/" + strconv.FormatUint(nonce, 10))
}

func clientNonceKey(client domain.Address) []byte {
	return []byte("client-nonce/" + client.String())
}

func historyKey(client, server domain.Address) []byte {
	return []byte("history/" + client.String() + "/" + server.String())
}

func minPaymentKey(token domain.Address) []byte {
	return []byte("min-payment/" + token.String())
}

var (
	adminKey  = []byte("admin")
	pausedKey = []byte("paused")
)

// Txn stages writes in insertion order until Commit.
type Txn struct {
	l      *Ledger
	staged map[string][]byte
	order  []string
	done   bool
}

func (t *Txn) get(ctx context.Context, key []byte, out any) (bool, error) {
	raw, ok := t.staged[string(key)]
	if !ok {
		var err error
		raw, err = t.l.kv.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("ledger read %s: %w", key, err)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("ledger decode %s: %w", key, err)
	}
	return true, nil
}

func (t *Txn) put(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger encode %s: %w", key, err)
	}
	k := string(key)
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = raw
	return nil
}

// Channel returns a copy of the channel record, or nil when none exists.
func (t *Txn) Channel(ctx context.Context, client, server domain.Address) (*domain.Channel, error) {
	var ch domain.Channel
	ok, err := t.get(ctx, channelKey(client, server), &ch)
	if err != nil || !ok {
		return nil, err
	}
	if ch.EscrowBalance == nil {
		ch.EscrowBalance = new(big.Int)
	}
	return &ch, nil
}

func (t *Txn) PutChannel(client, server domain.Address, ch *domain.Channel) error {
	return t.put(channelKey(client, server), ch)
}

func (t *Txn) NonceUsed(ctx context.Context, client, server domain.Address, nonce uint64) (bool, error) {
	key := nonceUsedKey(client, server, nonce)
	if _, ok := t.staged[string(key)]; ok {
		return true, nil
	}
	ok, err := t.l.kv.Has(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ledger read %s: %w", key, err)
	}
	return ok, nil
}

func (t *Txn) MarkNonceUsed(client, server domain.Address, nonce uint64) error {
	return t.put(nonceUsedKey(client, server, nonce), true)
}

// ClientNonce returns the next expected nonce for client, 0 when unset.
func (t *Txn) ClientNonce(ctx context.Context, client domain.Address) (uint64, error) {
	var n uint64
	if _, err := t.get(ctx, clientNonceKey(client), &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Txn) IncrementClientNonce(ctx context.Context, client domain.Address) (uint64, error) {
	n, err := t.ClientNonce(ctx, client)
	if err != nil {
		return 0, err
	}
	n++
	return n, t.put(clientNonceKey(client), n)
}

// History returns the settlements of a pair, oldest first.
func (t *Txn) History(ctx context.Context, client, server domain.Address) ([]domain.Settlement, error) {
	var hist []domain.Settlement
	if _, err := t.get(ctx, historyKey(client, server), &hist); err != nil {
		return nil, err
	}
	return hist, nil
}

// LastSettlement returns the newest settlement of a pair, if any.
func (t *Txn) LastSettlement(ctx context.Context, client, server domain.Address) (*domain.Settlement, error) {
	hist, err := t.History(ctx, client, server)
	if err != nil || len(hist) == 0 {
		return nil, err
	}
	last := hist[len(hist)-1]
	return &last, nil
}

// AppendSettlement appends s and evicts the oldest entries beyond HistoryLimit.
func (t *Txn) AppendSettlement(ctx context.Context, client, server domain.Address, s domain.Settlement) error {
	hist, err := t.History(ctx, client, server)
	if err != nil {
		return err
	}
	hist = append(hist, s)
	if over := len(hist) - HistoryLimit; over > 0 {
		hist = hist[over:]
	}
	return t.put(historyKey(client, server), hist)
}

func (t *Txn) MinimumPayment(ctx context.Context, token domain.Address) (*big.Int, error) {
	v := new(big.Int)
	ok, err := t.get(ctx, minPaymentKey(token), v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(DefaultMinimumPayment), nil
	}
	return v, nil
}

func (t *Txn) SetMinimumPayment(token domain.Address, amount *big.Int) error {
	return t.put(minPaymentKey(token), amount)
}

// Admin returns the configured admin; ok is false before initialization.
func (t *Txn) Admin(ctx context.Context) (domain.Address, bool, error) {
	var admin domain.Address
	ok, err := t.get(ctx, adminKey, &admin)
	return admin, ok, err
}

func (t *Txn) SetAdmin(admin domain.Address) error {
	return t.put(adminKey, admin)
}

func (t *Txn) Paused(ctx context.Context) (bool, error) {
	var paused bool
	_, err := t.get(ctx, pausedKey, &paused)
	return paused, err
}

func (t *Txn) SetPaused(paused bool) error {
	return t.put(pausedKey, paused)
}

// Pending reports how many writes are staged.
func (t *Txn) Pending() int { return len(t.order) }

// Commit writes every staged record in one batch, then extends the lifetime
// of each written key. Lifetime failures are logged and do not fail the commit.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("ledger: transaction already committed")
	}
	if len(t.order) == 0 {
		t.done = true
		return nil
	}
	var b store.Batch
	for _, k := range t.order {
		b.Put([]byte(k), t.staged[k])
	}
	if err := t.l.kv.Write(ctx, &b); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	t.done = true
	for _, k := range t.order {
		if err := t.l.kv.ExtendTTL(ctx, []byte(k), t.l.lifetime); err != nil {
			t.l.logger.Warn("lifetime extension failed", "key", k, "error", err)
		}
	}
	return nil
}
