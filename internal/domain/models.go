package domain

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
)

// Channel is the escrow record for one (client, server) pair.
// EscrowBalance is never negative and LastActivityAt never precedes OpenedAt.
type Channel struct {
	EscrowBalance      *big.Int     `json:"escrow_balance"`
	Token              Address      `json:"token"`
	OpenedAt           uint64       `json:"opened_at"`
	LastActivityAt     uint64       `json:"last_activity_at"`
	TTLSeconds         uint64       `json:"ttl_seconds"`
	State              ChannelState `json:"state"`
	ClosedBy           *Address     `json:"closed_by,omitempty"`
	PendingSettlements uint32       `json:"pending_settlements"`
}

// Clone returns a deep copy so callers can mutate it without touching the stored instance.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	clone := *c
	clone.EscrowBalance = cloneInt(c.EscrowBalance)
	if c.ClosedBy != nil {
		by := *c.ClosedBy
		clone.ClosedBy = &by
	}
	return &clone
}

// Expired reports whether the inactivity budget has elapsed at now.
func (c *Channel) Expired(now uint64) bool {
	if c.TTLSeconds > math.MaxUint64-c.LastActivityAt {
		return false
	}
	return now > c.LastActivityAt+c.TTLSeconds
}

// PaymentAuth is a client-signed authorization for the server to redeem Amount
// from the channel. It travels as call input and is never persisted whole.
type PaymentAuth struct {
	SettlementContract Address
	Client             Address
	Server             Address
	Token              Address
	Amount             *big.Int
	Nonce              uint64
	Deadline           uint64
}

// Hash is a 32-byte digest rendered as hex in JSON.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// Settlement is one entry of the bounded per-pair settlement history.
type Settlement struct {
	Amount    *big.Int `json:"amount"`
	Timestamp uint64   `json:"timestamp"`
	AuthHash  Hash     `json:"auth_hash"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
