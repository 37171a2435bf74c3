package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

// Record is one completed movement.
type Record struct {
	Token  domain.Address
	From   domain.Address
	To     domain.Address
	Amount *big.Int
}

// Bank is an in-memory token ledger used by tests and the memory backend.
type Bank struct {
	mu       sync.Mutex
	balances map[domain.Address]map[domain.Address]*big.Int
	records  []Record
}

func NewBank() *Bank {
	return &Bank{balances: make(map[domain.Address]map[domain.Address]*big.Int)}
}

// Mint credits amount of token to holder.
func (b *Bank) Mint(token, holder domain.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(token, holder)
	bal.Add(bal, amount)
}

func (b *Bank) Balance(token, holder domain.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(token, holder))
}

// Records returns the completed transfers in order.
func (b *Bank) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.records...)
}

func (b *Bank) balance(token, holder domain.Address) *big.Int {
	holders, ok := b.balances[token]
	if !ok {
		holders = make(map[domain.Address]*big.Int)
		b.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	return bal
}

func (b *Bank) Transfer(_ context.Context, token, from, to domain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInvalidAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(token, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInsufficientFunds)
	}
	dst := b.balance(token, to)
	src.Sub(src, amount)
	dst.Add(dst, amount)
	b.records = append(b.records, Record{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}
