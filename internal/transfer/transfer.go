// Package transfer moves fungible token balances between holders. The
// settlement engine treats it as an external primitive: one call either moves
// the full amount or fails without effect.
package transfer

import (
	"context"
	"errors"
	"math/big"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

var (
	// ErrTransferFailed wraps every failure returned by a Transferer.
	ErrTransferFailed    = errors.New("transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrHolderNotFound    = errors.New("holder not found")
	ErrInvalidAmount     = errors.New("transfer amount must be positive")
)

type Transferer interface {
	Transfer(ctx context.Context, token, from, to domain.Address, amount *big.Int) error
}

// Func adapts a function to Transferer.
type Func func(ctx context.Context, token, from, to domain.Address, amount *big.Int) error

func (f Func) Transfer(ctx context.Context, token, from, to domain.Address, amount *big.Int) error {
	return f(ctx, token, from, to, amount)
}
