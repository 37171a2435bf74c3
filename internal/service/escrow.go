package service

import (
	"context"
	"math/big"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/events"
	"github.com/punchamoorthee/flashsettle/internal/ledger"
)

// OpenEscrow moves amount of token from client into custody and opens the
// (client, server) channel. Closed channels may be reopened.
func (e *Engine) OpenEscrow(ctx context.Context, caller auth.Principal, client, server, token domain.Address, amount *big.Int, ttl uint64) (*domain.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.openEscrow(ctx, caller, client, server, token, amount, ttl)
	return ch, e.observe("open_escrow", err)
}

func (e *Engine) openEscrow(ctx context.Context, caller auth.Principal, client, server, token domain.Address, amount *big.Int, ttl uint64) (*domain.Channel, error) {
	if err := auth.RequireCaller(caller, client); err != nil {
		return nil, err
	}
	tx := e.ledger.Begin()
	if err := e.requireNotPaused(ctx, tx); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	existing, err := tx.Channel(ctx, client, server)
	if err != nil {
		return nil, err
	}
	from := domain.StateNone
	if existing != nil {
		from = existing.State
	}
	next, err := domain.Transition(from, domain.EventOpen)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	ch := &domain.Channel{
		EscrowBalance:  new(big.Int).Set(amount),
		Token:          token,
		OpenedAt:       now,
		LastActivityAt: now,
		TTLSeconds:     ttl,
		State:          next,
	}
	if err := tx.PutChannel(client, server, ch); err != nil {
		return nil, err
	}
	if err := e.commitAfterTransfer(ctx, tx, token, client, e.contract, amount); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "escrow opened",
		"client", client.String(),
		"server", server.String(),
		"token", token.String(),
		"amount", amount.String(),
		"ttl", ttl,
	)
	e.events.Publish(ctx, events.ChannelOpened(client, server, token, amount, ttl, now))
	return ch.Clone(), nil
}

// ClientCloseEscrow refunds the remaining escrow to the client and closes the channel.
func (e *Engine) ClientCloseEscrow(ctx context.Context, caller auth.Principal, client, server domain.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	refund, err := e.clientClose(ctx, caller, client, server)
	return refund, e.observe("client_close_escrow", err)
}

func (e *Engine) clientClose(ctx context.Context, caller auth.Principal, client, server domain.Address) (*big.Int, error) {
	if err := auth.RequireCaller(caller, client); err != nil {
		return nil, err
	}
	tx := e.ledger.Begin()
	if err := e.requireNotPaused(ctx, tx); err != nil {
		return nil, err
	}
	ch, err := tx.Channel(ctx, client, server)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, domain.ErrChannelNotOpen
	}
	next, err := domain.Transition(ch.State, domain.EventClose)
	if err != nil {
		return nil, err
	}
	if ch.PendingSettlements != 0 {
		return nil, domain.ErrPendingSettlements
	}

	refund, err := e.refund(ctx, tx, client, server, ch, next)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "escrow closed",
		"client", client.String(),
		"server", server.String(),
		"refund", refund.String(),
	)
	e.events.Publish(ctx, events.ChannelClosed(client, server, refund, e.clock.Now()))
	return refund, nil
}

// EmergencyWithdraw lets a client recover escrow while the engine is paused.
// It bypasses the pending-settlement guard.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller auth.Principal, client, server domain.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	refund, err := e.emergencyWithdraw(ctx, caller, client, server)
	return refund, e.observe("emergency_withdraw", err)
}

func (e *Engine) emergencyWithdraw(ctx context.Context, caller auth.Principal, client, server domain.Address) (*big.Int, error) {
	if err := auth.RequireCaller(caller, client); err != nil {
		return nil, err
	}
	tx := e.ledger.Begin()
	paused, err := tx.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if !paused {
		return nil, domain.ErrUnauthorized
	}
	ch, err := tx.Channel(ctx, client, server)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, domain.ErrChannelNotOpen
	}
	next, err := domain.Transition(ch.State, domain.EventEmergencyWithdraw)
	if err != nil {
		return nil, err
	}

	refund, err := e.refund(ctx, tx, client, server, ch, next)
	if err != nil {
		return nil, err
	}
	e.logger.WarnContext(ctx, "emergency withdraw",
		"client", client.String(),
		"server", server.String(),
		"refund", refund.String(),
	)
	e.events.Publish(ctx, events.EmergencyWithdraw(client, server, refund, e.clock.Now()))
	return refund, nil
}

// refund stages the zeroed, closed record and pays the balance back to client.
func (e *Engine) refund(ctx context.Context, tx *ledger.Txn, client, server domain.Address, ch *domain.Channel, next domain.ChannelState) (*big.Int, error) {
	amount := new(big.Int).Set(ch.EscrowBalance)
	closed := ch.Clone()
	closed.EscrowBalance = new(big.Int)
	closed.State = next
	by := client
	closed.ClosedBy = &by
	if err := tx.PutChannel(client, server, closed); err != nil {
		return nil, err
	}
	if err := e.commitAfterTransfer(ctx, tx, ch.Token, e.contract, client, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// CurrentEscrow returns the channel balance, zero when no channel exists.
func (e *Engine) CurrentEscrow(ctx context.Context, client, server domain.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.ledger.Begin().Channel(ctx, client, server)
	if err != nil {
		e.logger.WarnContext(ctx, "escrow lookup failed", "client", client.String(), "server", server.String(), "error", err)
		return new(big.Int)
	}
	if ch == nil {
		return new(big.Int)
	}
	return ch.EscrowBalance
}

// Channel returns the channel record, or nil when the pair never opened one.
func (e *Engine) Channel(ctx context.Context, client, server domain.Address) (*domain.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().Channel(ctx, client, server)
}

// SettlementHistory returns up to the last 100 settlements of a pair, oldest first.
func (e *Engine) SettlementHistory(ctx context.Context, client, server domain.Address) ([]domain.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().History(ctx, client, server)
}

// ClientNonce returns the nonce the client's next authorization must carry.
func (e *Engine) ClientNonce(ctx context.Context, client domain.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().ClientNonce(ctx, client)
}
