package service

import (
	"context"
	"math/big"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/events"
)

// SettlePayment redeems a client-signed authorization against the channel
// escrow and pays the server. Checks run in a fixed order and stop at the
// first failure; only an expired channel is persisted on the failure path.
func (e *Engine) SettlePayment(ctx context.Context, caller auth.Principal, client, server domain.Address, pa domain.PaymentAuth, sig [64]byte, pubkey [32]byte) (*domain.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.settle(ctx, caller, client, server, pa, sig, pubkey)
	return s, e.observe("settle_payment", err)
}

func (e *Engine) settle(ctx context.Context, caller auth.Principal, client, server domain.Address, pa domain.PaymentAuth, sig [64]byte, pubkey [32]byte) (*domain.Settlement, error) {
	// 1. caller and pause
	if err := auth.RequireCaller(caller, server); err != nil {
		return nil, err
	}
	tx := e.ledger.Begin()
	if err := e.requireNotPaused(ctx, tx); err != nil {
		return nil, err
	}

	// 2. channel state
	ch, err := tx.Channel(ctx, client, server)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, domain.ErrChannelNotOpen
	}
	if _, err := domain.Transition(ch.State, domain.EventSettle); err != nil {
		return nil, err
	}

	// 3. inactivity expiry
	now := e.clock.Now()
	if ch.Expired(now) {
		return nil, e.expire(ctx, client, server, ch, now)
	}

	// 4. authorization content
	if err := auth.ValidateContent(pa, server, e.contract, now); err != nil {
		return nil, err
	}
	if pa.Client != client || pa.Token != ch.Token {
		return nil, domain.ErrUnauthorized
	}

	// 5. signature
	if err := auth.VerifySignature(pa, sig, pubkey); err != nil {
		return nil, err
	}

	// 6. replay
	used, err := tx.NonceUsed(ctx, client, server, pa.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, domain.ErrNonceAlreadyUsed
	}
	expected, err := tx.ClientNonce(ctx, client)
	if err != nil {
		return nil, err
	}
	if pa.Nonce != expected {
		return nil, domain.ErrInvalidNonce
	}

	// 7. minimum payment
	minimum, err := tx.MinimumPayment(ctx, pa.Token)
	if err != nil {
		return nil, err
	}
	if pa.Amount.Cmp(minimum) < 0 {
		return nil, domain.ErrInvalidAmount
	}

	// 8. one settlement per time unit
	last, err := tx.LastSettlement(ctx, client, server)
	if err != nil {
		return nil, err
	}
	if last != nil && now <= last.Timestamp {
		return nil, domain.ErrRateLimitExceeded
	}

	// 9. sufficiency
	if ch.EscrowBalance.Cmp(pa.Amount) < 0 {
		return nil, domain.ErrInsufficientEscrow
	}

	digest, err := auth.Digest(pa)
	if err != nil {
		return nil, err
	}

	inflight := ch.Clone()
	inflight.PendingSettlements++
	if err := tx.PutChannel(client, server, inflight); err != nil {
		return nil, err
	}

	settled := inflight.Clone()
	settled.EscrowBalance = new(big.Int).Sub(ch.EscrowBalance, pa.Amount)
	settled.LastActivityAt = now
	settled.PendingSettlements--
	record := domain.Settlement{
		Amount:    new(big.Int).Set(pa.Amount),
		Timestamp: now,
		AuthHash:  digest,
	}
	if err := tx.MarkNonceUsed(client, server, pa.Nonce); err != nil {
		return nil, err
	}
	if _, err := tx.IncrementClientNonce(ctx, client); err != nil {
		return nil, err
	}
	if err := tx.PutChannel(client, server, settled); err != nil {
		return nil, err
	}
	if err := tx.AppendSettlement(ctx, client, server, record); err != nil {
		return nil, err
	}
	if err := e.commitAfterTransfer(ctx, tx, ch.Token, e.contract, server, pa.Amount); err != nil {
		return nil, err
	}

	settledAmount.Add(bigFloat(pa.Amount))
	e.logger.InfoContext(ctx, "payment settled",
		"client", client.String(),
		"server", server.String(),
		"amount", pa.Amount.String(),
		"nonce", pa.Nonce,
		"auth_hash", digest.String(),
	)
	e.events.Publish(ctx, events.PaymentSettled(client, server, pa.Amount, pa.Nonce, digest, now))
	return &record, nil
}

// expire persists the PendingClose transition and reports the channel as not open.
func (e *Engine) expire(ctx context.Context, client, server domain.Address, ch *domain.Channel, now uint64) error {
	next, err := domain.Transition(ch.State, domain.EventExpire)
	if err != nil {
		return err
	}
	tx := e.ledger.Begin()
	expired := ch.Clone()
	expired.State = next
	if err := tx.PutChannel(client, server, expired); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "channel expired",
		"client", client.String(),
		"server", server.String(),
		"last_activity_at", ch.LastActivityAt,
	)
	e.events.Publish(ctx, events.ChannelExpired(client, server, ch.LastActivityAt, now))
	return domain.ErrChannelNotOpen
}
