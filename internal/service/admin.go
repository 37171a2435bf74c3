package service

import (
	"context"
	"math/big"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/events"
	"github.com/punchamoorthee/flashsettle/internal/ledger"
)

// Initialize records admin as the policy owner. It succeeds once.
func (e *Engine) Initialize(ctx context.Context, caller auth.Principal, admin domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe("initialize", e.initialize(ctx, caller, admin))
}

func (e *Engine) initialize(ctx context.Context, caller auth.Principal, admin domain.Address) error {
	if err := auth.RequireCaller(caller, admin); err != nil {
		return err
	}
	tx := e.ledger.Begin()
	if _, ok, err := tx.Admin(ctx); err != nil {
		return err
	} else if ok {
		return domain.ErrAlreadyInitialized
	}
	if err := tx.SetAdmin(admin); err != nil {
		return err
	}
	if err := tx.SetPaused(false); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "engine initialized", "admin", admin.String())
	e.events.Publish(ctx, events.Initialized(admin, e.clock.Now()))
	return nil
}

// requireAdmin loads the admin record and checks caller against it.
func (e *Engine) requireAdmin(ctx context.Context, tx *ledger.Txn, caller auth.Principal) (domain.Address, error) {
	admin, ok, err := tx.Admin(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotInitialized
	}
	if err := auth.RequireCaller(caller, admin); err != nil {
		return "", err
	}
	return admin, nil
}

func (e *Engine) Pause(ctx context.Context, caller auth.Principal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe("pause", e.setPaused(ctx, caller, true))
}

func (e *Engine) Unpause(ctx context.Context, caller auth.Principal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe("unpause", e.setPaused(ctx, caller, false))
}

func (e *Engine) setPaused(ctx context.Context, caller auth.Principal, paused bool) error {
	tx := e.ledger.Begin()
	admin, err := e.requireAdmin(ctx, tx, caller)
	if err != nil {
		return err
	}
	if err := tx.SetPaused(paused); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	now := e.clock.Now()
	if paused {
		e.logger.WarnContext(ctx, "engine paused", "admin", admin.String())
		e.events.Publish(ctx, events.Paused(admin, now))
	} else {
		e.logger.InfoContext(ctx, "engine unpaused", "admin", admin.String())
		e.events.Publish(ctx, events.Unpaused(admin, now))
	}
	return nil
}

// SetMinimumPayment sets the per-settlement floor for token. Zero disables it.
func (e *Engine) SetMinimumPayment(ctx context.Context, caller auth.Principal, token domain.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe("set_minimum_payment", e.setMinimumPayment(ctx, caller, token, amount))
}

func (e *Engine) setMinimumPayment(ctx context.Context, caller auth.Principal, token domain.Address, amount *big.Int) error {
	tx := e.ledger.Begin()
	if _, err := e.requireAdmin(ctx, tx, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if err := tx.SetMinimumPayment(token, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "minimum payment set", "token", token.String(), "amount", amount.String())
	e.events.Publish(ctx, events.MinimumPaymentSet(token, amount, e.clock.Now()))
	return nil
}

// MinimumPayment returns the floor for token, the default when unset.
func (e *Engine) MinimumPayment(ctx context.Context, token domain.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().MinimumPayment(ctx, token)
}

func (e *Engine) Paused(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().Paused(ctx)
}

// Admin returns the admin address; ok is false before Initialize.
func (e *Engine) Admin(ctx context.Context) (domain.Address, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Begin().Admin(ctx)
}
