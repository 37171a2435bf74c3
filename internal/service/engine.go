package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/flashsettle/internal/clock"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/events"
	"github.com/punchamoorthee/flashsettle/internal/ledger"
	"github.com/punchamoorthee/flashsettle/internal/transfer"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsettle_operations_total",
		Help: "Engine operations by name and outcome",
	}, []string{"operation", "outcome"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsettle_rejections_total",
		Help: "Rejected operations by error code",
	}, []string{"operation", "code"})

	settledAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashsettle_settled_amount_total",
		Help: "Sum of settled amounts in token base units (approximate)",
	})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsettle_compensations_total",
		Help: "Reverse transfers issued after a failed ledger commit",
	}, []string{"outcome"})
)

// Options wires the engine to its collaborators. Contract is the engine's own
// identity: authorizations must name it and escrowed funds are held by it.
type Options struct {
	Ledger   *ledger.Ledger
	Transfer transfer.Transferer
	Clock    clock.Clock
	Events   events.Sink
	Contract domain.Address
	Logger   *slog.Logger
}

// Engine runs every settlement and policy operation. Operations are
// serialized by mu, so each one observes and commits a consistent record set.
type Engine struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	transfers transfer.Transferer
	clock     clock.Clock
	events    events.Sink
	contract  domain.Address
	logger    *slog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("service: ledger is required")
	}
	if opts.Transfer == nil {
		return nil, errors.New("service: transferer is required")
	}
	if !opts.Contract.Valid() {
		return nil, fmt.Errorf("service: invalid contract address %q", opts.Contract)
	}
	e := &Engine{
		ledger:    opts.Ledger,
		transfers: opts.Transfer,
		clock:     opts.Clock,
		events:    opts.Events,
		contract:  opts.Contract,
		logger:    opts.Logger,
	}
	if e.clock == nil {
		e.clock = clock.NewSystem()
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Contract returns the engine's identity.
func (e *Engine) Contract() domain.Address { return e.contract }

// observe records the outcome of an operation and passes err through.
func (e *Engine) observe(op string, err error) error {
	if err == nil {
		operationsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
	operationsTotal.WithLabelValues(op, "error").Inc()
	code := "internal"
	if de, ok := domain.AsError(err); ok {
		code = strconv.FormatUint(uint64(de.Code), 10)
	}
	rejectionsTotal.WithLabelValues(op, code).Inc()
	return err
}

func (e *Engine) requireNotPaused(ctx context.Context, tx *ledger.Txn) error {
	paused, err := tx.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return domain.ErrContractPaused
	}
	return nil
}

// commitAfterTransfer moves amount, then commits tx. Nothing is committed
// when the transfer fails. When the commit fails the transfer is reversed;
// a failed reversal leaves funds and ledger out of step and is reported as
// ErrCompensationFailed.
func (e *Engine) commitAfterTransfer(ctx context.Context, tx *ledger.Txn, token, from, to domain.Address, amount *big.Int) error {
	moved := amount != nil && amount.Sign() > 0
	if moved {
		if err := e.transfers.Transfer(ctx, token, from, to, amount); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
		}
	}
	commitErr := tx.Commit(ctx)
	if commitErr == nil {
		return nil
	}
	if !moved {
		return commitErr
	}
	if err := e.transfers.Transfer(context.WithoutCancel(ctx), token, to, from, amount); err != nil {
		compensationsTotal.WithLabelValues("failed").Inc()
		e.logger.ErrorContext(ctx, "compensating transfer failed",
			"token", token.String(),
			"from", to.String(),
			"to", from.String(),
			"amount", amount.String(),
			"commit_error", commitErr,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrCompensationFailed, errors.Join(commitErr, err))
	}
	compensationsTotal.WithLabelValues("ok").Inc()
	e.logger.WarnContext(ctx, "ledger commit failed, transfer reversed",
		"token", token.String(),
		"amount", amount.String(),
		"error", commitErr,
	)
	return commitErr
}

func bigFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
