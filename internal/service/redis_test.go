package service

import (
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/store"
)

func TestRedisLedgerSurvivesIdlePeriod(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "flashsettle:")
	t.Cleanup(func() { _ = kv.Close() })

	f := newFixtureOn(t, kv, nil)
	f.open(1_000_000, 3600)
	_, err := f.settle(f.payment(1_000, 0))
	require.NoError(t, err)

	mr.FastForward(store.DefaultLifetime.ExtendTo + time.Second)

	assert.Equal(t, int64(999_000), f.escrow())
	assert.Equal(t, int64(999_000), f.bank.Balance(f.token, f.contract).Int64())
	assert.Equal(t, uint64(1), f.nonce())

	_, intruder := randomAddress(t)
	err = f.engine.Initialize(f.ctx, auth.As(intruder), intruder)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	admin, ok, err := f.engine.Admin(f.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.admin, admin)

	_, err = f.settle(f.payment(1_000, 0))
	assert.ErrorIs(t, err, domain.ErrNonceAlreadyUsed)

	refund, err := f.engine.ClientCloseEscrow(f.ctx, auth.As(f.client), f.client, f.server)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999_000), refund)
	assert.Zero(t, f.bank.Balance(f.token, f.contract).Sign())
}
