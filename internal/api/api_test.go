package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/clock"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/ledger"
	"github.com/punchamoorthee/flashsettle/internal/models"
	"github.com/punchamoorthee/flashsettle/internal/service"
	"github.com/punchamoorthee/flashsettle/internal/store"
	"github.com/punchamoorthee/flashsettle/internal/transfer"
)

const (
	secret  = "test-secret"
	network = "stellar-testnet"
)

type harness struct {
	t        *testing.T
	router   http.Handler
	clock    *clock.Manual
	bank     *transfer.Bank
	clientKP *keypair.Full
	client   domain.Address
	server   domain.Address
	admin    domain.Address
	contract domain.Address
	token    domain.Address
}

func newAccount(t *testing.T) (*keypair.Full, domain.Address) {
	t.Helper()
	kp, err := keypair.Random()
	require.NoError(t, err)
	return kp, domain.Address(kp.Address())
}

func newHarness(t *testing.T, limiter *RateLimiter) *harness {
	t.Helper()
	h := &harness{t: t, clock: clock.NewManual(1_700_000_000), bank: transfer.NewBank()}
	h.clientKP, h.client = newAccount(t)
	_, h.server = newAccount(t)
	_, h.admin = newAccount(t)
	var err error
	h.contract, err = domain.ContractFromID([32]byte{0xC0})
	require.NoError(t, err)
	h.token, err = domain.ContractFromID([32]byte{0x70})
	require.NoError(t, err)
	h.bank.Mint(h.token, h.client, big.NewInt(5_000_000))

	engine, err := service.NewEngine(service.Options{
		Ledger:   ledger.New(store.NewMemory(), store.DefaultLifetime, nil),
		Transfer: h.bank,
		Clock:    h.clock,
		Contract: h.contract,
	})
	require.NoError(t, err)
	h.router = NewRouter(NewHandler(engine, network, nil), RouterConfig{
		Authenticator: NewAuthenticator(secret, nil),
		RateLimiter:   limiter,
	})
	return h
}

func (h *harness) do(method, path string, as domain.Address, body any, header map[string]string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		tok, err := IssueToken(secret, as, time.Minute)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) initialize() {
	h.t.Helper()
	rec := h.do("POST", "/api/v1/admin/initialize", h.admin, models.InitializeRequest{Admin: h.admin.String()}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (h *harness) open(amount string) {
	h.t.Helper()
	rec := h.do("POST", "/api/v1/channels", h.client, models.OpenChannelRequest{
		Server:     h.server.String(),
		Token:      h.token.String(),
		Amount:     amount,
		TTLSeconds: 3600,
	}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (h *harness) channelPath(suffix string) string {
	return "/api/v1/channels/" + h.client.String() + "/" + h.server.String() + suffix
}

func (h *harness) signed(amount int64, nonce uint64) models.SettleRequest {
	h.t.Helper()
	pa := domain.PaymentAuth{
		SettlementContract: h.contract,
		Client:             h.client,
		Server:             h.server,
		Token:              h.token,
		Amount:             big.NewInt(amount),
		Nonce:              nonce,
		Deadline:           h.clock.Now() + 60,
	}
	sig, err := auth.Sign(h.clientKP, pa)
	require.NoError(h.t, err)
	return models.SettleRequest{
		Auth:      PaymentAuthToWire(pa),
		Signature: hex.EncodeToString(sig[:]),
		PublicKey: h.client.String(),
	}
}

func (h *harness) paymentHeader(req models.SettleRequest, scheme, net string) map[string]string {
	h.t.Helper()
	value, err := models.EncodePaymentHeader(models.PaymentPayload{
		X402Version: models.X402Version,
		Scheme:      scheme,
		Network:     net,
		Payload:     req,
	})
	require.NoError(h.t, err)
	return map[string]string{"X-Payment": value}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do("GET", "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize()
	h.open("1000000")

	rec := h.do("GET", h.channelPath("/escrow"), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000000", decode[models.EscrowResponse](t, rec).Amount)

	h.clock.Advance(1)
	req := h.signed(500_000, 0)
	rec = h.do("POST", h.channelPath("/settlements"), h.server, nil, h.paymentHeader(req, models.X402Scheme, network))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	settled := decode[models.SettlementResponse](t, rec)
	assert.Equal(t, "500000", settled.Amount)
	assert.Len(t, settled.AuthHash, 64)

	raw, err := base64.StdEncoding.DecodeString(rec.Header().Get("X-Payment-Response"))
	require.NoError(t, err)
	var pr models.PaymentResponse
	require.NoError(t, json.Unmarshal(raw, &pr))
	assert.True(t, pr.Success)
	assert.Equal(t, network, pr.Network)

	// Replay of the same header.
	h.clock.Advance(1)
	rec = h.do("POST", h.channelPath("/settlements"), h.server, nil, h.paymentHeader(req, models.X402Scheme, network))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, uint32(4), decode[models.ErrorResponse](t, rec).Code)

	rec = h.do("GET", "/api/v1/clients/"+h.client.String()+"/nonce", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), decode[models.NonceResponse](t, rec).Nonce)

	// JSON body form.
	rec = h.do("POST", h.channelPath("/settlements"), h.server, h.signed(200_000, 1), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do("GET", h.channelPath("/settlements"), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[[]models.SettlementResponse](t, rec)
	require.Len(t, hist, 2)
	assert.Equal(t, "500000", hist[0].Amount)
	assert.Equal(t, "200000", hist[1].Amount)

	rec = h.do("POST", h.channelPath("/close"), h.client, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "300000", decode[models.RefundResponse](t, rec).Refund)

	rec = h.do("GET", h.channelPath(""), "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ch := decode[models.ChannelResponse](t, rec)
	assert.Equal(t, "Closed", ch.State)
	assert.Equal(t, "0", ch.EscrowBalance)
	assert.Equal(t, h.client.String(), ch.ClosedBy)

	assert.Equal(t, int64(700_000), h.bank.Balance(h.token, h.server).Int64())
}

func TestCallerErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize()

	open := models.OpenChannelRequest{Server: h.server.String(), Token: h.token.String(), Amount: "1000", TTLSeconds: 60}
	rec := h.do("POST", "/api/v1/channels", "", open, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, uint32(1), decode[models.ErrorResponse](t, rec).Code)

	h.open("1000")
	h.clock.Advance(1)
	rec = h.do("POST", h.channelPath("/settlements"), h.client, h.signed(100, 0), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest("POST", h.channelPath("/close"), nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	bad := httptest.NewRecorder()
	h.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	rec = h.do("POST", "/api/v1/admin/pause", h.client, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize()
	h.open("1000")
	h.clock.Advance(1)

	rec := h.do("GET", "/api/v1/channels/nope/"+h.server.String()+"/escrow", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do("POST", h.channelPath("/settlements"), h.server, nil, h.paymentHeader(h.signed(100, 0), "exact", network))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do("POST", h.channelPath("/settlements"), h.server, nil, h.paymentHeader(h.signed(100, 0), models.X402Scheme, "stellar-mainnet"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do("POST", h.channelPath("/settlements"), h.server, nil, map[string]string{"X-Payment": "%%%"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := h.signed(100, 0)
	bad.Signature = "abcd"
	rec = h.do("POST", h.channelPath("/settlements"), h.server, bad, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = h.signed(100, 0)
	bad.Auth.Amount = "1e3"
	rec = h.do("POST", h.channelPath("/settlements"), h.server, bad, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do("GET", h.channelPath("/escrow"), "", nil, nil)
	assert.Equal(t, "1000", decode[models.EscrowResponse](t, rec).Amount)
}

func TestPaymentRequired(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize()
	h.open("1000")

	check := func(rec *httptest.ResponseRecorder) {
		t.Helper()
		require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
		body := decode[models.PaymentRequirements](t, rec)
		assert.Equal(t, models.X402Version, body.X402Version)
		require.Len(t, body.Accepts, 1)
		req := body.Accepts[0]
		assert.Equal(t, models.X402Scheme, req.Scheme)
		assert.Equal(t, network, req.Network)
		assert.Equal(t, "100", req.MaxAmountRequired)
		assert.Equal(t, h.server.String(), req.PayTo)
		assert.Equal(t, h.token.String(), req.Asset)
		assert.Equal(t, h.channelPath("/settlements"), req.Resource)
		assert.Equal(t, h.contract.String(), req.Extra["settlementContract"])
		assert.Equal(t, "0", req.Extra["nonce"])
	}
	check(h.do("POST", h.channelPath("/settlements"), h.server, nil, nil))
	check(h.do("GET", h.channelPath("/requirements"), "", nil, nil))

	_, stranger := newAccount(t)
	path := "/api/v1/channels/" + stranger.String() + "/" + h.server.String() + "/requirements"
	assert.Equal(t, http.StatusNotFound, h.do("GET", path, "", nil, nil).Code)
	rec := h.do("GET", path+"?token="+h.token.String(), "", nil, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, http.StatusBadRequest, h.do("GET", path+"?token=nope", "", nil, nil).Code)
}

func TestPausedAndPolicyEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize()
	h.open("1000")

	rec := h.do("PUT", "/api/v1/admin/minimum-payments/"+h.token.String(), h.admin, models.MinimumPaymentRequest{Amount: "250"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do("GET", "/api/v1/admin/minimum-payments/"+h.token.String(), "", nil, nil)
	assert.Equal(t, "250", decode[models.MinimumPaymentResponse](t, rec).Amount)

	h.clock.Advance(1)
	rec = h.do("POST", h.channelPath("/settlements"), h.server, h.signed(200, 0), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, uint32(7), decode[models.ErrorResponse](t, rec).Code)

	rec = h.do("POST", "/api/v1/admin/pause", h.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do("POST", h.channelPath("/settlements"), h.server, h.signed(300, 0), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do("POST", h.channelPath("/emergency-withdraw"), h.client, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1000", decode[models.RefundResponse](t, rec).Refund)

	rec = h.do("POST", "/api/v1/admin/initialize", h.admin, models.InitializeRequest{Admin: h.admin.String()}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, uint32(13), decode[models.ErrorResponse](t, rec).Code)
}

func TestGetChannelNotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do("GET", h.channelPath(""), "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	h := newHarness(t, NewRateLimiter(60, 2))
	path := h.channelPath("/escrow")
	assert.Equal(t, http.StatusOK, h.do("GET", path, h.client, nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do("GET", path, h.client, nil, nil).Code)
	rec := h.do("GET", path, h.client, nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Separate bucket per caller.
	assert.Equal(t, http.StatusOK, h.do("GET", path, h.server, nil, nil).Code)
}

func TestRateLimiterKeysOnPeerUnlessProxyTrusted(t *testing.T) {
	l := NewRateLimiter(60, 1)
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "203.0.113.9", l.clientID(req))

	// Rotating spoofed headers does not buy a fresh bucket.
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "203.0.113.9:4711"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+10))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		assert.Equal(t, want, rec.Code)
	}

	require.NoError(t, l.TrustProxies([]string{"203.0.113.0/24", "10.0.0.1"}))
	assert.Equal(t, "198.51.100.2", l.clientID(req))
	req.Header.Del("X-Real-IP")
	assert.Equal(t, "198.51.100.1", l.clientID(req))
	req.RemoteAddr = "10.0.0.1:80"
	assert.Equal(t, "198.51.100.1", l.clientID(req))
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "10.0.0.1", l.clientID(req))

	assert.Error(t, l.TrustProxies([]string{"proxy.local"}))
	assert.Error(t, l.TrustProxies([]string{"10.0.0.0/99"}))
}

func TestRateLimiterSweepsIdleVisitorsPeriodically(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(60, 1)
	l.nowFn = func() time.Time { return now }

	require.True(t, l.allow("a"))
	now = now.Add(time.Minute)
	require.True(t, l.allow("b"))
	assert.Len(t, l.visitors, 2)

	// A full window has passed since the last sweep; only "a" is idle.
	now = now.Add(l.idleAfter - time.Minute + time.Second)
	l.allow("b")
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "b")

	now = now.Add(time.Minute)
	l.allow("c")
	assert.Len(t, l.visitors, 2)
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do("GET", h.channelPath("/escrow"), "", nil, map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	rec = h.do("GET", h.channelPath("/escrow"), "", nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	anon := auth.Anonymous
	user := auth.As("GUSER")
	cases := []struct {
		err    *domain.Error
		caller auth.Principal
		want   int
	}{
		{domain.ErrUnauthorized, anon, http.StatusUnauthorized},
		{domain.ErrUnauthorized, user, http.StatusForbidden},
		{domain.ErrInvalidSignature, user, http.StatusUnauthorized},
		{domain.ErrChannelNotOpen, user, http.StatusConflict},
		{domain.ErrInvalidNonce, user, http.StatusConflict},
		{domain.ErrPaymentExpired, user, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientEscrow, user, http.StatusUnprocessableEntity},
		{domain.ErrRateLimitExceeded, user, http.StatusTooManyRequests},
		{domain.ErrContractPaused, user, http.StatusServiceUnavailable},
		{domain.ErrNotInitialized, user, http.StatusConflict},
		{domain.ErrTransferFailed, user, http.StatusBadGateway},
		{domain.ErrCompensationFailed, user, http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err, tc.caller), tc.err.Message)
	}
}

func TestParsePublicKey(t *testing.T) {
	_, addr := newAccount(t)
	want, err := addr.PublicKey()
	require.NoError(t, err)

	got, err := parsePublicKey(addr.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = parsePublicKey(hex.EncodeToString(want[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parsePublicKey("xyz")
	assert.ErrorIs(t, err, errBadRequest)
}

func TestAuthenticatorRejectsExpiredAndForeignTokens(t *testing.T) {
	_, addr := newAccount(t)
	a := NewAuthenticator(secret, nil)

	tok, err := IssueToken(secret, addr, -time.Hour)
	require.NoError(t, err)
	_, err = a.parseToken(tok)
	assert.Error(t, err)

	tok, err = IssueToken("other-secret", addr, time.Minute)
	require.NoError(t, err)
	_, err = a.parseToken(tok)
	assert.Error(t, err)

	tok, err = IssueToken(secret, addr, time.Minute)
	require.NoError(t, err)
	got, err := a.parseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	var seen auth.Principal
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.FromContext(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil).WithContext(context.Background())
	req.Header.Set("Authorization", "bearer "+tok)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, addr, seen.Address)
}
