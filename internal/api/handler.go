package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/models"
	"github.com/punchamoorthee/flashsettle/internal/service"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	engine  *service.Engine
	network string
	logger  *slog.Logger
}

func NewHandler(engine *service.Engine, network string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, network: network, logger: logger}
}

// RouterConfig carries the optional middleware for NewRouter.
type RouterConfig struct {
	Authenticator *Authenticator
	RateLimiter   *RateLimiter
}

// NewRouter mounts every endpoint under /api/v1 plus /health and /metrics.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(RequestID, Metrics)
	if cfg.Authenticator != nil {
		apiV1.Use(cfg.Authenticator.Middleware)
	}
	if cfg.RateLimiter != nil {
		apiV1.Use(cfg.RateLimiter.Middleware)
	}

	apiV1.HandleFunc("/admin/initialize", h.Initialize).Methods("POST")
	apiV1.HandleFunc("/admin/pause", h.Pause).Methods("POST")
	apiV1.HandleFunc("/admin/unpause", h.Unpause).Methods("POST")
	apiV1.HandleFunc("/admin/minimum-payments/{token}", h.SetMinimumPayment).Methods("PUT")
	apiV1.HandleFunc("/admin/minimum-payments/{token}", h.GetMinimumPayment).Methods("GET")

	apiV1.HandleFunc("/channels", h.OpenChannel).Methods("POST")
	apiV1.HandleFunc("/channels/{client}/{server}", h.GetChannel).Methods("GET")
	apiV1.HandleFunc("/channels/{client}/{server}/escrow", h.GetEscrow).Methods("GET")
	apiV1.HandleFunc("/channels/{client}/{server}/settlements", h.ListSettlements).Methods("GET")
	apiV1.HandleFunc("/channels/{client}/{server}/settlements", h.Settle).Methods("POST")
	apiV1.HandleFunc("/channels/{client}/{server}/requirements", h.PaymentRequirements).Methods("GET")
	apiV1.HandleFunc("/channels/{client}/{server}/close", h.CloseChannel).Methods("POST")
	apiV1.HandleFunc("/channels/{client}/{server}/emergency-withdraw", h.EmergencyWithdraw).Methods("POST")

	apiV1.HandleFunc("/clients/{client}/nonce", h.GetClientNonce).Methods("GET")
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	var req models.OpenChannelRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	caller := auth.FromContext(r.Context())
	server, err := parseAddress("server", req.Server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ch, err := h.engine.OpenEscrow(r.Context(), caller, caller.Address, server, token, amount, req.TTLSeconds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/channels/%s/%s", caller.Address, server))
	respondWithJSON(w, http.StatusCreated, models.NewChannelResponse(caller.Address, server, ch))
}

func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ch, err := h.engine.Channel(r.Context(), client, server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ch == nil {
		respondWithError(w, http.StatusNotFound, "Channel not found")
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewChannelResponse(client, server, ch))
}

func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount := h.engine.CurrentEscrow(r.Context(), client, server)
	respondWithJSON(w, http.StatusOK, models.EscrowResponse{
		Client: client.String(),
		Server: server.String(),
		Amount: amount.String(),
	})
}

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	hist, err := h.engine.SettlementHistory(r.Context(), client, server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]models.SettlementResponse, 0, len(hist))
	for _, s := range hist {
		out = append(out, models.NewSettlementResponse(s))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// Settle accepts either an x402 X-Payment header or a JSON SettleRequest body.
// A request carrying neither is answered with 402 and the payment requirements.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.Header.Get("X-Payment") == "" && r.ContentLength == 0 {
		h.paymentRequired(w, r, client, server)
		return
	}

	var req models.SettleRequest
	network := h.network
	if header := r.Header.Get("X-Payment"); header != "" {
		payload, err := models.DecodePaymentHeader(header)
		if err != nil {
			h.fail(w, r, badRequest("%v", err))
			return
		}
		if payload.X402Version != models.X402Version {
			h.fail(w, r, badRequest("unsupported x402 version"))
			return
		}
		if payload.Scheme != models.X402Scheme {
			h.fail(w, r, badRequest("unsupported payment scheme, expected %s", models.X402Scheme))
			return
		}
		if h.network != "" && payload.Network != h.network {
			h.fail(w, r, badRequest("network mismatch, expected %s", h.network))
			return
		}
		network = payload.Network
		req = payload.Payload
	} else if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	pa, err := parsePaymentAuth(req.Auth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pubkey, err := parsePublicKey(req.PublicKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	s, err := h.engine.SettlePayment(r.Context(), auth.FromContext(r.Context()), client, server, pa, sig, pubkey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := models.PaymentResponse{Success: true, Network: network, Timestamp: s.Timestamp}
	w.Header().Set("X-Payment-Response", resp.Header())
	respondWithJSON(w, http.StatusCreated, models.NewSettlementResponse(*s))
}

// PaymentRequirements answers 402 with what a settlement for the pair must carry.
func (h *Handler) PaymentRequirements(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.paymentRequired(w, r, client, server)
}

func (h *Handler) paymentRequired(w http.ResponseWriter, r *http.Request, client, server domain.Address) {
	ctx := r.Context()
	var token domain.Address
	ch, err := h.engine.Channel(ctx, client, server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ch != nil {
		token = ch.Token
	} else if raw := r.URL.Query().Get("token"); raw != "" {
		if token, err = parseAddress("token", raw); err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		respondWithError(w, http.StatusNotFound, "Channel not found")
		return
	}
	minimum, err := h.engine.MinimumPayment(ctx, token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	nonce, err := h.engine.ClientNonce(ctx, client)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resource := fmt.Sprintf("/api/v1/channels/%s/%s/settlements", client, server)
	respondWithJSON(w, http.StatusPaymentRequired, models.PaymentRequirements{
		X402Version: models.X402Version,
		Accepts: []models.PaymentRequirement{{
			Scheme:            models.X402Scheme,
			Network:           h.network,
			MaxAmountRequired: minimum.String(),
			Resource:          resource,
			Description:       "Settlement against the channel escrow",
			MimeType:          "application/json",
			PayTo:             server.String(),
			MaxTimeoutSeconds: 60,
			Asset:             token.String(),
			Extra: map[string]string{
				"settlementContract": h.engine.Contract().String(),
				"nonce":              strconv.FormatUint(nonce, 10),
			},
		}},
		Error: "Payment required",
	})
}

func (h *Handler) CloseChannel(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refund, err := h.engine.ClientCloseEscrow(r.Context(), auth.FromContext(r.Context()), client, server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.RefundResponse{Refund: refund.String(), State: domain.StateClosed.String()})
}

func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	client, server, err := pairFromPath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refund, err := h.engine.EmergencyWithdraw(r.Context(), auth.FromContext(r.Context()), client, server)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.RefundResponse{Refund: refund.String(), State: domain.StateClosed.String()})
}

func (h *Handler) GetClientNonce(w http.ResponseWriter, r *http.Request) {
	client, err := parseAddress("client", mux.Vars(r)["client"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.engine.ClientNonce(r.Context(), client)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NonceResponse{Client: client.String(), Nonce: n})
}

func pairFromPath(r *http.Request) (domain.Address, domain.Address, error) {
	vars := mux.Vars(r)
	client, err := parseAddress("client", vars["client"])
	if err != nil {
		return "", "", err
	}
	server, err := parseAddress("server", vars["server"])
	if err != nil {
		return "", "", err
	}
	return client, server, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("request body unreadable")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest("malformed JSON body")
	}
	return nil
}

// fail maps err onto a response. Settlement errors carry their code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	de, ok := domain.AsError(err)
	if !ok {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	status := statusFor(de, auth.FromContext(r.Context()))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "settlement operation failed", "code", de.Code, "error", err)
	}
	respondWithJSON(w, status, models.ErrorResponse{Error: de.Message, Code: de.Code})
}

func statusFor(e *domain.Error, caller auth.Principal) int {
	switch {
	case e == domain.ErrUnauthorized && !caller.Authenticated():
		return http.StatusUnauthorized
	case e == domain.ErrUnauthorized:
		return http.StatusForbidden
	case e == domain.ErrInvalidSignature:
		return http.StatusUnauthorized
	case e == domain.ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case e == domain.ErrContractPaused:
		return http.StatusServiceUnavailable
	}
	switch e.Kind {
	case domain.KindLifecycle, domain.KindReplay, domain.KindOperational:
		return http.StatusConflict
	case domain.KindValue, domain.KindTemporal:
		return http.StatusUnprocessableEntity
	case domain.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
