package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/models"
)

// Admin and policy endpoints.

func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req models.InitializeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	admin, err := parseAddress("admin", req.Admin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.Initialize(r.Context(), auth.FromContext(r.Context()), admin); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"admin": admin.String()})
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(r.Context(), auth.FromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Unpause(r.Context(), auth.FromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *Handler) SetMinimumPayment(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress("token", mux.Vars(r)["token"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req models.MinimumPaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.SetMinimumPayment(r.Context(), auth.FromContext(r.Context()), token, amount); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.MinimumPaymentResponse{Token: token.String(), Amount: amount.String()})
}

func (h *Handler) GetMinimumPayment(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress("token", mux.Vars(r)["token"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := h.engine.MinimumPayment(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.MinimumPaymentResponse{Token: token.String(), Amount: amount.String()})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
