package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

// Amounts travel as decimal strings so they survive JSON clients without
// 64-bit integers.

// InitializeRequest names the admin; the caller must be that admin.
type InitializeRequest struct {
	Admin string `json:"admin"`
}

type MinimumPaymentRequest struct {
	Amount string `json:"amount"`
}

type MinimumPaymentResponse struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// OpenChannelRequest is the payload from the client.
type OpenChannelRequest struct {
	Server     string `json:"server"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	TTLSeconds uint64 `json:"ttl_seconds"`
}

// ChannelResponse is the canonical channel representation.
type ChannelResponse struct {
	Client             string `json:"client"`
	Server             string `json:"server"`
	Token              string `json:"token"`
	EscrowBalance      string `json:"escrow_balance"`
	OpenedAt           uint64 `json:"opened_at"`
	LastActivityAt     uint64 `json:"last_activity_at"`
	TTLSeconds         uint64 `json:"ttl_seconds"`
	State              string `json:"state"`
	ClosedBy           string `json:"closed_by,omitempty"`
	PendingSettlements uint32 `json:"pending_settlements"`
}

func NewChannelResponse(client, server domain.Address, ch *domain.Channel) ChannelResponse {
	resp := ChannelResponse{
		Client:             client.String(),
		Server:             server.String(),
		Token:              ch.Token.String(),
		EscrowBalance:      ch.EscrowBalance.String(),
		OpenedAt:           ch.OpenedAt,
		LastActivityAt:     ch.LastActivityAt,
		TTLSeconds:         ch.TTLSeconds,
		State:              ch.State.String(),
		PendingSettlements: ch.PendingSettlements,
	}
	if ch.ClosedBy != nil {
		resp.ClosedBy = ch.ClosedBy.String()
	}
	return resp
}

type EscrowResponse struct {
	Client string `json:"client"`
	Server string `json:"server"`
	Amount string `json:"amount"`
}

type RefundResponse struct {
	Refund string `json:"refund"`
	State  string `json:"state"`
}

type NonceResponse struct {
	Client string `json:"client"`
	Nonce  uint64 `json:"nonce"`
}

// SettlementResponse is one settlement history entry.
type SettlementResponse struct {
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	AuthHash  string `json:"auth_hash"`
}

func NewSettlementResponse(s domain.Settlement) SettlementResponse {
	return SettlementResponse{
		Amount:    s.Amount.String(),
		Timestamp: s.Timestamp,
		AuthHash:  s.AuthHash.String(),
	}
}

// PaymentAuth is the wire form of a signed authorization, field names as
// issued by x402 flash clients.
type PaymentAuth struct {
	SettlementContract string `json:"settlementContract"`
	Client             string `json:"client"`
	Server             string `json:"server"`
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	Nonce              uint64 `json:"nonce"`
	Deadline           uint64 `json:"deadline"`
}

// SettleRequest is the JSON body form of a settlement.
type SettleRequest struct {
	Auth      PaymentAuth `json:"auth"`
	Signature string      `json:"signature"`
	PublicKey string      `json:"publicKey"`
}

const (
	X402Version = 1
	X402Scheme  = "flash"
)

// PaymentPayload is the decoded X-Payment header.
type PaymentPayload struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     SettleRequest `json:"payload"`
}

// DecodePaymentHeader parses a base64 X-Payment header value.
func DecodePaymentHeader(value string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("payment header is not base64: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payment header is not JSON: %w", err)
	}
	return &p, nil
}

// EncodePaymentHeader is the client-side counterpart of DecodePaymentHeader.
func EncodePaymentHeader(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// PaymentResponse is returned base64 encoded in X-Payment-Response.
type PaymentResponse struct {
	Success   bool   `json:"success"`
	Network   string `json:"network"`
	Timestamp uint64 `json:"timestamp"`
}

func (p PaymentResponse) Header() string {
	raw, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(raw)
}

// PaymentRequirement describes one accepted way to pay for a resource.
type PaymentRequirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds uint64            `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra"`
}

// PaymentRequirements is the 402 Payment Required body.
type PaymentRequirements struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error,omitempty"`
}

// ErrorResponse carries the settlement error code when there is one.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}
