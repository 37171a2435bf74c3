package domain

import "errors"

// ErrorKind groups settlement errors for callers that only care about the category.
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindLifecycle     ErrorKind = "lifecycle"
	KindReplay        ErrorKind = "replay"
	KindTemporal      ErrorKind = "temporal"
	KindValue         ErrorKind = "value"
	KindOperational   ErrorKind = "operational"
	KindTransfer      ErrorKind = "transfer"
)

// Error is a typed settlement failure. Codes are stable and shared with clients.
type Error struct {
	Code    uint32
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrUnauthorized         = &Error{Code: 1, Kind: KindAuthorization, Message: "unauthorized"}
	ErrChannelNotOpen       = &Error{Code: 2, Kind: KindLifecycle, Message: "channel not open"}
	ErrInvalidSignature     = &Error{Code: 3, Kind: KindAuthorization, Message: "invalid signature"}
	ErrNonceAlreadyUsed     = &Error{Code: 4, Kind: KindReplay, Message: "nonce already used"}
	ErrPaymentExpired       = &Error{Code: 5, Kind: KindTemporal, Message: "payment authorization expired"}
	ErrInsufficientEscrow   = &Error{Code: 6, Kind: KindValue, Message: "insufficient escrow"}
	ErrInvalidAmount        = &Error{Code: 7, Kind: KindValue, Message: "invalid amount"}
	ErrContractPaused       = &Error{Code: 8, Kind: KindOperational, Message: "contract paused"}
	ErrInvalidNonce         = &Error{Code: 9, Kind: KindReplay, Message: "invalid nonce"}
	ErrRateLimitExceeded    = &Error{Code: 10, Kind: KindTemporal, Message: "rate limit exceeded"}
	ErrChannelAlreadyExists = &Error{Code: 11, Kind: KindLifecycle, Message: "channel already exists"}
	ErrPendingSettlements   = &Error{Code: 12, Kind: KindLifecycle, Message: "pending settlements"}
	ErrAlreadyInitialized   = &Error{Code: 13, Kind: KindOperational, Message: "already initialized"}
	ErrNotInitialized       = &Error{Code: 14, Kind: KindOperational, Message: "not initialized"}
	ErrTransferFailed       = &Error{Code: 15, Kind: KindTransfer, Message: "transfer failed"}
	ErrCompensationFailed   = &Error{Code: 16, Kind: KindTransfer, Message: "compensating transfer failed"}
)

// AsError extracts the settlement error from a wrapped chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
