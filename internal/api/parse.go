package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/models"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseAddress(field, value string) (domain.Address, error) {
	addr, err := domain.ParseAddress(value)
	if err != nil {
		return "", badRequest("invalid %s address", field)
	}
	return addr, nil
}

// parseAmount accepts a base-10 integer string.
func parseAmount(value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, badRequest("amount must be a base-10 integer")
	}
	return v, nil
}

func parseSignature(value string) ([64]byte, error) {
	var sig [64]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(sig) {
		return sig, badRequest("signature must be 64 hex-encoded bytes")
	}
	copy(sig[:], raw)
	return sig, nil
}

// parsePublicKey accepts a G... account strkey or 32 hex-encoded bytes.
func parsePublicKey(value string) ([32]byte, error) {
	var pk [32]byte
	value = strings.TrimSpace(value)
	if addr, err := domain.ParseAddress(value); err == nil {
		if pk, err = addr.PublicKey(); err == nil {
			return pk, nil
		}
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil || len(raw) != len(pk) {
		return pk, badRequest("publicKey must be an account address or 32 hex-encoded bytes")
	}
	copy(pk[:], raw)
	return pk, nil
}

func parsePaymentAuth(p models.PaymentAuth) (domain.PaymentAuth, error) {
	var (
		a   domain.PaymentAuth
		err error
	)
	if a.SettlementContract, err = parseAddress("settlementContract", p.SettlementContract); err != nil {
		return a, err
	}
	if a.Client, err = parseAddress("client", p.Client); err != nil {
		return a, err
	}
	if a.Server, err = parseAddress("server", p.Server); err != nil {
		return a, err
	}
	if a.Token, err = parseAddress("token", p.Token); err != nil {
		return a, err
	}
	if a.Amount, err = parseAmount(p.Amount); err != nil {
		return a, err
	}
	a.Nonce = p.Nonce
	a.Deadline = p.Deadline
	return a, nil
}

// PaymentAuthToWire is the inverse of parsePaymentAuth, used by clients.
func PaymentAuthToWire(a domain.PaymentAuth) models.PaymentAuth {
	return models.PaymentAuth{
		SettlementContract: a.SettlementContract.String(),
		Client:             a.Client.String(),
		Server:             a.Server.String(),
		Token:              a.Token.String(),
		Amount:             a.Amount.String(),
		Nonce:              a.Nonce,
		Deadline:           a.Deadline,
	}
}
