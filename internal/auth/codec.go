// Package auth canonicalizes, signs and verifies payment authorizations, and
// checks the caller principal supplied by the hosting environment.
package auth

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

// CodecVersion identifies the canonical byte layout below. Any change to the
// layout invalidates every signature issued so far and must bump the version.
const CodecVersion = 1

var (
	two128  = new(big.Int).Lsh(big.NewInt(1), 128)
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Canonicalize returns the signed byte layout of an authorization:
// contract, client, server and token as XDR address values, then amount as a
// 16-byte big-endian i128, nonce and deadline as 8-byte big-endian integers.
func Canonicalize(a domain.PaymentAuth) ([]byte, error) {
	var out []byte
	for _, field := range []struct {
		name string
		addr domain.Address
	}{
		{"settlement contract", a.SettlementContract},
		{"client", a.Client},
		{"server", a.Server},
		{"token", a.Token},
	} {
		enc, err := field.addr.MarshalXDR()
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field.name, err)
		}
		out = append(out, enc...)
	}

	amount, err := EncodeI128(a.Amount)
	if err != nil {
		return nil, err
	}
	out = append(out, amount[:]...)
	out = binary.BigEndian.AppendUint64(out, a.Nonce)
	out = binary.BigEndian.AppendUint64(out, a.Deadline)
	return out, nil
}

// Digest is the SHA-256 of the canonical bytes. It is what gets signed and
// what settlement history records as the authorization hash.
func Digest(a domain.PaymentAuth) (domain.Hash, error) {
	msg, err := Canonicalize(a)
	if err != nil {
		return domain.Hash{}, err
	}
	return sha256.Sum256(msg), nil
}

// EncodeI128 renders v as 16-byte big-endian two's complement.
func EncodeI128(v *big.Int) ([16]byte, error) {
	var out [16]byte
	if v == nil {
		return out, fmt.Errorf("amount required")
	}
	if v.Cmp(minI128) < 0 || v.Cmp(maxI128) > 0 {
		return out, fmt.Errorf("amount %s overflows i128", v)
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	u.FillBytes(out[:])
	return out, nil
}
