package domain

import (
	"fmt"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Address is a strkey-encoded identity: an account (G...) or a contract (C...).
type Address string

// AddressKind distinguishes account identities from contract identities.
type AddressKind uint8

const (
	KindUnknown AddressKind = iota
	KindAccount
	KindContract
)

// ParseAddress trims and validates a strkey address.
func ParseAddress(s string) (Address, error) {
	a := Address(strings.TrimSpace(s))
	if a.Kind() == KindUnknown {
		return "", fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}

// MustAddress is ParseAddress for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

// Kind reports the address family, or KindUnknown if the checksum or version byte is wrong.
func (a Address) Kind() AddressKind {
	s := string(a)
	if s == "" {
		return KindUnknown
	}
	switch s[0] {
	case 'G':
		if strkey.IsValidEd25519PublicKey(s) {
			return KindAccount
		}
	case 'C':
		if _, err := strkey.Decode(strkey.VersionByteContract, s); err == nil {
			return KindContract
		}
	}
	return KindUnknown
}

// Valid reports whether a is a well-formed account or contract address.
func (a Address) Valid() bool { return a.Kind() != KindUnknown }

// PublicKey returns the raw ed25519 key behind an account address.
func (a Address) PublicKey() ([32]byte, error) {
	var pk [32]byte
	if a.Kind() != KindAccount {
		return pk, fmt.Errorf("address %s is not an account", a)
	}
	raw, err := strkey.Decode(strkey.VersionByteAccountID, string(a))
	if err != nil {
		return pk, err
	}
	copy(pk[:], raw)
	return pk, nil
}

// AccountFromPublicKey encodes a raw ed25519 key as an account address.
func AccountFromPublicKey(pk [32]byte) (Address, error) {
	s, err := strkey.Encode(strkey.VersionByteAccountID, pk[:])
	if err != nil {
		return "", err
	}
	return Address(s), nil
}

// ContractFromID encodes a 32-byte contract id as a contract address.
func ContractFromID(id [32]byte) (Address, error) {
	s, err := strkey.Encode(strkey.VersionByteContract, id[:])
	if err != nil {
		return "", err
	}
	return Address(s), nil
}

// ScAddress converts the address to its XDR form.
func (a Address) ScAddress() (xdr.ScAddress, error) {
	switch a.Kind() {
	case KindAccount:
		accountID, err := xdr.AddressToAccountId(string(a))
		if err != nil {
			return xdr.ScAddress{}, err
		}
		return xdr.NewScAddress(xdr.ScAddressTypeScAddressTypeAccount, accountID)
	case KindContract:
		raw, err := strkey.Decode(strkey.VersionByteContract, string(a))
		if err != nil {
			return xdr.ScAddress{}, err
		}
		var id xdr.Hash
		copy(id[:], raw)
		return xdr.NewScAddress(xdr.ScAddressTypeScAddressTypeContract, id)
	default:
		return xdr.ScAddress{}, fmt.Errorf("invalid address %q", string(a))
	}
}

// MarshalXDR returns the XDR encoding of the address wrapped in an ScVal,
// matching how the host serializes addresses inside contract data.
func (a Address) MarshalXDR() ([]byte, error) {
	scAddr, err := a.ScAddress()
	if err != nil {
		return nil, err
	}
	val, err := xdr.NewScVal(xdr.ScValTypeScvAddress, scAddr)
	if err != nil {
		return nil, err
	}
	return val.MarshalBinary()
}
