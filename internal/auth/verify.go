package auth

import (
	"fmt"

	"github.com/stellar/go/keypair"

	"github.com/punchamoorthee/flashsettle/internal/domain"
)

// Sign produces the detached Ed25519 signature a client attaches to an authorization.
func Sign(kp *keypair.Full, a domain.PaymentAuth) ([64]byte, error) {
	var sig [64]byte
	digest, err := Digest(a)
	if err != nil {
		return sig, err
	}
	raw, err := kp.Sign(digest[:])
	if err != nil {
		return sig, fmt.Errorf("sign authorization: %w", err)
	}
	copy(sig[:], raw)
	return sig, nil
}

// VerifySignature checks sig over the authorization digest with pubkey.
// When the client is an account address the key must also be the client's own
// key, otherwise anyone could sign for the channel. Contract clients carry no
// key in their address, so the claimed key is trusted as-is.
func VerifySignature(a domain.PaymentAuth, sig [64]byte, pubkey [32]byte) error {
	if a.Client.Kind() == domain.KindAccount {
		clientKey, err := a.Client.PublicKey()
		if err != nil || clientKey != pubkey {
			return domain.ErrInvalidSignature
		}
	}
	signer, err := domain.AccountFromPublicKey(pubkey)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	kp, err := keypair.ParseAddress(signer.String())
	if err != nil {
		return domain.ErrInvalidSignature
	}
	digest, err := Digest(a)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if err := kp.Verify(digest[:], sig[:]); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

// ValidateContent checks what the authorization claims, independent of who signed it.
func ValidateContent(a domain.PaymentAuth, server, contract domain.Address, now uint64) error {
	if now > a.Deadline {
		return domain.ErrPaymentExpired
	}
	if a.Server != server {
		return domain.ErrUnauthorized
	}
	if a.SettlementContract != contract {
		return domain.ErrUnauthorized
	}
	if a.Amount == nil || a.Amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
