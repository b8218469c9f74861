// Package backup implements the decentralized, best-effort backup channel:
// a delegated-identity authorization handshake followed by save/fetch of a
// serialized application snapshot against an aggregate transport.
//
// The primary wallet identity never hands its key to this layer. Instead a
// delegate key is derived deterministically from a signature the primary
// produces over a fixed challenge message, and the delegate is granted
// write access to the backup aggregate through the primary's authorization
// registry. The same wallet therefore always yields the same delegate, on
// any device, without any secret being stored.
package backup

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the primary wallet identity. Implementations live at the
// wallet-connection boundary, outside this layer.
type Signer interface {
	// Address returns the primary identity's account address.
	Address() string
	// SignMessage signs an arbitrary text message with the primary key.
	SignMessage(ctx context.Context, msg string) ([]byte, error)
}

// DeriveDelegate turns a primary-identity signature into the delegate
// signing key: the keccak256 of the signature is used as secp256k1 key
// material. The derivation is deterministic, so re-signing the same
// challenge always reconstructs the same delegate.
func DeriveDelegate(signature []byte) (*ecdsa.PrivateKey, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("backup: empty signature")
	}
	seed := crypto.Keccak256(signature)
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("backup: derive delegate key: %w", err)
	}
	return key, nil
}

// DelegateKey pairs a derived delegate signing key with its address.
type DelegateKey struct {
	Key     *ecdsa.PrivateKey
	Address string
}

// DelegateAddress returns the account address of a delegate key.
func DelegateAddress(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}
