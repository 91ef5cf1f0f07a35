package signing

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1 keys sign the EIP-191 text hash of the digest, the way an
// Ethereum wallet signs a message, so the arbiter contract can recover the
// signer with ecrecover.
const Secp256k1 = "secp256k1"

type secp256k1Scheme struct{}

type secp256k1Key struct {
	key *ecdsa.PrivateKey
	id  Identity
}

func (secp256k1Scheme) Name() string { return Secp256k1 }

func (secp256k1Scheme) Generate() (PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromECDSA(key), nil
}

// FromECDSA wraps an existing secp256k1 key, e.g. a wallet's owner key.
func FromECDSA(key *ecdsa.PrivateKey) PrivateKey {
	return &secp256k1Key{
		key: key,
		id: Identity{
			Scheme:    Secp256k1,
			Address:   crypto.PubkeyToAddress(key.PublicKey),
			PublicKey: crypto.FromECDSAPub(&key.PublicKey),
		},
	}
}

func (k *secp256k1Key) Identity() Identity { return k.id }

func (k *secp256k1Key) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(accounts.TextHash(digest), k.key)
}

func (secp256k1Scheme) Verify(id Identity, digest, sig []byte) (bool, error) {
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("secp256k1 signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(accounts.TextHash(digest), sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == id.Address, nil
}
