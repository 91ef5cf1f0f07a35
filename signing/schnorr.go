package signing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

// SchnorrEd25519 keys produce Schnorr signatures over the Ed25519 group.
// Their address is the last 20 bytes of the keccak256 of the marshalled point.
const SchnorrEd25519 = "schnorr-ed25519"

var suite suites.Suite = suites.MustFind("Ed25519")

type schnorrScheme struct{}

type schnorrKey struct {
	private kyber.Scalar
	id      Identity
}

func (schnorrScheme) Name() string { return SchnorrEd25519 }

func (schnorrScheme) Generate() (PrivateKey, error) {
	private := suite.Scalar().Pick(suite.RandomStream())
	public := suite.Point().Mul(private, nil)
	pub, err := public.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &schnorrKey{
		private: private,
		id: Identity{
			Scheme:    SchnorrEd25519,
			Address:   schnorrAddress(pub),
			PublicKey: pub,
		},
	}, nil
}

func (k *schnorrKey) Identity() Identity { return k.id }

func (k *schnorrKey) Sign(digest []byte) ([]byte, error) {
	return schnorr.Sign(suite, k.private, digest)
}

func (schnorrScheme) Verify(id Identity, digest, sig []byte) (bool, error) {
	public := suite.Point()
	if err := public.UnmarshalBinary(id.PublicKey); err != nil {
		return false, fmt.Errorf("schnorr public key: %w", err)
	}
	if schnorrAddress(id.PublicKey) != id.Address {
		return false, nil
	}
	return schnorr.Verify(suite, public, digest, sig) == nil, nil
}

func schnorrAddress(pub []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}
