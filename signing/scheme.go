package signing

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the public half of a signing key as the arbiter records it.
type Identity struct {
	Scheme    string         `json:"scheme" mapstructure:"scheme"`
	Address   common.Address `json:"address" mapstructure:"address"`
	PublicKey []byte         `json:"public_key,omitempty" mapstructure:"publicKey"`
}

// Equal compares scheme and address. The address commits to the public key.
func (id Identity) Equal(o Identity) bool {
	return id.Scheme == o.Scheme && id.Address == o.Address
}

func (id Identity) String() string {
	return id.Scheme + ":" + id.Address.Hex()
}

// PrivateKey signs 32-byte digests.
type PrivateKey interface {
	Identity() Identity
	Sign(digest []byte) ([]byte, error)
}

// Scheme is a signature algorithm usable for session keys.
type Scheme interface {
	Name() string
	Generate() (PrivateKey, error)
	// Verify returns false for a well-formed but wrong signature and an error
	// when the signature or identity cannot be interpreted at all.
	Verify(id Identity, digest, sig []byte) (bool, error)
}

var schemes = map[string]Scheme{
	Secp256k1:      secp256k1Scheme{},
	SchnorrEd25519: schnorrScheme{},
}

// Lookup returns the scheme registered under name.
func Lookup(name string) (Scheme, error) {
	s, ok := schemes[name]
	if !ok {
		return nil, fmt.Errorf("unknown signature scheme %q", name)
	}
	return s, nil
}

// Verify checks sig against id using the scheme id names.
func Verify(id Identity, digest, sig []byte) (bool, error) {
	if len(sig) == 0 {
		return false, errors.New("missing signature")
	}
	s, err := Lookup(id.Scheme)
	if err != nil {
		return false, err
	}
	return s.Verify(id, digest, sig)
}
