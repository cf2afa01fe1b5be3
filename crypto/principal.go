package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrincipalPrefix is the human-readable bech32 prefix used for protocol
// principals (vault owners, the developer account, ledger/oracle
// identities).
type PrincipalPrefix string

// Prefix is the sole prefix used by this protocol; there is only one
// namespace of principals, unlike chains that separate collateral and
// stable balances under distinct prefixes.
const Prefix PrincipalPrefix = "vault"

// Principal is a 20-byte account identifier, matching the width of an
// ICRC/EVM-style account so it can be derived directly from a secp256k1
// public key.
type Principal struct {
	prefix PrincipalPrefix
	bytes  []byte
}

// NewPrincipal validates and constructs a Principal from raw bytes.
func NewPrincipal(prefix PrincipalPrefix, b []byte) (Principal, error) {
	if len(b) != 20 {
		return Principal{}, fmt.Errorf("principal must be 20 bytes long, got %d", len(b))
	}
	cloned := append([]byte(nil), b...)
	return Principal{prefix: prefix, bytes: cloned}, nil
}

// MustNewPrincipal constructs a Principal and panics if the input is invalid.
func MustNewPrincipal(prefix PrincipalPrefix, b []byte) Principal {
	p, err := NewPrincipal(prefix, b)
	if err != nil {
		panic(err)
	}
	return p
}

// IsAnonymous reports whether the principal is the reserved all-zero value
// used to represent an unauthenticated caller.
func (p Principal) IsAnonymous() bool {
	if len(p.bytes) == 0 {
		return true
	}
	for _, b := range p.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

func (p Principal) String() string {
	conv, err := bech32.ConvertBits(p.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(p.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a defensive copy of the principal's raw bytes.
func (p Principal) Bytes() []byte {
	return append([]byte(nil), p.bytes...)
}

// Prefix returns the human-readable prefix associated with the principal.
func (p Principal) Prefix() PrincipalPrefix {
	return p.prefix
}

// Key returns a comparable, map-safe representation of the principal.
func (p Principal) Key() [20]byte {
	var k [20]byte
	copy(k[:], p.bytes)
	return k
}

// MarshalJSON renders the principal as its bech32 string form.
func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses the bech32 string form written by MarshalJSON.
func (p *Principal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := DecodePrincipal(s)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// DecodePrincipal parses a bech32-encoded principal string.
func DecodePrincipal(s string) (Principal, error) {
	prefix, decoded, err := bech32.Decode(s)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Principal{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewPrincipal(PrincipalPrefix(prefix), conv)
}

// --- Key management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Principal derives the 20-byte account identifier for this public key.
func (k *PublicKey) Principal() Principal {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewPrincipal(Prefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
