// Package identity derives the signing key and address of a marketplace
// participant from a secret seed phrase.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// AddressPrefix starts every agent address.
const AddressPrefix = "agent1"

var (
	ErrEmptySeed      = errors.New("identity: seed must not be empty")
	ErrInvalidAddress = errors.New("identity: invalid agent address")
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Identity is a key pair plus the address derived from its public half.
// It is immutable after creation.
type Identity struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	address string
}

// FromSeed derives an identity from a seed phrase and an index. The same
// (seed, index) pair always yields the same address.
func FromSeed(seed string, index uint32) (*Identity, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, ErrEmptySeed
	}

	h := sha256.New()
	h.Write([]byte(seed))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	h.Write(idx[:])

	private := ed25519.NewKeyFromSeed(h.Sum(nil))
	public := private.Public().(ed25519.PublicKey)

	return &Identity{
		private: private,
		public:  public,
		address: AddressFromPublicKey(public),
	}, nil
}

// Address returns the agent address.
func (id *Identity) Address() string {
	return id.address
}

// PublicKey returns the verification key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.public
}

// Sign signs msg with the private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// String returns the address so identities log without leaking key material.
func (id *Identity) String() string {
	return id.address
}

// AddressFromPublicKey encodes a public key as an agent address.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	return AddressPrefix + strings.ToLower(addressEncoding.EncodeToString(pub))
}

// PublicKeyFromAddress recovers the verification key embedded in an address.
func PublicKeyFromAddress(address string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(address, AddressPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidAddress, AddressPrefix)
	}
	raw, err := addressEncoding.DecodeString(strings.ToUpper(strings.TrimPrefix(address, AddressPrefix)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key is %d bytes", ErrInvalidAddress, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ValidAddress reports whether address decodes to a public key.
func ValidAddress(address string) bool {
	_, err := PublicKeyFromAddress(address)
	return err == nil
}

// Verify checks that sig over msg was produced by the owner of address.
func Verify(address string, msg, sig []byte) error {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return errors.New("identity: signature mismatch")
	}
	return nil
}
