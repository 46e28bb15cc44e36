// Package keyring supplies Ed25519 key material to signers and verifiers:
// a local Provider for in-process key maps and an ordered Chain of external
// Sources for network key retrieval during verification.
package keyring

import (
	"crypto/ed25519"

	"github.com/perimetra/sigil/sigerr"
)

// Error codes produced by this package.
const (
	CodeInvalidKey         = "invalid_key"
	CodeKeyNotFound        = "key_not_found"
	CodeSourceError        = "source_error"
	CodeResolutionCanceled = "resolution_canceled"
)

// ErrKeyNotFound is returned when no provider or source can produce a key
// for a key id. Compare with errors.Is.
var ErrKeyNotFound = sigerr.New(sigerr.KindKeyResolution, CodeKeyNotFound,
	"no key found for key id")

// Provider hands out raw Ed25519 key material by key id. Private keys are
// either 32-byte seeds or 64-byte expanded keys; public keys are 32 bytes.
type Provider interface {
	// PrivateKey returns raw private key bytes for keyID, or false.
	PrivateKey(keyID string) ([]byte, bool)

	// PublicKey returns raw public key bytes for keyID, or false.
	PublicKey(keyID string) ([]byte, bool)
}

// PrivateKeyFromBytes normalizes raw private key material: a 32-byte seed
// or a 64-byte expanded key.
func PrivateKeyFromBytes(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(append([]byte(nil), raw...)), nil
	default:
		return nil, sigerr.Newf(sigerr.KindConfiguration, CodeInvalidKey,
			"ed25519 private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// PublicKeyFromBytes normalizes raw public key material, which must be
// exactly 32 bytes.
func PublicKeyFromBytes(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, sigerr.Newf(sigerr.KindConfiguration, CodeInvalidKey,
			"ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	return ed25519.PublicKey(append([]byte(nil), raw...)), nil
}

// Static is a Provider backed by in-memory maps. It is intended to be
// populated at startup; Add methods are not safe for use concurrently
// with lookups.
type Static struct {
	private map[string][]byte
	public  map[string][]byte
}

// NewStatic returns an empty Static provider.
func NewStatic() *Static {
	return &Static{
		private: make(map[string][]byte),
		public:  make(map[string][]byte),
	}
}

// AddPrivate stores private key bytes under keyID and returns the provider
// for chaining. The bytes are copied.
func (s *Static) AddPrivate(keyID string, key []byte) *Static {
	s.private[keyID] = append([]byte(nil), key...)
	return s
}

// AddPublic stores public key bytes under keyID and returns the provider
// for chaining. The bytes are copied.
func (s *Static) AddPublic(keyID string, key []byte) *Static {
	s.public[keyID] = append([]byte(nil), key...)
	return s
}

// AddKeyPair derives the public key from private key material and stores
// both under keyID.
func (s *Static) AddKeyPair(keyID string, privateKey []byte) error {
	priv, err := PrivateKeyFromBytes(privateKey)
	if err != nil {
		return err
	}

	s.AddPrivate(keyID, privateKey)
	s.AddPublic(keyID, priv.Public().(ed25519.PublicKey))

	return nil
}

// PrivateKey implements Provider.
func (s *Static) PrivateKey(keyID string) ([]byte, bool) {
	key, ok := s.private[keyID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}

// PublicKey implements Provider.
func (s *Static) PublicKey(keyID string) ([]byte, bool) {
	key, ok := s.public[keyID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}
