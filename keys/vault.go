package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"xdao.co/vault/digest"
	"xdao.co/vault/model"
)

// Vault holds the process-local Ed25519 signing identity.
//
// The private half never leaves the struct: it is loaded at init and wiped
// by Zeroize at teardown. The fingerprint is the SHA-256 digest of the raw
// 32-byte public key and names the anchor stream the identity writes to.
type Vault struct {
	mu          sync.RWMutex
	priv        ed25519.PrivateKey
	pub         ed25519.PublicKey
	fingerprint string
}

// Generate creates a fresh keypair from crypto/rand.
func Generate() (*Vault, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Vault{priv: priv, pub: pub, fingerprint: Fingerprint(pub)}, nil
}

// FromSeed builds the identity deterministically from a 32-byte seed.
func FromSeed(seed []byte) (*Vault, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Vault{priv: priv, pub: pub, fingerprint: Fingerprint(pub)}, nil
}

// Fingerprint digests a raw public key.
func Fingerprint(pub ed25519.PublicKey) string {
	return digest.SHA256Hex(pub)
}

// Fingerprint returns the identity's fingerprint. Valid after Zeroize; the
// public half is redistributable.
func (v *Vault) Fingerprint() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fingerprint
}

// PublicKey returns the redistributable public half.
func (v *Vault) PublicKey() ed25519.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append(ed25519.PublicKey(nil), v.pub...)
}

// Sign signs message bytes (callers pass canonical bytes).
// Fails KeyUnavailable after Zeroize.
func (v *Vault) Sign(message []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.priv == nil {
		return nil, model.NewError(model.KindKeyUnavailable, "vault key not loaded or zeroized")
	}
	return ed25519.Sign(v.priv, message), nil
}

// Zeroize wipes the private key. The public half and fingerprint survive so
// already-issued receipts remain verifiable.
func (v *Vault) Zeroize() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.priv {
		v.priv[i] = 0
	}
	v.priv = nil
}

// Verify checks an Ed25519 signature over message bytes.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// EncodeSignature renders a signature for API boundaries: base64url, unpadded.
func EncodeSignature(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// DecodeSignature parses a boundary-rendered signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidSignature, "signature is not base64url", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, model.NewError(model.KindInvalidSignature,
			fmt.Sprintf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig)))
	}
	return sig, nil
}
