package keys

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/vault/digest"
)

// Post-quantum co-signatures for exported receipts.
//
// The Ed25519 receipt signature is the protocol contract. Long-horizon
// archives can additionally co-sign exported receipt bytes with Dilithium3
// so the export stays attributable if Ed25519 falls. Co-signatures live
// outside the hash domain; they never alter anchor_hash or the ledger line.

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// CoSignDilithium3 returns a base64 Dilithium3 signature over hash(message).
// hashAlg must be one of: sha256, sha512, sha3-256.
func CoSignDilithium3(message []byte, hashAlg string, privateKey *mode3.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("missing private key")
	}
	d, err := digest.For(hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, d, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyDilithium3 checks a co-signature produced by CoSignDilithium3.
func VerifyDilithium3(message []byte, hashAlg, sigB64 string, publicKey *mode3.PublicKey) (bool, error) {
	if publicKey == nil {
		return false, fmt.Errorf("missing public key")
	}
	d, err := digest.For(hashAlg, message)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("invalid co-signature encoding: %w", err)
	}
	if len(sig) != mode3.SignatureSize {
		return false, fmt.Errorf("invalid co-signature length")
	}
	return mode3.Verify(publicKey, d, sig), nil
}
