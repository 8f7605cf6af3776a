package keys

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"xdao.co/vault/model"
)

func testSeed(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestFromSeedDeterministic(t *testing.T) {
	v1, err := FromSeed(testSeed(0xA1))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	v2, err := FromSeed(testSeed(0xA1))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if v1.Fingerprint() != v2.Fingerprint() {
		t.Fatalf("same seed produced different fingerprints")
	}
	v3, _ := FromSeed(testSeed(0xA2))
	if v1.Fingerprint() == v3.Fingerprint() {
		t.Fatalf("different seeds produced the same fingerprint")
	}
}

func TestFromSeedRejectsBadLength(t *testing.T) {
	if _, err := FromSeed([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short seed accepted")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	v, err := FromSeed(testSeed(0x42))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	msg := []byte(`{"anchor_hash":"","sealed":true}`)
	sig, err := v.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(v.PublicKey(), msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if Verify(v.PublicKey(), []byte("other"), sig) {
		t.Fatalf("signature verified against different bytes")
	}

	other, _ := FromSeed(testSeed(0x43))
	if Verify(other.PublicKey(), msg, sig) {
		t.Fatalf("signature verified under wrong key")
	}
}

func TestZeroizeMakesSigningFail(t *testing.T) {
	v, _ := FromSeed(testSeed(0x01))
	fp := v.Fingerprint()
	v.Zeroize()
	if _, err := v.Sign([]byte("x")); !model.IsKind(err, model.KindKeyUnavailable) {
		t.Fatalf("Sign after Zeroize: got %v, want KeyUnavailable", err)
	}
	// Verification material survives teardown.
	if v.Fingerprint() != fp {
		t.Fatalf("fingerprint lost on Zeroize")
	}
	if len(v.PublicKey()) != ed25519.PublicKeySize {
		t.Fatalf("public key lost on Zeroize")
	}
}

func TestSignatureEncoding(t *testing.T) {
	v, _ := FromSeed(testSeed(0x55))
	sig, err := v.Sign([]byte("msg"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	enc := EncodeSignature(sig)
	dec, err := DecodeSignature(enc)
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if string(dec) != string(sig) {
		t.Fatalf("signature encoding round trip mismatch")
	}
	if _, err := DecodeSignature("!!!"); !model.IsKind(err, model.KindInvalidSignature) {
		t.Fatalf("garbage signature: got %v, want InvalidSignature", err)
	}
	if _, err := DecodeSignature("AAAA"); !model.IsKind(err, model.KindInvalidSignature) {
		t.Fatalf("short signature: got %v, want InvalidSignature", err)
	}
}

func TestSeedFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.seed")
	seed := testSeed(0x99)

	if err := SaveSeedFile(path, seed, false); err != nil {
		t.Fatalf("SaveSeedFile: %v", err)
	}
	if err := SaveSeedFile(path, seed, false); err == nil {
		t.Fatalf("SaveSeedFile overwrote without overwrite=true")
	}
	got, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if string(got) != string(seed) {
		t.Fatalf("seed round trip mismatch")
	}

	v1, _ := FromSeed(seed)
	v2, err := Load(SourceFile, path)
	if err != nil {
		t.Fatalf("Load(file): %v", err)
	}
	if v1.Fingerprint() != v2.Fingerprint() {
		t.Fatalf("Load(file) produced a different identity")
	}
}

func TestLoadEnvSource(t *testing.T) {
	t.Setenv(SeedEnvVar, "zz")
	if _, err := Load(SourceEnv, ""); err == nil {
		t.Fatalf("malformed seed accepted")
	}

	t.Setenv(SeedEnvVar, "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	v, err := Load(SourceEnv, "")
	if err != nil {
		t.Fatalf("Load(env): %v", err)
	}
	if v.Fingerprint() == "" {
		t.Fatalf("empty fingerprint")
	}
}

func TestLoadHSMUnsupported(t *testing.T) {
	if _, err := Load(SourceHSM, ""); err == nil {
		t.Fatalf("hsm source should be unsupported")
	}
	if _, err := Load("keychain", ""); err == nil {
		t.Fatalf("unknown source should fail")
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	archive, err := OpenArchive(dir)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	v, _ := FromSeed(testSeed(0x21))
	fp, err := archive.Put(v.PublicKey())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fp != v.Fingerprint() {
		t.Fatalf("archive fingerprint mismatch")
	}
	// Idempotent.
	if _, err := archive.Put(v.PublicKey()); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	pub, err := archive.Get(fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if Fingerprint(pub) != fp {
		t.Fatalf("archived key does not hash back to fingerprint")
	}

	if _, err := archive.Get("deadbeef"); !model.IsKind(err, model.KindUnknownKey) {
		t.Fatalf("missing fingerprint: got %v, want UnknownKey", err)
	}

	list, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0] != fp {
		t.Fatalf("List = %v, want [%s]", list, fp)
	}
}
