package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key sources recognized by anchor.key_source.
const (
	SourceFile = "file"
	SourceEnv  = "env"
	SourceHSM  = "hsm"
)

// SeedEnvVar is the variable consulted by the env key source.
const SeedEnvVar = "VAULT_KEY_SEED"

// Load resolves the vault identity from the configured source.
//
// file: ref is a path to a hex seed file (one line, optional 0x prefix).
// env:  ref is an env var name, defaulting to VAULT_KEY_SEED.
// hsm:  reserved; not implemented in this build.
func Load(source, ref string) (*Vault, error) {
	switch source {
	case SourceFile:
		seed, err := LoadSeedFile(ref)
		if err != nil {
			return nil, err
		}
		return FromSeed(seed)
	case SourceEnv:
		name := ref
		if name == "" {
			name = SeedEnvVar
		}
		raw := os.Getenv(name)
		if raw == "" {
			return nil, fmt.Errorf("keys: env var %s is empty", name)
		}
		seed, err := ParseSeedHex(raw)
		if err != nil {
			return nil, err
		}
		return FromSeed(seed)
	case SourceHSM:
		return nil, fmt.Errorf("keys: hsm key source not supported in this build")
	default:
		return nil, fmt.Errorf("keys: unknown key source %q", source)
	}
}

// ParseSeedHex decodes a hex-encoded Ed25519 seed.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

// LoadSeedFile reads a hex seed from disk.
func LoadSeedFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("keys: seed file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(strings.TrimSpace(string(data)))
}

// SaveSeedFile writes a hex seed with owner-only permissions.
func SaveSeedFile(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
