// Package config loads the recognized vault options from an optional file
// and the environment via viper. Environment overrides use the VAULT_ prefix with dots
// replaced by underscores (VAULT_ANCHOR_KEY_SOURCE, ...).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries every recognized option.
type Config struct {
	Anchor struct {
		// KeySource is one of file, env, hsm.
		KeySource string `mapstructure:"key_source"`
		// KeyRef is the seed file path (file) or env var name (env).
		KeyRef string `mapstructure:"key_ref"`
		// StreamDurable controls fsync on the anchor stream.
		StreamDurable bool `mapstructure:"stream_durable"`
	} `mapstructure:"anchor"`

	Content struct {
		// Mirror is an external CAS gRPC endpoint, or empty for no mirror.
		Mirror string `mapstructure:"mirror"`
		// Codec is the CID codec for structured payload streams: raw or
		// dag-json.
		Codec string `mapstructure:"codec"`
		// Dir is the local blob directory.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"content"`

	Checkpoint struct {
		// SeqEnforce is strict (default) or monotonic-nonstrict.
		SeqEnforce string `mapstructure:"seq_enforce"`
	} `mapstructure:"checkpoint"`

	Ledger struct {
		// Dir holds the stream log files.
		Dir string `mapstructure:"dir"`
	} `mapstructure:"ledger"`

	Keys struct {
		// ArchiveDir holds the fingerprint -> public key archive.
		ArchiveDir string `mapstructure:"archive_dir"`
	} `mapstructure:"keys"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anchor.key_source", "file")
	v.SetDefault("anchor.stream_durable", true)
	v.SetDefault("content.mirror", "")
	v.SetDefault("content.codec", "raw")
	v.SetDefault("checkpoint.seq_enforce", "strict")
	v.SetDefault("log.level", "info")
}

// Load reads the config file at path (optional) plus VAULT_* environment
// overrides and validates the enumerated options.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	switch c.Anchor.KeySource {
	case "file", "env", "hsm":
	default:
		return fmt.Errorf("config: anchor.key_source must be file, env, or hsm, got %q", c.Anchor.KeySource)
	}
	switch c.Checkpoint.SeqEnforce {
	case "strict", "monotonic-nonstrict":
	default:
		return fmt.Errorf("config: checkpoint.seq_enforce must be strict or monotonic-nonstrict, got %q", c.Checkpoint.SeqEnforce)
	}
	switch c.Content.Codec {
	case "", "raw", "json", "dag-json":
	default:
		return fmt.Errorf("config: content.codec must be raw or dag-json, got %q", c.Content.Codec)
	}
	return nil
}
