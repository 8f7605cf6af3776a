// vaultd is the vault ledger daemon and operator CLI: it anchors payload
// digests, snapshots producer state into capsule chains, and replays both
// for audit.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/vault/anchor"
	"xdao.co/vault/config"
	"xdao.co/vault/keys"
	"xdao.co/vault/ledger"
	"xdao.co/vault/storage"
	"xdao.co/vault/storage/grpccas"
	"xdao.co/vault/storage/localfs"
	"xdao.co/vault/vlog"
)

var (
	flagConfig  string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "Deterministic content-addressed vault ledger",
	Long: `vaultd maintains append-only hash chains over canonical records,
addresses payloads by content, and issues signed anchor receipts
(VaultAnchorWrite.v1). Given the same seed and operation sequence it
produces bit-identical hashes, so every chain it writes can be replayed
and audited offline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "vault-data", "data directory")
	rootCmd.AddCommand(serveCmd, anchorCmd, checkpointCmd, verifyCmd, keyCmd)
}

// env assembles the core from config plus flags. The returned close
// function tears down every opened resource.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	log     *ledger.Log
	cas     storage.CAS
	vault   *keys.Vault
	archive *keys.Archive
	closers []func() error
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func openEnv(needKey bool) (*env, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	logger, err := vlog.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger}

	ledgerDir := cfg.Ledger.Dir
	if ledgerDir == "" {
		ledgerDir = filepath.Join(flagDataDir, "ledger")
	}
	log, err := ledger.Open(ledgerDir, ledger.Options{
		Durable: cfg.Anchor.StreamDurable,
		Logger:  logger,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	e.log = log
	e.closers = append(e.closers, log.Close)

	casDir := cfg.Content.Dir
	if casDir == "" {
		casDir = filepath.Join(flagDataDir, "cas")
	}
	local, err := localfs.New(casDir)
	if err != nil {
		e.close()
		return nil, err
	}
	e.cas = local

	if cfg.Content.Mirror != "" {
		remote, err := grpccas.Dial(cfg.Content.Mirror, grpccas.DialOptions{Timeout: 5 * time.Second})
		if err != nil {
			e.close()
			return nil, err
		}
		remote.Timeout = 5 * time.Second
		e.closers = append(e.closers, remote.Close)
		e.cas = storage.Mirrored{Local: local, External: remote}
		logger.Info("content mirroring enabled", zap.String("target", cfg.Content.Mirror))
	}

	archiveDir := cfg.Keys.ArchiveDir
	if archiveDir == "" {
		archiveDir = filepath.Join(flagDataDir, "pubkeys")
	}
	archive, err := keys.OpenArchive(archiveDir)
	if err != nil {
		e.close()
		return nil, err
	}
	e.archive = archive

	if needKey {
		ref := cfg.Anchor.KeyRef
		if ref == "" && cfg.Anchor.KeySource == keys.SourceFile {
			ref = filepath.Join(flagDataDir, "vault.seed")
		}
		vault, err := keys.Load(cfg.Anchor.KeySource, ref)
		if err != nil {
			e.close()
			return nil, err
		}
		if _, err := archive.Put(vault.PublicKey()); err != nil {
			e.close()
			return nil, err
		}
		e.vault = vault
	}
	return e, nil
}

func (e *env) anchorService() (*anchor.Service, error) {
	return anchor.New(e.log, e.cas, e.vault, anchor.Options{Logger: e.logger})
}
