package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xdao.co/vault/keys"
)

var (
	flagSeedOut   string
	flagOverwrite bool
	flagPQOut     string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Vault key lifecycle",
}

var keyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a vault seed and archive its public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagSeedOut
		if path == "" {
			path = filepath.Join(flagDataDir, "vault.seed")
		}

		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return err
		}
		if err := keys.SaveSeedFile(path, seed, flagOverwrite); err != nil {
			return err
		}
		vault, err := keys.FromSeed(seed)
		if err != nil {
			return err
		}
		defer vault.Zeroize()

		archive, err := keys.OpenArchive(filepath.Join(flagDataDir, "pubkeys"))
		if err != nil {
			return err
		}
		fp, err := archive.Put(vault.PublicKey())
		if err != nil {
			return err
		}
		fmt.Printf("seed written to %s\nvault_fingerprint: %s\n", path, fp)
		return nil
	},
}

var keyFingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the fingerprint of the configured key",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(true)
		if err != nil {
			return err
		}
		defer e.close()
		defer e.vault.Zeroize()
		fmt.Println(e.vault.Fingerprint())
		return nil
	},
}

var keyPQCmd = &cobra.Command{
	Use:   "pq-generate",
	Short: "Generate a Dilithium3 co-signing keypair for long-horizon receipt exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := keys.GenerateDilithium3Keypair(rand.Reader)
		if err != nil {
			return err
		}
		pubBytes, err := pub.MarshalBinary()
		if err != nil {
			return err
		}
		privBytes, err := priv.MarshalBinary()
		if err != nil {
			return err
		}
		out := flagPQOut
		if out == "" {
			out = filepath.Join(flagDataDir, "pq")
		}
		if err := os.MkdirAll(out, 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(out, "dilithium3.pub"),
			[]byte(base64.StdEncoding.EncodeToString(pubBytes)+"\n"), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(out, "dilithium3.key"),
			[]byte(base64.StdEncoding.EncodeToString(privBytes)+"\n"), 0o600); err != nil {
			return err
		}
		fmt.Printf("dilithium3 keypair written to %s\n", out)
		return nil
	},
}

func init() {
	keyInitCmd.Flags().StringVar(&flagSeedOut, "out", "", "seed file path (default <data-dir>/vault.seed)")
	keyInitCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "overwrite an existing seed file")
	keyPQCmd.Flags().StringVar(&flagPQOut, "out", "", "output directory (default <data-dir>/pq)")
	keyCmd.AddCommand(keyInitCmd, keyFingerprintCmd, keyPQCmd)
}
