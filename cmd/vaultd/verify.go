package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/vault/model"
	"xdao.co/vault/verify"
)

var (
	flagJSONOut     string
	flagReceiptFile string
	flagFingerprint string
	flagCapsules    bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Offline verification of streams and receipts",
}

var verifyStreamCmd = &cobra.Command{
	Use:   "stream <stream-id>",
	Short: "Replay a stream and report every defect",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(false)
		if err != nil {
			return err
		}
		defer e.close()

		v := &verify.Verifier{Log: e.log, CAS: e.cas, Logger: e.logger}
		var report verify.Report
		if flagCapsules {
			report, err = v.VerifyCapsuleChain(cmd.Context(), args[0], nil)
		} else {
			report, err = v.VerifyStream(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}

		if flagJSONOut != "" {
			if err := writeReportJSON(flagJSONOut, report); err != nil {
				return err
			}
		}
		for _, entry := range report.Entries {
			if entry.OK {
				fmt.Printf("ok   seq=%d\n", entry.Seq)
			} else {
				fmt.Printf("FAIL seq=%d %s: %s\n", entry.Seq, entry.Reason, entry.Detail)
			}
		}
		if report.Broken {
			return fmt.Errorf("stream %s is BROKEN", report.Stream)
		}
		fmt.Printf("stream %s verified (%d entries)\n", report.Stream, len(report.Entries))
		return nil
	},
}

// writeReportJSON exports per-entry verdicts as JSON lines, one verdict per
// line, for downstream ledger tooling.
func writeReportJSON(path string, report verify.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, entry := range report.Entries {
		if err := enc.Encode(entry); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

var verifyReceiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Verify a sealed receipt against an archived public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(false)
		if err != nil {
			return err
		}
		defer e.close()

		data, err := os.ReadFile(flagReceiptFile)
		if err != nil {
			return err
		}
		var receipt model.AnchorReceipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return err
		}

		fingerprint := flagFingerprint
		if fingerprint == "" {
			fingerprint = receipt.VaultFingerprint
		}
		pub, err := e.archive.Get(fingerprint)
		if err != nil {
			return err
		}
		if err := verify.VerifyReceipt(receipt, ed25519.PublicKey(pub)); err != nil {
			return err
		}
		fmt.Printf("receipt %s verified against %s\n", receipt.AnchorID, hex.EncodeToString(pub)[:16])
		return nil
	},
}

func init() {
	verifyStreamCmd.Flags().StringVar(&flagJSONOut, "json", "", "also write per-entry verdicts to this file as JSON lines")
	verifyStreamCmd.Flags().BoolVar(&flagCapsules, "capsules", false, "additionally check capsule parent linkage")
	verifyReceiptCmd.Flags().StringVar(&flagReceiptFile, "receipt", "", "receipt JSON file")
	verifyReceiptCmd.Flags().StringVar(&flagFingerprint, "fingerprint", "", "archived fingerprint (defaults to the receipt's)")
	_ = verifyReceiptCmd.MarkFlagRequired("receipt")
	verifyCmd.AddCommand(verifyStreamCmd, verifyReceiptCmd)
}
