package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/vault/model"
)

var (
	flagArtifactKind string
	flagPayloadHash  string
	flagRunID        string
	flagOperator     string
	flagTS           string
)

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Anchor operations",
}

var anchorWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Seal one anchor receipt for an already-hashed payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(true)
		if err != nil {
			return err
		}
		defer e.close()

		svc, err := e.anchorService()
		if err != nil {
			return err
		}
		defer svc.Teardown()

		ts := flagTS
		if ts == "" {
			ts = time.Now().UTC().Format("2006-01-02T15:04:05Z")
		}
		receipt, err := svc.WriteAnchor(cmd.Context(), model.AnchorRequest{
			SchemaVersion:     model.SchemaAnchorRequest,
			ArtifactKind:      flagArtifactKind,
			PayloadHashSHA256: flagPayloadHash,
			RunID:             flagRunID,
			Operator:          flagOperator,
			TS:                ts,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(receipt)
	},
}

var anchorStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Print the anchor stream name for the loaded key",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(true)
		if err != nil {
			return err
		}
		defer e.close()
		svc, err := e.anchorService()
		if err != nil {
			return err
		}
		defer svc.Teardown()
		fmt.Println(svc.Stream())
		return nil
	},
}

func init() {
	anchorWriteCmd.Flags().StringVar(&flagArtifactKind, "artifact-kind", "", "artifact kind, e.g. InferenceReceipt.v1")
	anchorWriteCmd.Flags().StringVar(&flagPayloadHash, "payload-hash", "", "sha-256 of the payload, 64 lowercase hex chars")
	anchorWriteCmd.Flags().StringVar(&flagRunID, "run-id", "", "producer run id")
	anchorWriteCmd.Flags().StringVar(&flagOperator, "operator", "", "operator identity")
	anchorWriteCmd.Flags().StringVar(&flagTS, "ts", "", "request timestamp (ISO-8601 UTC; defaults to now)")
	_ = anchorWriteCmd.MarkFlagRequired("artifact-kind")
	_ = anchorWriteCmd.MarkFlagRequired("payload-hash")
	_ = anchorWriteCmd.MarkFlagRequired("run-id")
	_ = anchorWriteCmd.MarkFlagRequired("operator")
	anchorCmd.AddCommand(anchorWriteCmd, anchorStreamCmd)
}
