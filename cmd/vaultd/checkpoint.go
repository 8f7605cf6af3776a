package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/vault/canonical"
	"xdao.co/vault/checkpoint"
	"xdao.co/vault/cidutil"
)

var (
	flagTick      int64
	flagStateFile string
	flagMetaFile  string
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Checkpoint operations",
}

var checkpointSnapshotCmd = &cobra.Command{
	Use:   "snapshot <stream-id>",
	Short: "Commit one capsule from a canonical state file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(false)
		if err != nil {
			return err
		}
		defer e.close()

		state, err := loadRecord(flagStateFile)
		if err != nil {
			return err
		}
		meta := map[string]any{}
		if flagMetaFile != "" {
			meta, err = loadRecord(flagMetaFile)
			if err != nil {
				return err
			}
		}

		codec, err := cidutil.ParseCodec(e.cfg.Content.Codec)
		if err != nil {
			return err
		}
		enforce, err := checkpoint.ParseSeqEnforce(e.cfg.Checkpoint.SeqEnforce)
		if err != nil {
			return err
		}
		engine := checkpoint.New(e.log, e.cas, checkpoint.Options{
			Codec:   codec,
			Enforce: enforce,
			Logger:  e.logger,
		})

		res, err := engine.Snapshot(cmd.Context(), args[0], flagTick, state, meta)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// loadRecord parses a JSON file through the canonicalizer's parser, so the
// same scalar rules apply at the CLI boundary as in the library.
func loadRecord(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return canonical.Parse(data)
}

func init() {
	checkpointSnapshotCmd.Flags().Int64Var(&flagTick, "tick", 0, "producer-supplied monotonic tick")
	checkpointSnapshotCmd.Flags().StringVar(&flagStateFile, "state", "", "canonical state JSON file")
	checkpointSnapshotCmd.Flags().StringVar(&flagMetaFile, "meta", "", "producer metadata JSON file (optional)")
	_ = checkpointSnapshotCmd.MarkFlagRequired("state")
	checkpointCmd.AddCommand(checkpointSnapshotCmd)
}
