package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func newDiagnoseStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose-storage",
		Short: "check the image bucket and upload a probe object",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			up, err := newUploader(ctx, cfg.Storage, log)
			if err != nil {
				return err
			}
			rep := up.Diagnose(ctx)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.OK() {
				return errors.New("storage diagnostics failed")
			}
			return nil
		},
	}
}
