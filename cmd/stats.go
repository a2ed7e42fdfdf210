package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/memphis-civic/cascade-cli/internal/monitoring"
)

var statsLookbackHours int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report cascade health over recent batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Stats only reads the store; no API key needed.
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, statsLookbackHours)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsLookbackHours, "lookback", 24, "lookback window in hours")
	rootCmd.AddCommand(statsCmd)
}
