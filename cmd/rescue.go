package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

var rescueListAll bool

var rescueCmd = &cobra.Command{
	Use:   "rescue",
	Short: "Manage the admin rescue queue",
}

var rescueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rescue queue entries (pending by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		status := model.RescueStatusPending
		if rescueListAll {
			status = ""
		}
		entries, err := st.ListRescue(ctx, status)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var rescueResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a rescue entry as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResolveRescue(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("rescue entry resolved", zap.String("id", args[0]))
		return nil
	},
}

func init() {
	rescueListCmd.Flags().BoolVar(&rescueListAll, "all", false, "include resolved entries")
	rescueCmd.AddCommand(rescueListCmd)
	rescueCmd.AddCommand(rescueResolveCmd)
	rootCmd.AddCommand(rescueCmd)
}
