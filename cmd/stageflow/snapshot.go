package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write workflows, stages and tasks to a JSONL snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.Snapshot.Path
			}
			ctx := cmd.Context()
			database, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.ExportSnapshot(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "snapshot file (defaults to config)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge a JSONL snapshot into the database, matching records by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = a.cfg.Snapshot.Path
			}
			ctx := cmd.Context()
			database, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.ImportSnapshot(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported snapshot from %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "snapshot file (defaults to config)")
	return cmd
}
