package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ldi/stageflow/internal/config"
	"github.com/ldi/stageflow/internal/db"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create the .stageflow directory, config and database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetDir := "."
			if len(args) > 0 {
				targetDir = args[0]
			}
			return a.runInit(cmd, targetDir)
		},
	}
}

// inDir resolves a relative configured path against the target directory.
func inDir(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (a *app) runInit(cmd *cobra.Command, targetDir string) error {
	out := cmd.OutOrStdout()

	stageDir := filepath.Join(targetDir, config.Dir)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.Dir, err)
	}
	fmt.Fprintf(out, "✓ Created %s/ directory\n", config.Dir)

	gitignorePath := filepath.Join(stageDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("stageflow.db*\nlogs/\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Fprintf(out, "✓ Created %s/.gitignore\n", config.Dir)

	configPath := filepath.Join(stageDir, config.FileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return fmt.Errorf("failed to encode default config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Fprintf(out, "✓ Wrote default config to %s\n", configPath)
	}

	dbPath := inDir(targetDir, a.cfg.DB.Path)
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Fprintf(out, "✓ Initialized database at %s\n", dbPath)

	snapshotPath := inDir(targetDir, a.cfg.Snapshot.Path)
	if _, err := os.Stat(snapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, snapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Fprintf(out, "✓ Imported snapshot from %s\n", snapshotPath)
	}

	fmt.Fprintln(out, "✓ Stageflow initialized successfully")
	return nil
}
