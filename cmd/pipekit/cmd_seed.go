package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/tools"
)

var seedFlags struct {
	path  string
	seed  uint64
	force bool
}

var seedCmd = &cobra.Command{
	Use:   "seed-db",
	Short: "Create the course catalogue demo database",
	Long: "Creates the SQLite database query-to-insight reads: learners, instructors,\n" +
		"courses, enrollments and sessions filled with reproducible random data.",
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedFlags.path, "path", "", "Database file (default: database.path from the config)")
	f.Uint64Var(&seedFlags.seed, "seed", 42, "Random seed")
	f.BoolVar(&seedFlags.force, "force", false, "Replace an existing database")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	path := seedFlags.path
	if path == "" {
		path = cfg.Database.Path
	}
	if _, err := os.Stat(path); err == nil {
		if !seedFlags.force {
			return fmt.Errorf("%s already exists (use --force to replace it)", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove old database: %w", err)
		}
	}

	if err := tools.SeedDemoDatabase(cmd.Context(), path, seedFlags.seed); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s with %d learners\n", path, tools.DemoLearners)
	return nil
}
