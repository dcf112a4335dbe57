package main

import (
	"fmt"
	"time"

	"deployhook/internal/workspace"

	"github.com/spf13/cobra"
)

var pruneTTL time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale workspaces",
	Long: `Remove workspace directories that have not been rebuilt for longer than --ttl.

Defaults to WORKSPACE_TTL. Run it while the server is idle: a running server prunes on its own
and skips workspaces with a deployment in progress, this command cannot see those locks.`,
	Example: `  deployhook prune --ttl 72h`,
	RunE:    runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneTTL, "ttl", 0, "Minimum workspace age to remove (default: WORKSPACE_TTL)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := pruneTTL
	if ttl == 0 {
		ttl = cfg.WorkspaceTTL
	}
	if ttl <= 0 {
		return fmt.Errorf("no TTL given: pass --ttl or set WORKSPACE_TTL")
	}

	workspaces, err := workspace.New(cfg.WorkDir, consoleLogger(cfg.LogLevel))
	if err != nil {
		return err
	}

	removed, err := workspaces.Prune(cmd.Context(), workspace.PruneOptions{TTL: ttl})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range removed {
		fmt.Fprintf(out, "Removed %s\n", name)
	}
	fmt.Fprintf(out, "Pruned %d workspace(s) older than %s\n", len(removed), ttl)
	return nil
}
