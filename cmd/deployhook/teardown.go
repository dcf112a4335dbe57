package main

import (
	"fmt"

	"deployhook/internal/security"

	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown <containerName>",
	Short: "Stop and remove a preview container",
	Long: `Stop and remove one container by name, the same cleanup a closed pull request triggers.

A container that does not exist is not an error. The workspace is left for the pruner.`,
	Example: `  deployhook teardown preview-feature-login
  deployhook teardown preview-pr-42`,
	Args: cobra.ExactArgs(1),
	RunE: runTeardown,
}

func runTeardown(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := security.ValidateContainerName(name); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg.LogLevel)

	client, err := connectDocker(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := newOrchestrator(cfg, client, logger).Cleanup(cmd.Context(), name); err != nil {
		return fmt.Errorf("teardown %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
	return nil
}
