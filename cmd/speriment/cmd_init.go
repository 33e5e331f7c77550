package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"speriment/internal/config"
)

var initForce bool

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default speriment.yaml",
	Long: `Writes the default configuration to the config path so it can be edited.
An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolvePath(configPath)
	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (use --force to overwrite)\n", path)
		return nil
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	logger.Info("Wrote default config")
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
