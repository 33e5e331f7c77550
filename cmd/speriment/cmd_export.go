package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"speriment/internal/store"
)

var (
	exportSession string
	exportOutput  string
)

// exportCmd dumps stored trials
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored trials as tab-separated rows",
	Long: `Writes one row per trial with a header: session, page, timing, selections
and correctness, followed by one column per page, item and option tag.
Trials of sessions that never finished are marked partial.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportSession, "session", "", "Session id (default: every session)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(resolvePath(cfg.Storage.DatabasePath))
	if err != nil {
		return err
	}
	defer st.Close()

	if exportSession != "" {
		if _, err := st.Session(ctx, exportSession); err != nil {
			return err
		}
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(resolvePath(exportOutput))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}

	n, err := st.Export(ctx, exportSession, out)
	if err != nil {
		return err
	}
	logger.Info("Exported trials", zap.Int("rows", n), zap.String("session", exportSession))
	if exportOutput != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d trials to %s\n", n, exportOutput)
	}
	return nil
}
