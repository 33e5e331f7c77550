package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"speriment/internal/store"
)

var (
	assignStudy        string
	assignParticipants int
)

// assignCmd reserves balanced assignments ahead of time
var assignCmd = &cobra.Command{
	Use:   "assign [definition]",
	Short: "Reserve the next balanced version/permutation assignments",
	Long: `Hands out the next N (version, permutation) pairs, each time choosing the
pair given out least often for the study. The counters live in the store,
so runs and assignments share one rotation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssign,
}

func init() {
	assignCmd.Flags().StringVar(&assignStudy, "study", "", "Study name (default: config)")
	assignCmd.Flags().IntVarP(&assignParticipants, "participants", "n", 1, "Number of assignments to reserve")
}

func runAssign(cmd *cobra.Command, args []string) error {
	if assignParticipants < 1 {
		return fmt.Errorf("--participants must be at least 1")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	def, _, err := loadDefinition(args)
	if err != nil {
		return err
	}
	versions, permutations := assignmentSpace(def)

	study := assignStudy
	if study == "" {
		study = cfg.Study.Name
	}

	st, err := store.Open(resolvePath(cfg.Storage.DatabasePath))
	if err != nil {
		return err
	}
	defer st.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tVERSION\tPERMUTATION")
	for i := 0; i < assignParticipants; i++ {
		a, err := st.NextAssignment(ctx, study, versions, permutations)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\n", i+1, a.Version, a.Permutation)
	}
	return tw.Flush()
}
