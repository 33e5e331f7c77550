package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"speriment/internal/engine"
)

var (
	orderVersion     int
	orderPermutation int
	orderSeed        int64
	orderResponder   string
	orderLimit       int
	orderRecords     bool
)

// orderCmd prints the presentation order one participant would see
var orderCmd = &cobra.Command{
	Use:   "order [definition]",
	Short: "Print the page order for one assignment",
	Long: `Runs a headless session with an automatic responder and prints every page
in the order it was shown. Responders:
  first    always picks the first offered option
  correct  picks a correct option when one is declared
  random   picks an offered option at random

Training blocks that never reach their criterion repeat until their cutoff,
so pair "first" or "random" with a cutoff or a --limit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOrder,
}

func init() {
	orderCmd.Flags().IntVar(&orderVersion, "version", 0, "Latin-square version")
	orderCmd.Flags().IntVar(&orderPermutation, "permutation", 0, "Counterbalance permutation")
	orderCmd.Flags().Int64Var(&orderSeed, "seed", 0, "Random seed (default: config, then clock)")
	orderCmd.Flags().StringVar(&orderResponder, "responder", "correct", "Automatic responder: first, correct, random")
	orderCmd.Flags().IntVar(&orderLimit, "limit", 10000, "Maximum number of pages to show")
	orderCmd.Flags().BoolVar(&orderRecords, "records", false, "Print the trial records as JSON lines instead")
}

func runOrder(cmd *cobra.Command, args []string) error {
	def, _, err := loadDefinition(args)
	if err != nil {
		return err
	}

	rng := newRand(orderSeed)
	var responder engine.Responder
	switch orderResponder {
	case "first":
		responder = engine.FirstOption
	case "correct":
		responder = engine.CorrectOption
	case "random":
		responder = engine.RandomOption(rng)
	default:
		return fmt.Errorf("unknown responder %q (valid: first, correct, random)", orderResponder)
	}

	session, err := engine.New(def, engine.Options{
		Version:     orderVersion,
		Permutation: orderPermutation,
		Rand:        rng,
	})
	if err != nil {
		return err
	}
	views, err := engine.Drive(session, responder, orderLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if orderRecords {
		enc := json.NewEncoder(out)
		for _, tr := range session.Record().Records() {
			if err := enc.Encode(tr); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPAGE\tKIND\tBLOCKS")
	for i, v := range views {
		kind := v.Kind.String()
		if v.Feedback {
			kind = "feedback"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, v.ID, kind, strings.Join(v.BlockIDs, " < "))
	}
	return tw.Flush()
}
