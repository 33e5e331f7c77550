package main

import (
	"context"
	"fmt"
	"math/rand"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"speriment/internal/definition"
	"speriment/internal/engine"
	"speriment/internal/record"
	"speriment/internal/store"
	"speriment/internal/tui"
)

var (
	runVersion     int
	runPermutation int
	runSeed        int64
)

// runCmd takes one participant through the experiment
var runCmd = &cobra.Command{
	Use:   "run [definition]",
	Short: "Run one participant session in the terminal",
	Long: `Assigns a version and permutation (from flags, or the configured
assignment strategy), runs the experiment in the terminal and stores every
trial in the SQLite database. Quitting early keeps the trials answered so
far as partial rows.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSession,
}

func init() {
	runCmd.Flags().IntVar(&runVersion, "version", -1, "Latin-square version (default: assigned)")
	runCmd.Flags().IntVar(&runPermutation, "permutation", -1, "Counterbalance permutation (default: assigned)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed (default: config, then clock)")
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	def, path, err := loadDefinition(args)
	if err != nil {
		return err
	}

	st, err := store.Open(resolvePath(cfg.Storage.DatabasePath))
	if err != nil {
		return err
	}
	defer st.Close()

	rng := newRand(runSeed)
	assignment, err := assign(ctx, st, def, rng)
	if err != nil {
		return err
	}

	id, err := st.NewSession(ctx, cfg.Study.Name, assignment.Version, assignment.Permutation)
	if err != nil {
		return err
	}
	logger.Info("Starting session",
		zap.String("session", id),
		zap.String("definition", path),
		zap.Int("version", assignment.Version),
		zap.Int("permutation", assignment.Permutation))

	journal := st.Journal(id)
	screen := tui.NewScreen()
	session, err := engine.New(def, engine.Options{
		Version:     assignment.Version,
		Permutation: assignment.Permutation,
		Rand:        rng,
		Renderer:    screen,
		Sink:        st.Sink(id),
		Observers:   []record.Observer{journal},
	})
	if err != nil {
		return err
	}

	program := tea.NewProgram(tui.NewModel(session, screen, tui.Options{}), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("terminal session failed: %w", err)
	}
	if jerr := journal.Err(); jerr != nil {
		logger.Warn("Progress journal incomplete", zap.Error(jerr))
	}

	m := final.(tui.Model)
	out := cmd.OutOrStdout()
	switch {
	case m.Err() != nil:
		return fmt.Errorf("session %s: %w", id, m.Err())
	case m.Aborted():
		fmt.Fprintf(out, "session %s stopped early; %d trials kept as partial progress\n", id, session.Record().Len())
	default:
		fmt.Fprintf(out, "session %s complete: %d trials stored\n", id, session.Record().Len())
	}
	return nil
}

// assign picks the participant's version and permutation: explicit flags
// win, then the configured strategy.
func assign(ctx context.Context, st *store.Store, def *definition.Experiment, rng *rand.Rand) (store.Assignment, error) {
	versions, permutations := assignmentSpace(def)

	var a store.Assignment
	switch {
	case runVersion >= 0 && runPermutation >= 0:
	case cfg.Assignment.Strategy == "random":
		a = store.Assignment{Version: rng.Intn(versions), Permutation: rng.Intn(permutations)}
	default:
		var err error
		if a, err = st.NextAssignment(ctx, cfg.Study.Name, versions, permutations); err != nil {
			return store.Assignment{}, err
		}
	}
	if runVersion >= 0 {
		a.Version = runVersion
	}
	if runPermutation >= 0 {
		a.Permutation = runPermutation
	}
	return a, nil
}
