package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"speriment/internal/definition"
	"speriment/internal/engine"
	"speriment/internal/logging"
)

var (
	validateAll   bool
	validateWatch bool
	validateSeed  int64
)

// validateCmd checks that a definition loads and builds
var validateCmd = &cobra.Command{
	Use:   "validate [definition]",
	Short: "Check that a definition loads and builds",
	Long: `Loads the definition and builds a participant tree from it. With --all a
tree is built for every (version, permutation) pair, in parallel, which
catches uneven Latin-square groups and unsatisfiable pseudorandomization
that only some assignments hit. With --watch the check reruns whenever the
file changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateAll, "all", false, "Build every version and permutation")
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false, "Re-validate when the file changes")
	validateCmd.Flags().Int64Var(&validateSeed, "seed", 0, "Random seed for the builds")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := cfg.Study.Definition
	if len(args) > 0 {
		path = args[0]
	}
	path = resolvePath(path)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !validateWatch {
		return validateFile(ctx, path, cmd.OutOrStdout())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchDefinition(ctx, path, cmd.OutOrStdout())
}

// validateFile loads path and builds the requested assignments, printing a
// one-line verdict.
func validateFile(ctx context.Context, path string, out io.Writer) error {
	def, err := definition.Load(path)
	if err != nil {
		fmt.Fprintf(out, "invalid: %v\n", err)
		return err
	}

	versions, permutations := 1, 1
	if validateAll {
		versions, permutations = assignmentSpace(def)
	}
	if err := buildAll(ctx, def, versions, permutations); err != nil {
		fmt.Fprintf(out, "invalid: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "ok: %s (%d version(s) x %d permutation(s))\n", filepath.Base(path), versions, permutations)
	return nil
}

// buildAll constructs a participant tree for every pair in the space.
func buildAll(ctx context.Context, def *definition.Experiment, versions, permutations int) error {
	timer := logging.StartTimer(logging.CategoryDefinition, "buildAll")
	defer timer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for v := 0; v < versions; v++ {
		for p := 0; p < permutations; p++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				_, err := engine.New(def, engine.Options{
					Version:     v,
					Permutation: p,
					Rand:        newRand(validateSeed + int64(v*permutations+p)),
				})
				if err != nil {
					return fmt.Errorf("version %d permutation %d: %w", v, p, err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// watchDefinition validates path now and again after every change until
// ctx is done. Its directory is watched so that editors that replace the
// file are noticed.
func watchDefinition(ctx context.Context, path string, out io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logging.Definition("watching %s", path)

	_ = validateFile(ctx, path, out)

	// Saves arrive as bursts of events; validate once the burst settles.
	const settle = 150 * time.Millisecond
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logging.Get(logging.CategoryDefinition).Debug("%s: %s", event.Op, event.Name)
			pending = time.After(settle)

		case <-pending:
			pending = nil
			_ = validateFile(ctx, path, out)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(err))
		}
	}
}
