package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"speriment/internal/config"
	"speriment/internal/definition"
	"speriment/internal/logging"
	"speriment/internal/ordering"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "speriment",
	Short: "speriment - presentation order and adaptive progression for experiments",
	Long: `speriment runs survey and psycholinguistic experiments described in a
JSON or YAML definition: nested blocks, Latin-square versions,
counterbalanced and exchangeable block orders, pseudorandomized items,
training loops that repeat until a criterion is met, and run-if branching.

Participants take the experiment in the terminal; every trial is stored in
SQLite and can be exported as tab-separated rows.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(resolvePath(configPath))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if err := logging.Initialize(cfg.Logging.Options(workspaceDir())); err != nil {
			return err
		}
		if verbose {
			logging.Attach(logger.Core())
		}
		logging.Boot("speriment %s: config=%s study=%s", cmd.Name(), configPath, cfg.Study.Name)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "speriment.yaml", "Config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func workspaceDir() string {
	if workspace != "" {
		return workspace
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// resolvePath anchors relative paths at the workspace.
func resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspaceDir(), p)
}

// loadDefinition reads the definition named by the first argument, or the
// configured one.
func loadDefinition(args []string) (*definition.Experiment, string, error) {
	path := cfg.Study.Definition
	if len(args) > 0 {
		path = args[0]
	}
	path = resolvePath(path)
	def, err := definition.Load(path)
	if err != nil {
		return nil, path, err
	}
	return def, path, nil
}

// assignmentSpace returns how many versions and permutations a definition
// distinguishes. A configured condition count overrides the derived one.
func assignmentSpace(def *definition.Experiment) (versions, permutations int) {
	versions = def.Conditions()
	if cfg != nil && cfg.Assignment.Conditions > 0 {
		versions = cfg.Assignment.Conditions
	}
	return versions, ordering.Factorial(def.CounterbalanceSize())
}

// newRand seeds from the flag, then the config, then the clock.
func newRand(seed int64) *rand.Rand {
	if seed == 0 && cfg != nil {
		seed = cfg.Session.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
