package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gosshield/common"
	"gosshield/config"
)

const versionString = "gosshield 0.1"

var (
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "gosshield",
	Short:   "Build C programs with anti-debugging and anti-analysis defenses",
	Version: versionString,
	Long: `gosshield takes a C source, assembly, object or executable file and
advances it through compile, assemble and link, injecting each selected
defense at the stage where it applies:

  source      check-remote-debugger (windows), ptrace-deny-attach (linux, mac),
              breakpoint-detection
  object      strip-symbols
  executable  header-entrypoint, encryption-wrapper, strip-symbols`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("config") {
			if _, err := os.Stat(configPath); err != nil {
				return fmt.Errorf("config file: %w", err)
			}
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		zc := zap.NewProductionConfig()
		if cfg.Logging.Development {
			zc = zap.NewDevelopmentConfig()
		}
		level, err := cfg.LogLevel()
		if err != nil {
			return err
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zc.Level = zap.NewAtomicLevelAt(level)
		if logger, err = zc.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(techniquesCmd)
	rootCmd.AddCommand(inspectCmd)
}

// resolveOS prefers the --os flag over the configuration.
func resolveOS(flag string) (common.OS, error) {
	if flag == "" {
		return cfg.ResolvedOS(), nil
	}
	target := common.ParseOS(flag)
	if target == common.Other {
		return "", fmt.Errorf("unknown os %q (valid: windows, linux, mac)", flag)
	}
	return target, nil
}

// selection prefers --technique flags over the configured default.
func selection(names []string) (common.Selection, error) {
	if len(names) == 0 {
		return cfg.Selection()
	}
	return common.NewSelection(names...)
}

func exitCode(err error) int {
	switch {
	case common.IsInputError(err), errors.Is(err, common.ErrGenerationInProgress):
		return 2
	case common.IsToolchainError(err):
		return 3
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(exitCode(err))
	}
}
