package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/soaringjerry/surveyledger/internal/config"
	"github.com/soaringjerry/surveyledger/internal/utils"
)

const programName = "surveyledger"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

// commonRun installs the JSON logger and sizes GOMAXPROCS to the container.
func commonRun(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	addSource := false
	if globalFlags.debug || (cfg != nil && cfg.Debug) {
		level = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
	}))
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("starting", "component", programName, "commit", utils.SafeEnv("SURVEYLEDGER_COMMIT", "dev"))
	return logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Survey response moderation and incentive ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd, config.FromContext(cmd.Context()))
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default $SURVEYLEDGER_CONFIG)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := utils.LoadDotEnv(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		if configFile == "" {
			configFile = utils.SafeEnv("SURVEYLEDGER_CONFIG", "")
		}
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(leaderboardCommand())

	if err := rootCmd.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
