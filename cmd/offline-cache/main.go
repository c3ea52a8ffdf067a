package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag string
	verbosityFlag      int
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

var rootCmd = &cobra.Command{
	Use:   "offline-cache",
	Short: "Offline cache and mutation queue for the task app",
	Long: `offline-cache sits between the task app and its origin.

It precaches the application shell, answers from versioned cache partitions
when the origin is unreachable, queues mutations made while offline and
replays them when the connection is back.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configFilenameFlag, "config", "", "Path to config file")
	rootCmd.PersistentFlags().CountVarP(&verbosityFlag, "verbose", "v", "Verbosity: -v for debug, -vv for trace logging")
	rootCmd.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	rootCmd.AddCommand(serveCmd, queueCmd, partitionsCmd)
}

// setupLogging configures the global logger.
func setupLogging() error {
	// set log level
	logLevel := zerolog.InfoLevel
	switch {
	case verbosityFlag >= 2:
		logLevel = zerolog.TraceLevel
	case verbosityFlag == 1:
		logLevel = zerolog.DebugLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
