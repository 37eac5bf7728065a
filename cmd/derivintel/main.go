package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "derivintel"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	applyLogLevel(os.Getenv("LOG_LEVEL"))

	root := &cobra.Command{
		Use:     appName,
		Short:   "Derivatives open-interest and liquidation-cascade intelligence platform",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and the read-only HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	serveCmd.Flags().Int("port", 8090, "HTTP listen port")
	serveCmd.Flags().StringSlice("symbols", []string{"BTC", "ETH", "SOL"}, "Symbols to aggregate and watch for cascades")
	serveCmd.Flags().Bool("progress", false, "Print a step-by-step startup progress indicator")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's /health endpoint",
		RunE:  runHealth,
	}
	healthCmd.Flags().String("addr", "http://127.0.0.1:8090", "Base URL of a running instance")

	reloadCmd := &cobra.Command{
		Use:   "reload-config [path]",
		Short: "Validate a threshold config file the way the live reloader would",
		Args:  cobra.ExactArgs(1),
		RunE:  runReloadConfig,
	}

	root.AddCommand(serveCmd, healthCmd, reloadCmd)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func applyLogLevel(level string) {
	switch level {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "", "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("LOG_LEVEL", level).Msg("unrecognized log level, defaulting to INFO")
	}
}
