package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/guildplay/internal/config"
	"github.com/friendsincode/guildplay/internal/logbuffer"
	"github.com/friendsincode/guildplay/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "guildplay",
	Short: "Guildplay - multi-guild Discord music playback",
	Long:  "Guildplay joins Discord voice channels and plays queued tracks, searches and playlists independently for every guild.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and start the HTTP surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and sets up logging. Tooling commands skip
// the token requirement.
func loadConfig(tooling bool) error {
	var err error
	if tooling {
		cfg, err = config.LoadTooling()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(cfg.LogBufferSize)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	return nil
}
