package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nlsukhde/ipod-format/internal/config"
	"github.com/nlsukhde/ipod-format/internal/logging"
)

var version = "dev"

// Exit codes.
const (
	exitOK           = 0
	exitTrackFailure = 1
	exitUsage        = 2
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "ipodprep [paths...]",
	Short: "Convert audio files to iPod-ready MP3s",
	Long: `ipodprep converts audio files and folders into MP3 (CBR 320 kbps) with a
single normalized front cover and ID3 v2.3 tags. Converted files are placed
next to their sources, which are moved to the trash (or deleted) once the
output has been validated.

Examples:
  ipodprep --dry-run ~/Music/Incoming
  ipodprep -j 8 --collision version album1/ album2/track.flac
  ipodprep --no-replace --runs-dir /var/log/ipodprep song.m4a
  ipodprep history --limit 10`,
	Version:       version,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to settings YAML (default: "+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: info or debug (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs on stderr")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError("%v", err)
	})
}

// exitError carries the process exit code. An empty message means the
// outcome has already been reported.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

// loadConfig reads the config file and applies --log-level, then sets up
// logging.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if logLevel != "" {
		if logLevel != "info" && logLevel != "debug" {
			return nil, zerolog.Nop(), usageError("--log-level must be 'info' or 'debug'")
		}
		cfg.Logging.Level = logLevel
	}

	logger := logging.Setup(cfg.Logging.Level, jsonLogs)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
		}
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}
