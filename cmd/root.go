package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/devswitch/internal/config"
	"github.com/jrick/logrotate/rotator"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	logFile      string

	logRotator *rotator.Rotator
)

var rootCmd = &cobra.Command{
	Use:   "devswitch",
	Short: "Live audio device switching for playout and recording",
	Long: `devswitch keeps the active playout and recording devices of an audio
engine in line with what you ask for and with what the operating system
reports.

Switches requested from the command line or the HTTP API and default
device changes reported by PipeWire/PulseAudio are serialized behind one
lock, resolved against the current device list and applied with a full
stop, select, init and start cycle. Unknown devices fall back to the
default communication device.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}

		// Configure slog based on verbose level and the log section
		return setupLogging(verboseLevel, cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logRotator != nil {
			logRotator.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/devswitch.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=config level, 1=debug, 2=debug with sound server tracing")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated (overrides log.file)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the selected profile. A missing default config file means
// built-in defaults; a missing explicit one is an error.
func loadConfig() (*config.Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = config.DefaultConfigPath()
	}

	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) && !explicit {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' requested but %s does not exist", profile, cfgFile)
		}
		return config.DefaultConfig(), nil
	}

	c, err := config.LoadWithProfile(cfgFile, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return c, nil
}

// setupLogging configures slog based on the verbose level and log config
func setupLogging(level int, logCfg config.LogConfig) error {
	var slogLevel slog.Level
	switch {
	case level >= 1:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = parseLevel(logCfg.Level)
	}

	var w io.Writer = os.Stderr
	path := logFile
	if path == "" {
		path = logCfg.File
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		maxSize, maxRolls := int64(logCfg.MaxSizeKB), logCfg.MaxRolls
		if maxSize <= 0 {
			maxSize = 1024
		}
		if maxRolls <= 0 {
			maxRolls = 10
		}
		r, err := rotator.New(path, maxSize, false, maxRolls)
		if err != nil {
			return fmt.Errorf("failed to create file rotator: %w", err)
		}
		logRotator = r
		w = io.MultiWriter(os.Stderr, r)
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(w, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Sound server tracing for level 2
	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
		os.Setenv("PULSE_LOG", "4")
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
