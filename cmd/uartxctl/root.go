package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-uartcore/config"
)

// Version information, set at link time.
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	cfg     *config.Config
	logger  *log.Logger
	runID   string
)

var rootCmd = &cobra.Command{
	Use:   "uartxctl",
	Short: "Exercise the uartx interrupt-driven UART core",
	Long: `uartxctl drives the uartx port controller from a host.

Standard UART ports run on a software model of the peripheral, so the interrupt
handler, ring buffers and blocking helpers can be checked without a board. Port 3
can be backed by a real USB serial device through the bridge transport.

Quick Start:
  uartxctl selftest          # loopback self-test on simulated port 0
  uartxctl integrity         # full-duplex pattern test between ports 0 and 1
  uartxctl scan              # list host serial devices
  uartxctl bridge --echo     # echo everything received on the bridge`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{.Name}} version {{.Version}}
commit: ` + commit + `
`)
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
}

// setup loads the configuration and the logger before any subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	var err error
	cfg, err = config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}

	runID = uuid.NewString()
	logger = log.New(out, "["+runID[:8]+"] ", log.LstdFlags)
	return nil
}

// debugLogger returns the logger when driver lifecycle logging was asked for, else nil.
func debugLogger() *log.Logger {
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		return logger
	}
	return nil
}

// warnf logs unless the level is "error".
func warnf(format string, args ...any) {
	if !strings.EqualFold(cfg.Logging.Level, "error") {
		logger.Printf(format, args...)
	}
}
