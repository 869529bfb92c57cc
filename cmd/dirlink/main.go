// Package main is the CLI entry point for dirlink.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	infra.BundleVersion = Version

	rootCmd.SetArgs(routeArgs(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// routeArgs maps the argument shapes used by external launchers onto
// subcommands: Chrome starts a native host with the caller's origin, and
// some desktops hand a scheme handler the bare URL.
func routeArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	switch {
	case strings.HasPrefix(args[0], "chrome-extension://"):
		return append([]string{"host"}, args...)
	case strings.HasPrefix(args[0], "directory://"):
		return append([]string{"open"}, args...)
	}
	return args
}

var rootCmd = &cobra.Command{
	Use:   "dirlink",
	Short: "Open file:// links from web pages in the file manager",
	Long: `dirlink rewrites file:// links on web pages to directory:// URLs and
opens them in the desktop file manager.

It registers itself as the directory:// scheme handler and as a Chrome
native messaging host, and can drive a live Chrome page with link
interception enabled.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	jsonOutput bool
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log debug output to stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

// runtimeEnv is what most commands need before doing anything.
type runtimeEnv struct {
	mode   *infra.ExecModeConfig
	config *infra.Config
	logger *zap.Logger
}

// loadEnv resolves the per-user data dir, reads config.yaml and builds the
// logger. Settings and the host are per user even under sudo.
func loadEnv() (*runtimeEnv, error) {
	mode := infra.GetUserModeConfig()
	logger := createLogger(mode)

	config, err := infra.LoadConfig(mode.ConfigPath)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &runtimeEnv{mode: mode, config: config, logger: logger}, nil
}

func (e *runtimeEnv) close() {
	_ = e.logger.Sync()
}

// createLogger writes JSON logs to the data dir. Nothing ever goes to
// stdout: for the native host stdout is the protocol stream.
func createLogger(mode *infra.ExecModeConfig) *zap.Logger {
	if verbose {
		config := zap.NewDevelopmentConfig()
		config.OutputPaths = []string{"stderr"}
		if logger, err := config.Build(); err == nil {
			return logger
		}
	}

	if err := os.MkdirAll(mode.DataDir, 0700); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{mode.LogPath}
	config.ErrorOutputPaths = []string{mode.LogPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Production config logs to stderr
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		fmt.Fprintf(out, `{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Fprintf(out, "dirlink %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
