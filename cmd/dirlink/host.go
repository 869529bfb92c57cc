package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/daemon"
	"github.com/eliteGoblin/focusd/dirlink/internal/dispatch"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
	"github.com/eliteGoblin/focusd/dirlink/internal/usecase"
)

var hostCmd = &cobra.Command{
	Use:   "host [origin]",
	Short: "Run the Chrome native messaging host",
	Long: `Reads rewrite requests from stdin and answers on stdout using the
Chrome native messaging framing. Chrome starts this with the calling
extension's origin as the only argument.`,
	Args: cobra.ArbitraryArgs,
	RunE: runHost,
}

var openCmd = &cobra.Command{
	Use:   "open <directory-uri>",
	Short: "Reveal a directory:// URI in the file manager",
	Long: `Parses a directory:// URI, resolves it to a local path and opens it in the
file manager. Files are shown selected in their parent directory.

This is the command the OS runs for the directory:// scheme.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(openCmd)
}

// newLauncher builds the launcher selected by dispatch.launcher. The returned
// func releases it.
func newLauncher(env *runtimeEnv) (domain.Launcher, func(), error) {
	switch env.config.Dispatch.Launcher {
	case infra.LauncherTab:
		l, err := infra.NewTabLauncher(infra.TabLauncherConfig{
			RemoteURL: env.config.Dispatch.ChromeURL,
			ExecPath:  env.config.Browser.Bin,
			Headless:  env.config.Browser.Headless,
		}, env.logger)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return infra.NewExecLauncher(env.logger), func() {}, nil
	}
}

func newHandler(env *runtimeEnv, launcher domain.Launcher) *dispatch.Handler {
	config := dispatch.DefaultHandlerConfig()
	config.CleanupDelay = env.config.Dispatch.CleanupDelay
	return dispatch.NewHandler(launcher, config, env.logger)
}

// extensionFromOrigin extracts the id from "chrome-extension://<id>/".
func extensionFromOrigin(origin string) string {
	id := strings.TrimPrefix(origin, "chrome-extension://")
	if id == origin {
		return ""
	}
	return strings.TrimSuffix(id, "/")
}

func runHost(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	var origin string
	if len(args) > 0 {
		origin = args[0]
	}
	env.logger.Info("starting native host", zap.String("origin", origin))

	launcher, release, err := newLauncher(env)
	if err != nil {
		env.logger.Error("failed to create launcher", zap.Error(err))
		return err
	}
	defer release()

	ctx, stop := daemon.SignalContext(cmd.Context())
	defer stop()

	host := daemon.NewHost(daemon.DefaultHostConfig(), newHandler(env, launcher), os.Stdin, os.Stdout, env.logger)

	if execPath, err := os.Executable(); err == nil {
		var repair []domain.HandlerInstaller
		if id := extensionFromOrigin(origin); id != "" {
			repair = append(repair, infra.NewNativeHostInstaller(env.mode.NativeHostDirs, id))
		}
		repair = append(repair, infra.SchemeInstaller(env.mode, &infra.RealCommandRunner{}))
		host.WithRegistrations(execPath, repair...)
	}

	return host.Run(ctx)
}

func runOpen(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	manager, err := infra.NewFileManager()
	if err != nil {
		env.logger.Error("no file manager", zap.Error(err))
		return err
	}

	opener := usecase.NewOpener(infra.NewFileSystem(), manager, env.logger)
	res, err := opener.Open(args[0])
	if err != nil {
		env.logger.Error("failed to open", zap.String("uri", args[0]), zap.Error(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Opened %s with %s\n", res.Path, res.Manager)
	return nil
}
