package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/browser"
	"github.com/eliteGoblin/focusd/dirlink/internal/daemon"
	"github.com/eliteGoblin/focusd/dirlink/internal/dispatch"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/page"
	"github.com/eliteGoblin/focusd/dirlink/internal/policy"
	"github.com/eliteGoblin/focusd/dirlink/internal/usecase"
)

var browseCmd = &cobra.Command{
	Use:   "browse <url>",
	Short: "Open a page in Chrome with file:// link interception",
	Long: `Opens url in a Chrome tab and intercepts clicks on file:// links in every
document the tab loads. Clicked links are opened through the configured
launcher, or through a native host child process with --native.

Runs until the tab is closed or the command is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

var scanCmd = &cobra.Command{
	Use:   "scan <file|url>",
	Short: "List the file:// links dirlink would convert on a page",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <file-url>...",
	Short: "Print the directory:// form of file:// URLs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRewrite,
}

var checkCmd = &cobra.Command{
	Use:   "check <hostname>...",
	Short: "Check whether interception is active on a hostname",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

var (
	browseRemote   string
	browseHeadless bool
	browseNative   bool
	scanHostname   string
	scanHTML       bool
)

func init() {
	browseCmd.Flags().StringVar(&browseRemote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	browseCmd.Flags().BoolVar(&browseHeadless, "headless", false, "Run a launched Chrome headless")
	browseCmd.Flags().BoolVar(&browseNative, "native", false, "Dispatch through a native host child process")
	scanCmd.Flags().StringVar(&scanHostname, "hostname", "", "Evaluate the page as if served from this hostname")
	scanCmd.Flags().BoolVar(&scanHTML, "html", false, "Print the annotated document")

	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(checkCmd)
}

func interceptorConfig(env *runtimeEnv) usecase.InterceptorConfig {
	config := usecase.DefaultInterceptorConfig(page.DefaultIndicator)
	config.LoadTimeout = env.config.Settings.LoadTimeout
	config.NotifyTimeout = env.config.Notify.Timeout
	config.NotifyOnSuccess = env.config.Notify.OnSuccess
	return config
}

// newDispatcher returns the privileged side used by browse and a func that
// shuts it down.
func newDispatcher(ctx context.Context, env *runtimeEnv) (domain.Dispatcher, func(), error) {
	if browseNative {
		exe, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		proc, err := dispatch.StartHost(env.logger, exe, "host")
		if err != nil {
			return nil, nil, err
		}
		return proc, func() {
			if err := proc.Close(); err != nil {
				env.logger.Warn("native host exited with error", zap.Error(err))
			}
		}, nil
	}

	launcher, release, err := newLauncher(env)
	if err != nil {
		return nil, nil, err
	}
	handler := newHandler(env, launcher)
	server := dispatch.NewChannelServer(handler, env.logger)
	go func() { _ = server.Serve(ctx) }()

	return server.Client(), func() {
		server.Close()
		handler.Flush()
		release()
	}, nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ctx, stop := daemon.SignalContext(cmd.Context())
	defer stop()

	provider := openSettingsOrDefaults(env)
	defer provider.Close()
	go func() {
		if err := provider.Watch(ctx, env.config.Settings.Debounce); err != nil && ctx.Err() == nil {
			env.logger.Warn("settings watch stopped", zap.Error(err))
		}
	}()

	dispatcher, shutdown, err := newDispatcher(ctx, env)
	if err != nil {
		return err
	}
	defer shutdown()

	headless := env.config.Browser.Headless
	if cmd.Flags().Changed("headless") {
		headless = browseHeadless
	}
	session, err := browser.Start(browser.Config{
		RemoteURL: browseRemote,
		Headless:  headless,
		Bin:       env.config.Browser.Bin,
	}, env.logger)
	if err != nil {
		return err
	}
	defer session.Close()

	config := interceptorConfig(env)
	fmt.Fprintf(cmd.OutOrStdout(), "Browsing %s (Ctrl+C to stop)\n", args[0])

	return session.Open(ctx, args[0], policy.FileLinkSelector, func(p *browser.LivePage) func() {
		ic := usecase.NewInterceptor(config, p, provider, dispatcher, env.logger)

		started := make(chan struct{})
		go func() {
			defer close(started)
			state := ic.Start(ctx)
			env.logger.Info("interceptor started", zap.String("host", p.Hostname()), zap.Stringer("state", state))
			if state != usecase.StateActive {
				p.Release()
			}
		}()

		return func() {
			<-started
			ic.Stop()
		}
	})
}

// dryRunDispatcher accepts every request without opening anything.
type dryRunDispatcher struct{}

func (dryRunDispatcher) Dispatch(ctx context.Context, req domain.RewriteRequest) (domain.RewriteResult, error) {
	return domain.RewriteResult{ID: req.ID, Success: true}, nil
}

// scannedLink is one file:// link found by scan.
type scannedLink struct {
	Href      string
	Rewritten string
	Converted bool
}

// scanDocument runs the interceptor once over doc and reports every
// file:// link with its rewrite and whether it was annotated.
func scanDocument(ctx context.Context, doc *page.Document, provider domain.SettingsProvider, config usecase.InterceptorConfig, logger *zap.Logger) (usecase.State, []scannedLink) {
	ic := usecase.NewInterceptor(config, doc, provider, dryRunDispatcher{}, logger)
	state := ic.Start(ctx)
	ic.Stop()

	var links []scannedLink
	doc.Select(func(gq *goquery.Document) {
		gq.Find(policy.FileLinkSelector).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			rewritten, _ := policy.RewriteURL(href)
			_, converted := s.Attr("data-dirlink-converted")
			links = append(links, scannedLink{Href: href, Rewritten: rewritten, Converted: converted})
		})
	})
	return state, links
}

// loadPage reads a local file or fetches an http(s) URL. The returned page
// URL is what the document reports as its location.
func loadPage(ctx context.Context, target string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch %s: %w", target, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("failed to fetch %s: %s", target, resp.Status)
		}
		return resp.Body, target, nil
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, "", err
	}
	return f, "file://" + filepath.ToSlash(abs), nil
}

func runScan(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	body, pageURL, err := loadPage(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer body.Close()

	if scanHostname != "" {
		pageURL = "https://" + scanHostname + "/"
	}

	doc, err := page.Parse(body, pageURL, env.logger)
	if err != nil {
		return err
	}
	defer doc.Close()

	provider := openSettingsOrDefaults(env)
	defer provider.Close()

	state, links := scanDocument(cmd.Context(), doc, provider, interceptorConfig(env), env.logger)

	out := cmd.OutOrStdout()
	if scanHTML {
		rendered, err := doc.Render()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rendered)
		return nil
	}

	fmt.Fprintf(out, "Page: %s (%s)\n", doc.Hostname(), state)
	if len(links) == 0 {
		fmt.Fprintln(out, "No file:// links found.")
		return nil
	}
	for _, l := range links {
		mark := " "
		if l.Converted {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s -> %s\n", mark, l.Href, l.Rewritten)
	}
	return nil
}

func runRewrite(cmd *cobra.Command, args []string) error {
	var bad int
	for _, arg := range args {
		rewritten, ok := policy.RewriteURL(arg)
		if !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: not a file:// URL\n", arg)
			bad++
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), rewritten)
	}
	if bad > 0 {
		return fmt.Errorf("%d URL(s) not rewritten", bad)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	provider := openSettingsOrDefaults(env)
	defer provider.Close()

	settings, err := provider.Get(cmd.Context(), domain.DefaultSettings())
	if err != nil {
		env.logger.Warn("failed to read settings, using defaults", zap.Error(err))
		settings = domain.DefaultSettings()
	}

	for _, host := range args {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", host, checkHost(host, settings))
	}
	return nil
}

// checkHost explains the policy decision for hostname.
func checkHost(hostname string, s domain.Settings) string {
	if !s.Enabled {
		return "inactive (disabled)"
	}
	for _, d := range s.BlockedDomains {
		if policy.MatchesDomain(hostname, d) {
			return "blocked (" + d + ")"
		}
	}
	if !policy.IsDomainAllowed(hostname, s) {
		return "not in allowed domains"
	}
	return "active"
}
