//go:build integration

package integration

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/dirurl"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
	"github.com/eliteGoblin/focusd/dirlink/internal/usecase"
	"github.com/eliteGoblin/focusd/dirlink/test/fixtures"
)

// recordingFileManager captures reveals instead of opening windows.
type recordingFileManager struct {
	mu      sync.Mutex
	reveals []string
}

func (m *recordingFileManager) Name() string      { return "recording" }
func (m *recordingFileManager) IsAvailable() bool { return true }

func (m *recordingFileManager) Reveal(path string, isFile bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := "dir"
	if isFile {
		kind = "file"
	}
	m.reveals = append(m.reveals, kind+":"+path)
	return nil
}

// recordingRunner answers every command with success.
type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	out   map[string]string
}

func (r *recordingRunner) Run(name string, args ...string) error {
	_, err := r.Output(name, args...)
	return err
}

func (r *recordingRunner) Output(name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, cmd)
	return []byte(r.out[cmd]), nil
}

func (r *recordingRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// directoryURI builds the URI a rewritten file:// link would carry.
func directoryURI(path string) string {
	u := url.URL{Scheme: "directory", Path: filepath.ToSlash(path)}
	return u.String()
}

var _ = Describe("Opening directory URIs", func() {
	var (
		tmpDir  string
		share   *fixtures.FakeShare
		manager *recordingFileManager
		opener  *usecase.Opener
	)

	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("unix paths")
		}
		var err error
		tmpDir, err = os.MkdirTemp("", "dirlink-integration-*")
		Expect(err).NotTo(HaveOccurred())
		// macOS tmp lives behind a symlink
		tmpDir, err = filepath.EvalSymlinks(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		share = fixtures.NewFakeShare(tmpDir)
		Expect(share.Create()).To(Succeed())
		Expect(share.Exists()).To(BeTrue())

		manager = &recordingFileManager{}
		opener = usecase.NewOpener(infra.NewFileSystem(), manager, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("should open a directory with an encoded space", func() {
		target := filepath.Join(share.ProjectsDir(), "report 2024")
		uri := directoryURI(target)
		Expect(uri).To(ContainSubstring("report%202024"))

		res, err := opener.Open(uri)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsDir).To(BeTrue())
		Expect(res.Kind).To(Equal(dirurl.KindUnix))
		Expect(manager.reveals).To(Equal([]string{"dir:" + target}))
	})

	It("should select a file inside its parent", func() {
		res, err := opener.Open(directoryURI(share.NotesFile()))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsDir).To(BeFalse())
		Expect(manager.reveals).To(Equal([]string{"file:" + share.NotesFile()}))
	})

	It("should resolve symlinks before revealing", func() {
		res, err := opener.Open(directoryURI(filepath.Join(tmpDir, "current")))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Path).To(Equal(share.ProjectsDir()))
	})

	It("should refuse a missing path without revealing", func() {
		_, err := opener.Open(directoryURI(filepath.Join(tmpDir, "gone")))
		Expect(err).To(HaveOccurred())
		Expect(manager.reveals).To(BeEmpty())
	})

	It("should refuse other schemes", func() {
		_, err := opener.Open("file://" + share.ProjectsDir())
		Expect(err).To(MatchError(dirurl.ErrInvalidScheme))
	})
})

var _ = Describe("Registration", func() {
	var (
		tmpDir string
		binary string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dirlink-register-*")
		Expect(err).NotTo(HaveOccurred())

		binary = filepath.Join(tmpDir, "build", "dirlink")
		Expect(os.MkdirAll(filepath.Dir(binary), 0755)).To(Succeed())
		Expect(os.WriteFile(binary, []byte("fake binary v1"), 0755)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("should install the binary and register the scheme and native host", func() {
		installed := filepath.Join(tmpDir, "bin", "dirlink")
		copied, err := infra.InstallBinary(binary, installed)
		Expect(err).NotTo(HaveOccurred())
		Expect(copied).To(BeTrue())

		runner := &recordingRunner{out: map[string]string{
			"xdg-mime query default " + infra.MimeType: "dirlink.desktop\n",
		}}
		scheme := infra.NewDesktopEntryInstaller(filepath.Join(tmpDir, "applications"), runner)
		native := infra.NewNativeHostInstaller([]string{
			filepath.Join(tmpDir, "chrome", "NativeMessagingHosts"),
			filepath.Join(tmpDir, "chromium", "NativeMessagingHosts"),
		}, "abcdefghijklmnopabcdefghijklmnop")

		for _, r := range []domain.HandlerInstaller{scheme, native} {
			Expect(r.Install(installed)).To(Succeed())
			Expect(r.IsInstalled()).To(BeTrue())
			Expect(r.NeedsUpdate(installed)).To(BeFalse())
		}

		Expect(scheme.Status()).To(Equal("default handler"))
		Expect(native.Status()).To(ContainSubstring("chromium"))

		// Re-installing an identical binary is a no-op
		copied, err = infra.InstallBinary(binary, installed)
		Expect(err).NotTo(HaveOccurred())
		Expect(copied).To(BeFalse())
	})

	It("should flag registrations pointing at a moved binary", func() {
		native := infra.NewNativeHostInstaller([]string{filepath.Join(tmpDir, "hosts")}, "ext")
		Expect(native.Install(binary)).To(Succeed())

		Expect(native.NeedsUpdate(filepath.Join(tmpDir, "elsewhere", "dirlink"))).To(BeTrue())

		Expect(native.Uninstall()).To(Succeed())
		Expect(native.IsInstalled()).To(BeFalse())
		Expect(native.Status()).To(Equal("not installed"))
	})
})

var _ = Describe("Settings shared between processes", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dirlink-settings-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("should stop intercepting when another process disables the feature", func() {
		pageStore, err := infra.NewFileSettingsStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		p := startPipeline(pipelineOptions{
			page:    "intranet",
			pageURL: "https://intranet.example.com/",
			store:   pageStore,
		})
		defer p.stop()
		Expect(p.start()).To(Equal(usecase.StateActive))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.provider.Watch(ctx, 20*time.Millisecond) }()

		// The options UI runs in another process with its own provider
		cliStore, err := infra.NewFileSettingsStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		cli, err := infra.NewStoreProvider(cliStore, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer cli.Close()

		// Probe until the page side sees external writes
		seen := make(chan struct{}, 1)
		unsubscribe := p.provider.OnChange(func(string, map[string]domain.SettingChange) {
			select {
			case seen <- struct{}{}:
			default:
			}
		})
		Eventually(func() bool {
			Expect(cli.Set(context.Background(), map[string]any{"watchTick": time.Now().UnixNano()})).To(Succeed())
			select {
			case <-seen:
				return true
			case <-time.After(200 * time.Millisecond):
				return false
			}
		}, 5*time.Second).Should(BeTrue())
		unsubscribe()

		Expect(cli.Set(context.Background(), map[string]any{domain.KeyEnabled: false})).To(Succeed())

		Eventually(func() bool {
			res, _ := p.doc.ClickFirst("#projects")
			return res.DefaultPrevented
		}, 5*time.Second, 100*time.Millisecond).Should(BeFalse())
	})

	It("should keep settings encrypted at rest", func() {
		key, err := infra.LoadOrCreateSettingsKey(infra.NewSettingsKeyFile(tmpDir))
		Expect(err).NotTo(HaveOccurred())

		store, err := infra.NewEncryptedSettingsStore(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())
		provider, err := infra.NewStoreProvider(store, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		Expect(provider.Set(context.Background(), map[string]any{
			domain.KeyBlockedDomains: []string{"secret.example.com"},
		})).To(Succeed())
		Expect(provider.Close()).To(Succeed())

		matches, err := filepath.Glob(filepath.Join(tmpDir, "*.db"))
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).NotTo(BeEmpty())
		for _, m := range matches {
			data, err := os.ReadFile(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring("secret.example.com"))
		}

		// Reopening with the same key reads the value back
		key2, err := infra.LoadOrCreateSettingsKey(infra.NewSettingsKeyFile(tmpDir))
		Expect(err).NotTo(HaveOccurred())
		store2, err := infra.NewEncryptedSettingsStore(tmpDir, key2)
		Expect(err).NotTo(HaveOccurred())
		provider2, err := infra.NewStoreProvider(store2, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer provider2.Close()

		s, err := provider2.Get(context.Background(), domain.DefaultSettings())
		Expect(err).NotTo(HaveOccurred())
		Expect(s.BlockedDomains).To(Equal([]string{"secret.example.com"}))
	})
})
