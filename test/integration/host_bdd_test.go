//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/daemon"
	"github.com/eliteGoblin/focusd/dirlink/internal/dispatch"
	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
	"github.com/eliteGoblin/focusd/dirlink/internal/page"
	"github.com/eliteGoblin/focusd/dirlink/internal/usecase"
	"github.com/eliteGoblin/focusd/dirlink/test/fixtures"
)

var _ = Describe("Native messaging host", func() {
	const cleanupDelay = 300 * time.Millisecond

	var (
		launcher *recordingLauncher
		client   *dispatch.NativeClient
		hostDone chan error
	)

	BeforeEach(func() {
		launcher = &recordingLauncher{}
		handler := dispatch.NewHandler(launcher, dispatch.HandlerConfig{
			CleanupDelay:   cleanupDelay,
			CleanupTimeout: time.Second,
		}, zap.NewNop())

		reqR, reqW := io.Pipe()
		resR, resW := io.Pipe()

		host := daemon.NewHost(daemon.DefaultHostConfig(), handler, reqR, resW, zap.NewNop())
		hostDone = make(chan error, 1)
		go func() {
			err := host.Run(context.Background())
			_ = resW.Close()
			hostDone <- err
		}()

		client = dispatch.NewNativeClient(resR, reqW, zap.NewNop())
	})

	AfterEach(func() {
		_ = client.Close()
	})

	It("should answer concurrent requests by correlation id", func() {
		urls := []string{"directory:///a", "directory:///b", "directory:///c"}
		results := make(chan domain.RewriteResult, len(urls))

		for _, u := range urls {
			go func(u string) {
				defer GinkgoRecover()
				res, err := client.Dispatch(context.Background(), domain.RewriteRequest{
					Action: domain.ActionOpenDirectory,
					URL:    u,
				})
				Expect(err).NotTo(HaveOccurred())
				results <- res
			}(u)
		}

		for range urls {
			var res domain.RewriteResult
			Eventually(results).Should(Receive(&res))
			Expect(res.Success).To(BeTrue())
		}
		Expect(launcher.Launched()).To(ConsistOf(urls))
	})

	It("should report failures in the result", func() {
		res, err := client.Dispatch(context.Background(), domain.RewriteRequest{Action: "rm -rf", URL: "directory:///a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("unknown action"))
	})

	It("should keep the cleanup delay when the browser disconnects", func() {
		res, err := client.Dispatch(context.Background(), domain.RewriteRequest{
			Action: domain.ActionOpenDirectory,
			URL:    "directory:///a",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())

		// Chrome closes the stream as soon as it has the response
		Expect(client.Close()).To(Succeed())

		Eventually(hostDone, 5*time.Second).Should(Receive(BeNil()))
		Expect(launcher.Cleaned()).To(Equal([]string{"directory:///a"}))
		Expect(launcher.Lifetime()).To(BeNumerically(">=", cleanupDelay))
	})

	It("should fail pending callers when the host goes away", func() {
		Expect(client.Close()).To(Succeed())
		Eventually(hostDone).Should(Receive())

		_, err := client.Dispatch(context.Background(), domain.RewriteRequest{
			Action: domain.ActionOpenDirectory,
			URL:    "directory:///late",
		})
		Expect(err).To(HaveOccurred())
	})

	It("should serve a page interceptor end to end", func() {
		doc, err := page.ParseString(fixtures.Page("intranet"), "https://intranet.example.com/", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer doc.Close()

		provider, err := infra.NewStoreProvider(infra.NewMemorySettingsStore(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ic := usecase.NewInterceptor(usecase.DefaultInterceptorConfig(page.DefaultIndicator), doc, provider, client, zap.NewNop())
		Expect(ic.Start(context.Background())).To(Equal(usecase.StateActive))
		defer ic.Stop()

		_, err = doc.ClickFirst("#drive")
		Expect(err).NotTo(HaveOccurred())

		Eventually(launcher.Launched).Should(Equal([]string{"directory:///C:/Users/team/Documents"}))
		_, shown := doc.Toast()
		Expect(shown).To(BeFalse())
	})

	It("should surface a launch error from the host on the page", func() {
		launcher.mu.Lock()
		launcher.fail = errors.New("no handler for directory://")
		launcher.mu.Unlock()

		doc, err := page.ParseString(fixtures.Page("intranet"), "https://intranet.example.com/", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer doc.Close()

		ic := usecase.NewInterceptor(usecase.DefaultInterceptorConfig(page.DefaultIndicator), doc, nil, client, zap.NewNop())
		Expect(ic.Start(context.Background())).To(Equal(usecase.StateActive))
		defer ic.Stop()

		_, err = doc.ClickFirst("#projects")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() string {
			n, _ := doc.Toast()
			return n.Message
		}).Should(Equal("no handler for directory://"))
	})
})
