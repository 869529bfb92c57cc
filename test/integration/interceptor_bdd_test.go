//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/usecase"
)

const fileLinks = `a[href^="file://"]`

var _ = Describe("Page interception", func() {
	var p *pipeline

	AfterEach(func() {
		if p != nil {
			p.stop()
			p = nil
		}
	})

	Describe("on an allowed page", func() {
		BeforeEach(func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/share"})
			Expect(p.start()).To(Equal(usecase.StateActive))
		})

		It("should annotate every file link exactly once", func() {
			Expect(p.indicators(fileLinks)).To(Equal(3))
			Expect(p.indicators("#web")).To(Equal(0))
		})

		It("should open a clicked link through the dispatcher and clean up", func() {
			res, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeTrue())
			Expect(res.PropagationStopped).To(BeTrue())
			Expect(res.Navigated).To(BeEmpty())

			Eventually(p.launcher.Launched).Should(Equal([]string{"directory:///srv/share/Projects"}))
			Eventually(p.launcher.Cleaned).Should(Equal([]string{"directory:///srv/share/Projects"}))
			Consistently(p.toastText, 200*time.Millisecond).Should(BeEmpty())
		})

		It("should repair drive letters from a click on a nested element", func() {
			_, err := p.doc.ClickFirst("#drive-label")
			Expect(err).NotTo(HaveOccurred())
			_, err = p.doc.ClickFirst("#drive-slash")
			Expect(err).NotTo(HaveOccurred())

			Eventually(p.launcher.Launched).Should(ConsistOf(
				"directory:///C:/Users/team/Documents",
				"directory:///D:/Archive",
			))
		})

		It("should issue one request per click without coalescing", func() {
			for i := 0; i < 3; i++ {
				_, err := p.doc.ClickFirst("#projects")
				Expect(err).NotTo(HaveOccurred())
			}
			Eventually(func() int { return len(p.launcher.Launched()) }).Should(Equal(3))
		})

		It("should leave other links alone", func() {
			res, err := p.doc.ClickFirst("#web")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeFalse())
			Expect(res.Navigated).To(Equal("https://example.com/wiki"))
			Consistently(p.launcher.Launched, 200*time.Millisecond).Should(BeEmpty())
		})

		It("should annotate links inserted after load", func() {
			Expect(p.doc.AppendHTML("#feed", `<a id="late" href="file:///srv/share/late">late</a>`)).To(Succeed())
			Expect(p.doc.AppendHTML("#feed", `<section><div><p><a id="deep" href="file:///srv/share/deep">deep</a></p></div></section>`)).To(Succeed())

			Eventually(func() int { return p.indicators("#late") }).Should(Equal(1))
			Eventually(func() int { return p.indicators("#deep") }).Should(Equal(1))
		})

		It("should not annotate a re-inserted link twice", func() {
			Expect(p.doc.AppendHTML("#feed", `<a id="late" href="file:///srv/share/late">late</a>`)).To(Succeed())
			Eventually(func() int { return p.indicators("#late") }).Should(Equal(1))

			// A second insertion containing already converted markup
			Expect(p.doc.AppendHTML("#feed", `<div id="copy"><a href="file:///srv/share/x" data-dirlink-converted="true">x</a></div>`)).To(Succeed())
			Consistently(func() int { return p.indicators("#copy a") }, 200*time.Millisecond).Should(Equal(0))
			Expect(p.indicators("#late")).To(Equal(1))
		})
	})

	Describe("when disabled", func() {
		It("should let clicks navigate and dispatch nothing", func() {
			p = startPipeline(pipelineOptions{
				page:     "intranet",
				pageURL:  "https://intranet.example.com/",
				settings: map[string]any{domain.KeyEnabled: false},
			})
			Expect(p.start()).To(Equal(usecase.StateBypassed))

			res, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeFalse())
			Expect(res.Navigated).To(Equal("file:///srv/share/Projects"))

			Expect(p.indicators(fileLinks)).To(Equal(0))
			Consistently(p.launcher.Launched, 200*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("on a blocked domain", func() {
		It("should neither annotate nor intercept", func() {
			p = startPipeline(pipelineOptions{
				page:     "intranet",
				pageURL:  "https://www.example.com/",
				settings: map[string]any{domain.KeyBlockedDomains: []string{"example.com"}},
			})
			Expect(p.start()).To(Equal(usecase.StateBypassed))

			Expect(p.indicators(fileLinks)).To(Equal(0))

			res, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeFalse())

			Expect(p.doc.AppendHTML("#feed", `<a id="late" href="file:///x">late</a>`)).To(Succeed())
			Consistently(func() int { return p.indicators("#late") }, 200*time.Millisecond).Should(Equal(0))
		})
	})

	Describe("with the indicator hidden", func() {
		It("should intercept without annotating", func() {
			p = startPipeline(pipelineOptions{
				page:     "intranet",
				pageURL:  "https://intranet.example.com/",
				settings: map[string]any{domain.KeyShowIndicator: false},
			})
			Expect(p.start()).To(Equal(usecase.StateActive))
			Expect(p.indicators(fileLinks)).To(Equal(0))

			res, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeTrue())
			Eventually(p.launcher.Launched).Should(HaveLen(1))
		})
	})

	Describe("failure notification", func() {
		It("should show the reported error and dismiss it", func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/"})
			p.launcher.fail = errors.New("boom")
			Expect(p.start()).To(Equal(usecase.StateActive))

			_, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())

			Eventually(p.toastText).Should(Equal("boom"))
			n, ok := p.doc.Toast()
			Expect(ok).To(BeTrue())
			Expect(n.Kind).To(Equal(domain.NotifyError))

			Eventually(p.toastText, 6*time.Second, 100*time.Millisecond).Should(BeEmpty())
		})

		It("should replace a showing notification", func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/"})
			Expect(p.start()).To(Equal(usecase.StateActive))

			p.launcher.mu.Lock()
			p.launcher.fail = errors.New("first")
			p.launcher.mu.Unlock()
			_, _ = p.doc.ClickFirst("#projects")
			Eventually(p.toastText).Should(Equal("first"))

			p.launcher.mu.Lock()
			p.launcher.fail = errors.New("second")
			p.launcher.mu.Unlock()
			_, _ = p.doc.ClickFirst("#projects")
			Eventually(p.toastText).Should(Equal("second"))

			rendered, err := p.doc.Render()
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(rendered, `role="alert"`)).To(Equal(1))
		})

		It("should report an unreachable dispatcher", func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/"})
			Expect(p.start()).To(Equal(usecase.StateActive))
			p.server.Close()

			res, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DefaultPrevented).To(BeTrue())

			Eventually(p.toastText).Should(ContainSubstring("failed to open directory"))
		})

		It("should confirm success when configured", func() {
			p = startPipeline(pipelineOptions{
				page:    "intranet",
				pageURL: "https://intranet.example.com/",
				config:  func(c *usecase.InterceptorConfig) { c.NotifyOnSuccess = true },
			})
			Expect(p.start()).To(Equal(usecase.StateActive))

			_, err := p.doc.ClickFirst("#projects")
			Expect(err).NotTo(HaveOccurred())

			Eventually(p.toastText).Should(Equal("Opened directory:///srv/share/Projects"))
			n, _ := p.doc.Toast()
			Expect(n.Kind).To(Equal(domain.NotifySuccess))
		})
	})

	Describe("settings changes", func() {
		It("should stop intercepting after a late disable but keep indicators", func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/"})
			Expect(p.start()).To(Equal(usecase.StateActive))
			Expect(p.indicators(fileLinks)).To(Equal(3))

			Expect(p.provider.Set(context.Background(), map[string]any{domain.KeyEnabled: false})).To(Succeed())

			Eventually(func() bool {
				res, _ := p.doc.ClickFirst("#projects")
				return res.DefaultPrevented
			}).Should(BeFalse())

			Expect(p.indicators(fileLinks)).To(Equal(3))
			Expect(p.launcher.Launched()).To(BeEmpty())
		})

		It("should pick up a blocked domain added later", func() {
			p = startPipeline(pipelineOptions{page: "intranet", pageURL: "https://intranet.example.com/"})
			Expect(p.start()).To(Equal(usecase.StateActive))

			Expect(p.provider.Set(context.Background(), map[string]any{
				domain.KeyBlockedDomains: []string{"intranet.example.com"},
			})).To(Succeed())

			Eventually(func() bool {
				res, _ := p.doc.ClickFirst("#projects")
				return res.DefaultPrevented
			}).Should(BeFalse())
		})
	})
})
