package server_test

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codebuddy-ai/codebuddy-memory/citest/testutil"
	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
)

var _ = Describe("SSE Event Streaming", func() {
	Describe("GET /event", func() {
		It("should return SSE content-type header", func() {
			req, err := http.NewRequest("GET", testServer.BaseURL+"/event", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Accept", "text/event-stream")

			httpClient := &http.Client{Timeout: 5 * time.Second}
			resp, err := httpClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
		})

		It("should set cache control headers", func() {
			req, err := http.NewRequest("GET", testServer.BaseURL+"/event", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Accept", "text/event-stream")

			httpClient := &http.Client{Timeout: 5 * time.Second}
			resp, err := httpClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		})

		It("should announce the conversation on connect", func() {
			sseClient := testServer.SSEClient()
			err := sseClient.Connect(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())
			defer sseClient.Close()

			evt, err := sseClient.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			connected, err := evt.ParseConnected()
			Expect(err).NotTo(HaveOccurred())
			Expect(connected.ConversationID).To(Equal(testServer.Engine.ConversationID()))
		})

		It("should forward store evictions", func() {
			sseClient := testServer.SSEClient()
			err := sseClient.Connect(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())
			defer sseClient.Close()

			_, err = sseClient.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Give connection time to establish
			time.Sleep(500 * time.Millisecond)

			id := "toolu_" + testutil.RandomString(12)
			Expect(testServer.Engine.WriteToolResult(id, "bulk output to evict")).To(Succeed())
			Expect(testServer.Engine.Evict(0)).To(BeNumerically(">=", 1))

			evt, err := sseClient.WaitForEvent("memory.store.evicted", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			eviction, err := evt.ParseEviction()
			Expect(err).NotTo(HaveOccurred())
			Expect(eviction.Removed).To(BeNumerically(">=", 1))
			Expect(eviction.RemainingBytes).To(BeZero())
		})

		It("should forward bus events with their properties", func() {
			sseClient := testServer.SSEClient()
			err := sseClient.Connect(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())
			defer sseClient.Close()

			_, err = sseClient.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Give connection time to establish
			time.Sleep(500 * time.Millisecond)

			testServer.Engine.Bus().Publish(event.Event{
				Type: event.UsageWarning,
				Data: event.UsageWarningData{
					Threshold:    90,
					UsagePercent: 91.5,
					Message:      "Context is 91.5% full",
				},
			})

			evt, err := sseClient.WaitForEvent("memory.warning", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			warning, err := evt.ParseWarning()
			Expect(err).NotTo(HaveOccurred())
			Expect(warning.Threshold).To(Equal(90))
			Expect(warning.UsagePercent).To(BeNumerically("~", 91.5, 0.01))
			Expect(warning.Message).To(ContainSubstring("91.5%"))
		})

		It("should deliver events to every subscriber", func() {
			first := testServer.SSEClient()
			Expect(first.Connect(ctx, "/event")).To(Succeed())
			defer first.Close()

			second := testServer.SSEClient()
			Expect(second.Connect(ctx, "/event")).To(Succeed())
			defer second.Close()

			_, err := first.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			_, err = second.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Give connections time to establish
			time.Sleep(500 * time.Millisecond)

			testServer.Engine.Bus().Publish(event.Event{
				Type: event.FactsFlushed,
				Data: event.FactsFlushedData{FactsCount: 2, WrittenTo: "MEMORY.md"},
			})

			for _, sseClient := range []*testutil.SSEClient{first, second} {
				evt, err := sseClient.WaitForEvent("memory.facts.flushed", 5*time.Second)
				Expect(err).NotTo(HaveOccurred())

				flush, err := evt.ParseFlush()
				Expect(err).NotTo(HaveOccurred())
				Expect(flush.FactsCount).To(Equal(2))
				Expect(flush.WrittenTo).To(Equal("MEMORY.md"))
			}
		})
	})

	Describe("SSE Connection Lifecycle", func() {
		It("should handle client disconnect gracefully", func() {
			sseClient := testServer.SSEClient()
			err := sseClient.Connect(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())

			// Close connection
			sseClient.Close()

			// Server should still be running
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
		})

		It("should stop sending after context cancel", func() {
			cancelCtx, cancel := context.WithCancel(ctx)

			sseClient := testServer.SSEClient()
			err := sseClient.Connect(cancelCtx, "/event")
			Expect(err).NotTo(HaveOccurred())

			// Cancel context
			cancel()

			// Give time for cancellation to propagate
			time.Sleep(500 * time.Millisecond)

			// Connection should be closed
			sseClient.Close()

			// Server should still be running
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
		})
	})
})
