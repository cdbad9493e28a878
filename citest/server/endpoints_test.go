package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codebuddy-ai/codebuddy-memory/citest/testutil"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

var _ = Describe("Server Endpoints Integration Tests", func() {
	// ==================== Health Endpoint ====================
	Describe("GET /health", func() {
		It("should report the observed conversation", func() {
			health, err := client.GetHealth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal("ok"))
			Expect(health.ConversationID).To(HavePrefix("conv_"))
			Expect(health.WorkDir).To(Equal(testServer.WorkDir))
		})

		It("should match the engine's conversation ID", func() {
			health, err := client.GetHealth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.ConversationID).To(Equal(testServer.Engine.ConversationID()))
		})
	})

	// ==================== Config Endpoint ====================
	Describe("GET /config", func() {
		It("should return the effective configuration", func() {
			resp, err := client.Get(ctx, "/config")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var config map[string]interface{}
			err = resp.JSON(&config)
			Expect(err).NotTo(HaveOccurred())
			Expect(config).NotTo(BeEmpty())

			// Defaults are applied before serving
			Expect(config["maxContextTokens"]).To(BeNumerically(">", 0))
			Expect(config["warningThresholds"]).NotTo(BeNil())
		})

		It("should redact provider credentials", func() {
			srv, err := testutil.StartTestServer(testutil.WithConfig(&types.Config{
				Model: "openai/gpt-4o",
				Provider: map[string]types.ProviderConfig{
					"openai": {
						APIKey:  "sk-secret-do-not-leak",
						BaseURL: "https://api.example.com/v1",
						Model:   "gpt-4o",
					},
				},
			}))
			Expect(err).NotTo(HaveOccurred())
			defer srv.Stop()

			resp, err := srv.Client().Get(ctx, "/config")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.String()).NotTo(ContainSubstring("sk-secret-do-not-leak"))

			var config struct {
				Provider map[string]types.ProviderConfig `json:"provider"`
			}
			err = resp.JSON(&config)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Provider).To(HaveKey("openai"))
			Expect(config.Provider["openai"].APIKey).To(BeEmpty())
			Expect(config.Provider["openai"].BaseURL).To(Equal("https://api.example.com/v1"))
		})
	})

	// ==================== Budget Endpoints ====================
	Describe("GET /stats", func() {
		It("should reflect the engine's last snapshot", func() {
			turns := testutil.Conversation(6)
			testServer.Engine.GetStats(turns)

			stats, err := client.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TurnCount).To(Equal(6))
			Expect(stats.TotalTokens).To(BeNumerically(">", 0))
			Expect(stats.MaxTokens).To(BeNumerically(">", 0))
			Expect(stats.IsNearLimit).To(BeFalse())
		})

		It("should include the effective limit", func() {
			stats, err := client.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.EffectiveLimit).To(BeNumerically(">", 0))
			// Reserve and safety factor keep it below the raw window
			Expect(stats.EffectiveLimit).To(BeNumerically("<", stats.MaxTokens))
			Expect(stats.EffectiveLimit).To(Equal(testServer.Engine.EffectiveLimit()))
		})
	})

	Describe("GET /metrics", func() {
		It("should return lifetime counters as JSON", func() {
			metrics, err := client.GetMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.CompressionCount).To(BeNumerically(">=", 0))
			Expect(metrics.TotalTokensSaved).To(BeNumerically(">=", 0))
			Expect(metrics.WarningsTriggered).To(BeNumerically(">=", 0))
		})

		It("should track the peak turn count", func() {
			testServer.Engine.GetStats(testutil.Conversation(8))

			metrics, err := client.GetMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.PeakTurnCount).To(BeNumerically(">=", 8))
		})

		It("should render a text block with ?format=text", func() {
			resp, err := client.Get(ctx, "/metrics", testutil.WithQuery(map[string]string{
				"format": "text",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.Headers.Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(resp.String()).To(ContainSubstring("compressions:"))
			Expect(resp.String()).To(ContainSubstring("warnings triggered:"))
		})
	})

	// ==================== Store Endpoints ====================
	Describe("GET /identifiers", func() {
		It("should return an empty list, not null", func() {
			testServer.Engine.Evict(0)

			resp, err := client.Get(ctx, "/identifiers")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.String()).To(ContainSubstring(`"identifiers":[]`))

			ids, err := client.GetIdentifiers(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids.Count).To(Equal(0))
			Expect(ids.StoreBytes).To(BeZero())
		})

		It("should list stored tool results", func() {
			id := "toolu_" + testutil.RandomString(12)
			content := "captured output for listing"
			Expect(testServer.Engine.WriteToolResult(id, content)).To(Succeed())

			ids, err := client.GetIdentifiers(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids.Identifiers).To(ContainElement(id))
			Expect(ids.Count).To(Equal(len(ids.Identifiers)))
			Expect(ids.StoreBytes).To(BeNumerically(">=", len(content)))
		})
	})

	Describe("GET /restore", func() {
		It("should restore stored content", func() {
			id := "toolu_" + testutil.RandomString(12)
			content := "line one\nline two\nline three"
			Expect(testServer.Engine.WriteToolResult(id, content)).To(Succeed())

			result, err := client.Restore(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Found).To(BeTrue())
			Expect(result.Content).To(Equal(content))
		})

		It("should return 404 with a recovery hint on a miss", func() {
			id := "toolu_" + testutil.RandomString(12)

			resp, err := client.Get(ctx, "/restore", testutil.WithQuery(map[string]string{
				"id": id,
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))

			var result testutil.RestoreResult
			err = resp.JSON(&result)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Found).To(BeFalse())
			Expect(result.Content).To(ContainSubstring(id))
			Expect(result.Content).To(ContainSubstring("no longer stored"))
		})

		It("should require the id parameter", func() {
			resp, err := client.Get(ctx, "/restore")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))

			var errResp struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			err = resp.JSON(&errResp)
			Expect(err).NotTo(HaveOccurred())
			Expect(errResp.Error.Code).To(Equal("INVALID_REQUEST"))
		})
	})
})

// Additional tests for edge cases and error handling
var _ = Describe("Server Error Handling", func() {
	Describe("Invalid Requests", func() {
		It("should return 404 for unknown paths", func() {
			resp, err := client.Get(ctx, "/unknown/endpoint")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})

		It("should reject write methods", func() {
			resp, err := http.Post(testServer.BaseURL+"/health", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(405))
		})
	})

	Describe("CORS", func() {
		It("should allow cross-origin reads", func() {
			resp, err := client.Get(ctx, "/health", testutil.WithHeader("Origin", "http://example.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.Headers.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})
	})
})

// Concurrent access tests
var _ = Describe("Concurrent Access", func() {
	It("should handle concurrent stats reads", func() {
		const numReads = 10
		done := make(chan bool, numReads)
		errors := make(chan error, numReads)

		for i := 0; i < numReads; i++ {
			go func() {
				stats, err := client.GetStats(ctx)
				if err != nil {
					errors <- err
					return
				}
				if stats.MaxTokens < 0 {
					errors <- err
					return
				}
				done <- true
			}()
		}

		for i := 0; i < numReads; i++ {
			select {
			case <-done:
				// OK
			case err := <-errors:
				Expect(err).NotTo(HaveOccurred())
			case <-time.After(30 * time.Second):
				Fail("Timeout waiting for concurrent stats reads")
			}
		}
	})

	It("should handle reads while the engine mutates", func() {
		const numOps = 10
		done := make(chan bool, numOps)

		for i := 0; i < numOps; i++ {
			go func(n int) {
				defer GinkgoRecover()
				if n%2 == 0 {
					testServer.Engine.GetStats(testutil.Conversation(4))
				} else {
					resp, err := client.Get(ctx, "/stats")
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.IsSuccess()).To(BeTrue())
				}
				done <- true
			}(i)
		}

		for i := 0; i < numOps; i++ {
			select {
			case <-done:
				// OK
			case <-time.After(30 * time.Second):
				Fail("Timeout waiting for mixed reads and writes")
			}
		}
	})
})
