package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics an OpenAI-compatible chat completion API, answering
// from configured response rules. The memory engine's only model calls are
// archivist requests, so the default rules speak archivist.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig

	mu       sync.Mutex
	requests []MockRequest
}

// MockRequest records an incoming request for verification.
type MockRequest struct {
	Timestamp time.Time
	Method    string
	Path      string
	Body      map[string]interface{}
}

// NewMockLLMServer creates a mock LLM server with the default rules.
func NewMockLLMServer() *MockLLMServer {
	return NewMockLLMServerWithConfig(DefaultMockLLMConfig())
}

// NewMockLLMServerWithConfig creates a mock LLM server answering per config.
func NewMockLLMServerWithConfig(config *MockLLMConfig) *MockLLMServer {
	m := &MockLLMServer{config: config}

	mux := http.NewServeMux()

	// OpenAI-compatible endpoint
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// ChatBaseURL returns the base URL OpenAI-compatible clients should point at.
func (m *MockLLMServer) ChatBaseURL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns a copy of all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns how many chat requests were served.
func (m *MockLLMServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// handleChatCompletions handles OpenAI-compatible chat completions.
func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := validateMessages(req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Record request
	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      req,
	})
	m.mu.Unlock()

	if m.config.Settings.LagMS > 0 {
		time.Sleep(time.Duration(m.config.Settings.LagMS) * time.Millisecond)
	}

	// The rules match against the newest user message
	content, _ := m.config.FindMatchingResponse(lastUserContent(req))

	stream, _ := req["stream"].(bool)
	if stream && m.config.Settings.EnableStreaming {
		m.writeStreamingResponse(w, content)
		return
	}
	m.writeResponse(w, content)
}

// validateMessages rejects requests carrying empty message content, the way
// real chat APIs do.
func validateMessages(req map[string]interface{}) error {
	messages, ok := req["messages"].([]interface{})
	if !ok || len(messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := msg["content"].(string)
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
	}
	return nil
}

// lastUserContent extracts the newest user message from OpenAI format.
func lastUserContent(req map[string]interface{}) string {
	messages, ok := req["messages"].([]interface{})
	if !ok {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, ok := msg["role"].(string); ok && role == "user" {
			if content, ok := msg["content"].(string); ok {
				return content
			}
		}
	}
	return ""
}

// writeAPIError writes an OpenAI-style error envelope.
func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}

// writeResponse writes a non-streaming OpenAI response.
func (m *MockLLMServer) writeResponse(w http.ResponseWriter, content string) {
	response := map[string]interface{}{
		"id":      "chatcmpl-mockllm-" + generateMockID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeStreamingResponse writes a streaming OpenAI response, chunked per the
// configured chunk mode.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	writeChunk := func(delta map[string]interface{}, finishReason interface{}) {
		chunk := map[string]interface{}{
			"id":      "chatcmpl-mockllm-" + generateMockID(),
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt-4",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishReason,
				},
			},
		}
		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	// First chunk with role
	writeChunk(map[string]interface{}{"role": "assistant"}, nil)

	for _, piece := range m.splitIntoChunks(content) {
		writeChunk(map[string]interface{}{"content": piece}, nil)
		if m.config.Settings.ChunkDelayMS > 0 {
			time.Sleep(time.Duration(m.config.Settings.ChunkDelayMS) * time.Millisecond)
		}
	}

	writeChunk(map[string]interface{}{}, "stop")
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// splitIntoChunks splits content for streaming according to the configured
// chunk mode. Rejoining the chunks always reproduces the content.
func (m *MockLLMServer) splitIntoChunks(content string) []string {
	if content == "" {
		return nil
	}
	settings := m.config.Settings

	var chunks []string
	switch settings.ChunkMode {
	case "char":
		size := settings.ChunkSize
		if size <= 0 {
			size = 1
		}
		for i := 0; i < len(content); i += size {
			end := min(i+size, len(content))
			chunks = append(chunks, content[i:end])
		}
	case "fixed":
		n := settings.MaxChunks
		if n <= 0 {
			n = 1
		}
		if n > len(content) {
			n = len(content)
		}
		base, rem := len(content)/n, len(content)%n
		start := 0
		for i := 0; i < n; i++ {
			length := base
			if i < rem {
				length++
			}
			chunks = append(chunks, content[start:start+length])
			start += length
		}
		return chunks
	default: // word
		chunks = strings.SplitAfter(content, " ")
	}

	if settings.MaxChunks > 0 && len(chunks) > settings.MaxChunks {
		tail := strings.Join(chunks[settings.MaxChunks-1:], "")
		chunks = append(chunks[:settings.MaxChunks-1:settings.MaxChunks-1], tail)
	}
	return chunks
}

// generateMockID generates a simple mock ID.
func generateMockID() string {
	return "mock123456"
}
