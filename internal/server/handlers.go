package server

import (
	"fmt"
	"net/http"

	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// HealthResponse is the response format for /health.
type HealthResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationID"`
	WorkDir        string `json:"workDir"`
}

// getHealth handles GET /health
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ConversationID: s.engine.ConversationID(),
		WorkDir:        s.engine.WorkDir(),
	})
}

// getConfig handles GET /config. Provider credentials are redacted.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.engine.Config()
	if cfg.Provider != nil {
		redacted := make(map[string]types.ProviderConfig, len(cfg.Provider))
		for id, pc := range cfg.Provider {
			pc.APIKey = ""
			redacted[id] = pc
		}
		cfg.Provider = redacted
	}
	writeJSON(w, http.StatusOK, cfg)
}

// StatsResponse is the response format for /stats.
type StatsResponse struct {
	types.MemoryStats
	EffectiveLimit int `json:"effectiveLimit"`
}

// getStats handles GET /stats
// Stats come from the engine's last snapshot; the server has no access to
// the live turn list.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		MemoryStats:    s.engine.LastStats(),
		EffectiveLimit: s.engine.EffectiveLimit(),
	})
}

// getMetrics handles GET /metrics
// With ?format=text the counters render as the block the CLI prints.
func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, s.engine.FormatMemoryMetrics())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetMemoryMetrics())
}

// IdentifiersResponse is the response format for /identifiers.
type IdentifiersResponse struct {
	Identifiers []string `json:"identifiers"`
	Count       int      `json:"count"`
	StoreBytes  int64    `json:"storeBytes"`
}

// listIdentifiers handles GET /identifiers
func (s *Server) listIdentifiers(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.ListIdentifiers()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, IdentifiersResponse{
		Identifiers: ids,
		Count:       len(ids),
		StoreBytes:  s.engine.StoreSize(),
	})
}

// restoreStub handles GET /restore?id=
// A miss still carries a recovery hint, so the 404 body is the full
// RestoreResult rather than an error envelope.
func (s *Server) restoreStub(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "id is required")
		return
	}

	result := s.engine.Restore(id)
	if !result.Found {
		writeJSON(w, http.StatusNotFound, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
