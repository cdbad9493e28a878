package server

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.getHealth)
	r.Get("/config", s.getConfig)

	// Budget observation
	r.Get("/stats", s.getStats)
	r.Get("/metrics", s.getMetrics)

	// Stub store
	r.Get("/identifiers", s.listIdentifiers)
	r.Get("/restore", s.restoreStub)

	// Event streaming (SSE)
	r.Get("/event", s.streamEvents)
}
