// Package server provides the HTTP debug server for the memory engine.
//
// The server exposes a read-only view of a running engine plus a live event
// stream, for attaching dashboards or inspecting a conversation while it
// runs. It never mutates engine state; store maintenance goes through the
// CLI.
//
// # Endpoints
//
//   - GET /health: liveness plus the conversation identifier
//   - GET /config: resolved configuration with provider credentials redacted
//   - GET /stats: most recent context window usage snapshot
//   - GET /metrics: accumulated budget counters, ?format=text for the
//     human-readable block
//   - GET /identifiers: stub store contents and resident size
//   - GET /restore?id=: stub lookup, 404 with a recovery hint on a miss
//   - GET /event: Server-Sent Events stream of every bus event
//
// # Event Streaming
//
// The /event endpoint bridges the engine's event bus onto SSE. Each bus
// event becomes one SSE message, heartbeat comments keep idle connections
// alive, and a slow client loses events instead of blocking a publisher.
//
// # Usage Example
//
//	cfg := server.DefaultConfig()
//	cfg.Port = 8080
//
//	srv := server.New(cfg, eng)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
