// Package api implements the read-only HTTP status API and WebSocket event
// stream for pipresencemon.
//
// Endpoints under /api/v1:
//   - GET /health: liveness and supervisor state
//   - GET /status: the full daemon snapshot
//   - GET /commands and /commands/{set}: per-command supervision stats
//   - GET /history: stored occupancy and command events
//   - GET /ws: WebSocket stream of occupancy, command and activity events
//
// The API has no authentication and binds to 127.0.0.1 by default. Expose
// it through a reverse proxy if it must leave the host.
package api
