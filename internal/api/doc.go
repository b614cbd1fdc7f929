// Package api implements the HTTP REST API and WebSocket feed for Solar
// Controller Core.
//
// This package provides:
//   - REST endpoints for claiming, listing, controlling, sharing and
//     removing relay controllers
//   - Telemetry history and user lookup for the sharing picker
//   - A WebSocket hub pushing live status changes for subscribed devices
//   - Bearer-token authentication (JWT, plus dev tokens when enabled)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Handlers are thin: they authenticate, decode, call the coordinator and
// map its sentinel errors to HTTP status codes. Every coordinator call
// runs with a context detached from the request, so a client hanging up
// never aborts a transaction half way.
//
// # Graceful Degradation
//
// The server runs without a broker connection. Reads, claims and sharing
// keep working; control requests fail with 502.
package api
