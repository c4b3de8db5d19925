// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Emitting change events and waiting for their actions
//   - Generation record queries
//   - Enabling and disabling change types
//   - Recent events, health checks and Prometheus metrics
package http
