// Package websocket provides real-time change event streaming via WebSocket.
//
// Clients connect to /api/v1/events/stream, optionally with one or more
// ?type= filters, and receive every matching change event as JSON.
package websocket
