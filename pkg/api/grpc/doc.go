// Package grpc serves the standard gRPC health service. Its status follows
// the orchestrator's lifecycle: SERVING while it is ready, NOT_SERVING
// otherwise.
package grpc
