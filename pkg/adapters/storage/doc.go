// Package storage provides the persistence, key/value and generation record
// stores used by services and the orchestrator.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory for local runs and tests
package storage
