// Package events provides sinks that observe the change event bus.
//
// Implementations:
//   - memory: bounded in-process journal of recent events
//   - redis: Redis Streams mirror with replay and consumer groups
package events
