// Package orchestrator runs registered actions in response to change events.
//
// The manager subscribes to the change event bus and, for every event whose
// type has actions registered and enabled:
//   - Creates a generation record tracking every action of that invocation
//   - Starts each action in its own goroutine, detached from the emitter
//   - Records per-action progress and settles the record once all actions finish
//   - Persists settled records to the record store
//
// Callers that need the outcome use WaitForChangeActions, which waits for
// every running generation of a type without polling. Timing out only stops
// the wait; the actions keep running.
//
// The validator rejects malformed action registrations.
package orchestrator
