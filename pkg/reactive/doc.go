// Package reactive provides observable state containers and derived values.
//
// An Observable holds a value and notifies its listeners when a Set changes
// it. Writes that are equal to the current value (reflect.DeepEqual unless
// WithEquality says otherwise) are silent.
//
// A Derived value is computed from other sources through a *Scope:
//
//	first := reactive.New("Ada")
//	last := reactive.New("Lovelace")
//	full := reactive.Derive(func(s *reactive.Scope) string {
//	    return first.Track(s) + " " + last.Track(s)
//	})
//
// Derived values are lazy: they recompute on the first read after a
// dependency changed. Once a listener is attached they recompute when a
// dependency changes and notify only if their own value changed. Writes made
// inside Batch are flushed once, after the outermost Batch returns.
//
// Notifications for a container are delivered one change at a time. A Set
// made from inside one of the container's own listeners does not recurse; the
// change is queued and delivered after the current one. A dispatch that keeps
// producing changes is cut off after MaxNotifyRounds and the Set that started
// it returns ErrNotifyLoop.
package reactive
