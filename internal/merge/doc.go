// Package merge computes safe partial state updates for devices.
//
// A safe update is the subset of an incoming update that:
//   - addresses fields already present in the current state
//   - matches (or coerces cleanly to) the type of the current value
//   - differs from the current value after coercion and rounding
//   - keeps the capability validator satisfied
//
// The package is pure: it performs no I/O and never mutates its inputs.
//
// Array-valued fields declared in Options.KeyedArrays are treated as keyed
// collections. Update items are matched to existing items by the declared
// identity field; items whose identity has no counterpart are dropped with a
// warning. Arrays cannot grow through a state patch.
//
// Usage:
//
//	diff := merge.SafeUpdate(update, current, isValid, merge.DefaultOptions())
//	if len(diff) > 0 {
//	    next := merge.Apply(current, diff, merge.DefaultOptions())
//	}
package merge
