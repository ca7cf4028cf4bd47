// Package partition decides which fleet member owns a backlog task.
//
// The predicate is pure and stateless so the live claim query and offline
// diagnostics cannot disagree: for a fixed fleet size every key maps to
// exactly one member index.
package partition

// Owner returns the 1-based index of the fleet member that owns key in a
// fleet of total members. total must be >= 1.
func Owner(key int64, total int) int {
	rem := key % int64(total)
	if rem < 0 {
		rem += int64(total)
	}
	return int(rem) + 1
}

// Assigned reports whether the member at the given 1-based index of a fleet
// of total members owns key. Requires total >= 1 and 1 <= index <= total;
// violating that means the caller's membership invariant already broke
// upstream.
func Assigned(key int64, index, total int) bool {
	return Owner(key, total) == index
}
