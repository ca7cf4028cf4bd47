// Package backlog defines the shared call-task backlog: the task model and
// the store contract every backend implements.
//
// The backlog is the durable source of truth. Whether a task was ever
// dispatched or completed lives here, not in any process's memory; the
// in-process correlation tracker only closes the window between "call
// dispatched" and "completion signal arrived".
package backlog
