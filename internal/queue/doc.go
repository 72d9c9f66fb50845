// Package queue serializes chapter downloads. It owns the task list and the
// active-task marker, persists every state change through a taskstore.Store,
// and hands the actual transfer to a transfer.Transfer. At most one task is
// downloading at any time; finished transfers always re-run scheduling so the
// queue keeps moving after failures.
package queue
