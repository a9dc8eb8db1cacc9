// Package store orchestrates durable telemetry persistence: one atomic
// transaction per message that locks the rover row, inserts the snapshot,
// fans the fixed sensor fields out into readings, and commits all-or-
// nothing. A failed write is dropped, never retried; telemetry is a
// continuous stream and the next sample supersedes the lost one.
package store
