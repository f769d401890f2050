// Package monitor condenses the pipeline executor's output stream.
//
// Every line is appended to the raw log and the error-context ring buffer.
// In condensed mode only progress markers at interval crossings, operation
// start/complete notes, executor announcements, and periodic heartbeats reach
// the console. With a zero heartbeat interval every line is echoed verbatim.
package monitor
