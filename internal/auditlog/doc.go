// Package auditlog provides the Audit Log Broadcaster: a bounded in-memory
// ring of operational log lines with live fan-out to subscribers.
//
// # Overview
//
// Every record at INFO or above that passes through Handler is appended to
// the ring and published to all subscribers. The workflow protocol server
// subscribes once and forwards lines to dashboards as {"type":"log"} frames,
// and sends Tail(n) in the init snapshot of each new connection.
//
//	ring := auditlog.New(500)
//	logger := slog.New(auditlog.NewHandler(baseHandler, ring, slog.LevelInfo))
//
// # Levels
//
// LevelSuccess sits between INFO and WARN and renders as "SUCCESS". It marks
// completed approvals, sends and intakes.
//
// # Backpressure
//
// Publish never blocks. A subscriber whose buffer is full misses lines; the
// ring still holds them for the next snapshot.
package auditlog
