// Package protocol implements the workflow protocol: a JSON request/response
// and broadcast layer shared by every connected dashboard.
//
// # Frames
//
// Inbound frames are {"action", "requestId"?, "data"}. Read-only actions
// (get-all, get-pending, get-stats, get-logs) reply to the requester only.
// State-changing actions apply the workflow operation and broadcast a
// signature-* event with refreshed stats to every session, the requester
// included. Errors go to the requester only, as {"type":"error","code",...}.
//
// # Sessions
//
// Connect returns a Session whose first queued frame is the init snapshot
// (all entries, stats, audit tail). Registration and broadcasts share the hub
// lock, so no event between the snapshot and registration is lost. A session
// whose queue fills is closed with ErrSlowConsumer and must reconnect.
//
// The package has no transport; internal/gateway carries frames over
// websockets.
package protocol
