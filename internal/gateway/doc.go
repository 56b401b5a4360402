// Package gateway serves stampdesk over HTTP.
//
// # Endpoints
//
//   - GET /ws - websocket carrying the workflow protocol (see internal/protocol)
//   - GET /api/signatures?status=&docType= - entries newest first, with stats
//   - GET /api/signatures/{id} - one entry
//   - GET /api/signatures/{id}/original - the intake document
//   - GET /api/signatures/{id}/signed - the stamped copy, once approved
//   - GET /api/stats - per-status counts
//   - GET /health - liveness
//   - GET /ready - 200 once the listener is accepting
//
// /ws and /api/* require an operator token when auth.jwt_secret is set.
// The REST surface is read-only; every mutation goes through the protocol so
// all dashboards see it.
//
// # Websocket Transport
//
// Each connection gets a protocol.Session. A reader goroutine hands text
// frames to protocol.Server.Handle in arrival order; the handler loop writes
// queued frames with a 5s timeout. A session dropped as a slow consumer is
// closed with StatusPolicyViolation so the dashboard reconnects and
// reconciles from a fresh init snapshot.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, protoServer, service, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run listens on server.http_addr, or on :80 of a tsnet node when
// tailscale.enabled is set. If the HTTP server fails it is restarted after
// server.restart_delay. Cancelling ctx shuts the server down gracefully and
// closes every session.
package gateway
