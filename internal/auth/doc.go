// Package auth provides optional operator authentication for stampdesk.
//
// Operators present an HS256 JWT issued by `stampdesk token`. The token's sub
// claim names the operator; iss must be "stampdesk" and exp is required.
//
// Middleware guards /ws and /api/*. It accepts
//
//	Authorization: Bearer <token>
//
// or a ?token= query parameter, since browsers cannot set headers on
// websocket upgrades. When auth.jwt_secret is empty the gateway passes a nil
// verifier and every request is allowed.
package auth
