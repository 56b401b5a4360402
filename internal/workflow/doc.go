// Package workflow implements the signing state machine on top of the
// signature store, the stamping engine and the external email collaborators.
//
// # State machine
//
//	pending    --approve--> processing --ok--> approved
//	                         processing --fail--> pending
//	pending    --reject-->  rejected   (terminal)
//	approved   --send-->    sent       (terminal)
//	approved   --rollback-> pending    (signed file deleted)
//
// # Locking
//
// Approve, preview, reject, send and rollback claim a per-entry try-lock. A
// second operation on the same entry fails with KindConflict instead of
// waiting. Approve on an entry already marked processing is also a conflict.
//
// # Errors
//
// Every returned error is classified by KindOf into the taxonomy carried to
// clients: not_found, validation, io, external_service, conflict, internal.
//
// # Collaborators
//
// Mailer and Harvester are interfaces; internal/mailer and internal/harvester
// provide the SMTP and IMAP implementations. Both may be absent, in which case
// the operations that need them fail with KindExternal.
package workflow
