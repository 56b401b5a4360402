// Package harvester discovers documents awaiting signature in an IMAP
// mailbox.
//
// Each poll fetches unread messages, picks a document type from the first
// keyword group that matches the subject or body, and extracts a project name
// from labelled lines such as "Project: Tower A". Every PDF attachment not
// seen within the dedupe TTL is handed to the intake function. Messages whose
// attachments were all accepted are flagged \Seen; messages that match no
// keyword group are left untouched.
package harvester
