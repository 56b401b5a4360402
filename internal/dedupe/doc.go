// Package dedupe provides a TTL and size bounded seen-set. The harvester keys
// it by ContentKey of each attachment so the same document arriving in
// several mails within the window is taken in once.
package dedupe
