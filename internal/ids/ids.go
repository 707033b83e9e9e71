// Package ids generates the opaque identifiers used throughout the
// coordination engine: scan ids, subscriber ids, and consumer ids.
// Every other package treats these as opaque strings; this package is
// the only one that knows they happen to be UUIDs.
package ids

import "github.com/google/uuid"

// SystemScanID is the sentinel scan_id for plugin events that are not
// bound to a particular scan (spec §3.1, §6.4).
const SystemScanID = "system"

// GlobalScanID is the sentinel scan_id for keep-alives issued before
// any scan is active (spec §6.4).
const GlobalScanID = "global"

// NewScanID returns a freshly generated scan identifier.
func NewScanID() string {
	return uuid.NewString()
}

// NewID returns a freshly generated identifier prefixed for readability
// in logs (e.g. "sub-<uuid>", "cons-<uuid>"). The prefix is cosmetic;
// callers must not parse it back out.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
