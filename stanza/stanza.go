// Package stanza implements the three top level XMPP stanza kinds: IQ,
// Message, and Presence, along with the generic stanza error payload and
// delayed-delivery timestamps used by several extensions.
package stanza

import (
	"encoding/xml"

	"codeberg.org/xmppgo/client/internal/ns"
)

// Is reports whether name identifies a top level XMPP stanza.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == ns.Server || name.Space == "")
}

// NSClient and NSServer are provided as a convenience for code that needs to
// compare against the stanza namespace explicitly.
const (
	NSClient = ns.Client
	NSServer = ns.Server
)
