package mux

import (
	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// PresenceHandler responds to a presence stanza.
type PresenceHandler interface {
	HandlePresence(p stanza.Presence, elem stream.Element, s *xmpp.Session) error
}

// PresenceHandlerFunc adapts an ordinary function to a PresenceHandler.
type PresenceHandlerFunc func(p stanza.Presence, elem stream.Element, s *xmpp.Session) error

// HandlePresence calls f(p, elem, s).
func (f PresenceHandlerFunc) HandlePresence(p stanza.Presence, elem stream.Element, s *xmpp.Session) error {
	return f(p, elem, s)
}
