package mux

import (
	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// IQHandler responds to an IQ stanza. elem is the full buffered iq element;
// implementations that need the payload decode it themselves via
// elem.Decoder(), matching the teacher's pattern of handing handlers a
// token stream positioned at the payload rather than a pre-decoded value.
type IQHandler interface {
	HandleIQ(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error
}

// IQHandlerFunc adapts an ordinary function to an IQHandler.
type IQHandlerFunc func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error

// HandleIQ calls f(iq, elem, s).
func (f IQHandlerFunc) HandleIQ(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
	return f(iq, elem, s)
}
