package mux

import (
	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// MessageHandler responds to a message stanza.
type MessageHandler interface {
	HandleMessage(msg stanza.Message, elem stream.Element, s *xmpp.Session) error
}

// MessageHandlerFunc adapts an ordinary function to a MessageHandler.
type MessageHandlerFunc func(msg stanza.Message, elem stream.Element, s *xmpp.Session) error

// HandleMessage calls f(msg, elem, s).
func (f MessageHandlerFunc) HandleMessage(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	return f(msg, elem, s)
}
