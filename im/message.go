package im

import (
	"context"
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// MessageFunc receives an inbound message not otherwise claimed by any
// extension-registered handler for that type and payload.
type MessageFunc func(msg stanza.Message, s *Session)

// OnMessage registers f to be called for every inbound message stanza that
// no extension-registered handler claims for its type and payload; this
// runs as the mux's fallback, below every registered pattern.
func (s *Session) OnMessage(f MessageFunc) { s.onMessage = append(s.onMessage, f) }

func (s *Session) handleMessage(msg stanza.Message, elem stream.Element, sess *xmpp.Session) error {
	for _, f := range s.onMessage {
		f(msg, s)
	}
	return nil
}

// SendMessage serializes msg, allocating an id if msg.ID is empty, the way
// the teacher's session_message.go does for its send helpers. Before
// serialization it runs the output filter chain, per spec.md §4.3's
// outbound data flow.
func (s *Session) SendMessage(msg stanza.Message) error {
	if msg.ID == "" {
		msg.ID = attr.RandomID()
	}
	out := Outgoing{Kind: KindMessage, Message: &msg}
	s.Filters.RunOutput(&out, s)
	return s.Sess.Send(msg.TokenReader())
}

// SendChat is a convenience wrapper around SendMessage for the common case
// of a one-to-one chat message with a single unlabeled body.
func (s *Session) SendChat(to jid.JID, body string) error {
	return s.SendMessage(stanza.Message{
		To:   to,
		Type: stanza.ChatMessage,
		Body: map[string]string{"": body},
	})
}

// SendIQ forwards to the underlying xmpp.Session, wrapping payload as the
// IQ's child, and is provided so extension packages built on *im.Session
// do not need to reach through to Sess for the common case. Before the
// round trip it runs the output filter chain, per spec.md §4.3's outbound
// data flow.
func (s *Session) SendIQ(ctx context.Context, iq stanza.IQ, payload xml.TokenReader) (stanza.IQ, []byte, error) {
	out := Outgoing{Kind: KindIQ, IQ: &iq}
	s.Filters.RunOutput(&out, s)
	return s.Sess.SendIQ(ctx, iq, payload, 0)
}
