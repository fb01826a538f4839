// Package attention implements XEP-0224: Attention, the "buzz" a client
// sends to draw a peer's immediate notice.
package attention

import (
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Buzz sends an attention request to to, per spec.md §8's buzz operation.
// Attention carries no acknowledgement, so Buzz does not block for a
// response the way an IQ-based send would.
func Buzz(s *im.Session, to jid.JID) error {
	msg := stanza.Message{ID: attr.RandomID(), To: to, Type: stanza.HeadlineMessage}
	attn := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Attention, Local: "attention"}})
	return s.Sess.Send(msg.Wrap(attn))
}

// Func is called when a peer requests this session's attention.
type Func func(from jid.JID)

// Handle registers f to be called for every inbound attention request.
func Handle(sess *im.Session, f Func) {
	sess.Handle(mux.MessageFunc(stanza.HeadlineMessage, xml.Name{Space: ns.Attention, Local: "attention"}, func(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
		f(msg.From)
		return nil
	}))
}

// Namespaces reports XEP-0224's namespace for use with an im.Registry.
func Namespaces() []string { return []string{ns.Attention} }
