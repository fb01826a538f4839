// Package ping implements XEP-0199: XMPP Ping.
package ping

import (
	"context"
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Ping sends an XEP-0199 ping IQ to to and waits for the result, returning
// any stanza error the peer responds with. The teacher's ping.IQ carries
// only the wire shape (stanza.IQ embedding a bare <ping/>); this package
// adds the send/reply roundtrip the teacher leaves to its session package.
func Ping(ctx context.Context, s *im.Session, to jid.JID) error {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, _, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Ping, Local: "ping"}}))
	return err
}

// Handle registers a handler on sess that replies to inbound ping requests
// with an empty IQ-Result, as XEP-0199 §3 requires of any entity that
// supports the protocol.
func Handle(sess *im.Session) {
	sess.Handle(mux.GetIQFunc(xml.Name{Space: ns.Ping, Local: "ping"}, func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
		return sess.Sess.Send(iq.Result().Wrap(nil))
	}))
}

// Namespaces reports XEP-0199's namespace for use with an im.Registry.
func Namespaces() []string { return []string{ns.Ping} }
