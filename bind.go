package xmpp

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
)

// bindFeature returns the StreamFeature that performs resource binding,
// grounded on mellium.im/xmpp's bind.go. Binding is the last feature
// negotiated; its success sets Bind and the session's full JID becomes
// readable (spec.md §8's "every SASL-and-bind success implies a valid full
// JID readable before Ready" invariant).
func bindFeature() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Necessary:  Authn,
		Prohibited: Bind,
		Parse: func(ctx context.Context, raw []byte) (bool, interface{}, error) {
			return true, nil, nil
		},
		Negotiate: func(ctx context.Context, s *Session, _ interface{}) (SessionState, bool, error) {
			// Binding is negotiated before the session's background reader
			// is started (negotiateFeatures is the stream's sole reader up
			// to this point), so the response is read directly off the
			// connection here rather than through SendIQ/the pending-IQ
			// table.
			var inner xml.TokenReader
			resource := s.conf.Origin.Resourcepart()
			if resource != "" {
				inner = xmlstream.Wrap(
					xmlstream.Token(xml.CharData(resource)),
					xml.StartElement{Name: xml.Name{Local: "resource"}},
				)
			}

			reqID := attr.RandomID()
			bindReq := stanza.IQ{ID: reqID, Type: stanza.SetIQ}
			payload := xmlstream.Wrap(inner, xml.StartElement{Name: xml.Name{Space: ns.Bind, Local: "bind"}})

			if err := s.Send(bindReq.Wrap(payload)); err != nil {
				return 0, false, err
			}

			elem, err := s.conn.ReadElement()
			if err != nil {
				return 0, false, err
			}
			resp, err := stanza.FromStartElement(elem.Start)
			if err != nil || resp.Type != stanza.ResultIQ || resp.ID != reqID {
				return 0, false, ErrProtocolViolation
			}

			bound := struct {
				XMLName xml.Name
				Bind    struct {
					JID jid.JID `xml:"jid"`
				} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
			}{}
			if err := xml.Unmarshal(elem.Raw, &bound); err != nil {
				return 0, false, err
			}
			s.setJID(bound.Bind.JID)

			return Bind, false, nil
		},
	}
}
