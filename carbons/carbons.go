// Package carbons implements urn:xmpp:carbons:2: carbon-copying a user's
// messages to every connected resource.
package carbons

import (
	"context"
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Enable asks the server to start carbon-copying this session's messages to
// every connected resource, per XEP-0280 §4.
func Enable(ctx context.Context, s *im.Session) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	_, _, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Carbons, Local: "enable"}}))
	return err
}

// Disable turns carbon copying back off.
func Disable(ctx context.Context, s *im.Session) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	_, _, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Carbons, Local: "disable"}}))
	return err
}

// The teacher's carbons.go ends with Enable/EnableIQ/Disable/DisableIQ and
// then an unfinished DisableCarbon transformer (an incomplete switch with no
// case bodies) that was never carried over here; this package only reuses
// the clean half.

// rawElement captures an XML element's name, attributes, and literal inner
// XML via the ",innerxml" tag option so it can be re-serialized and
// re-dispatched byte-for-byte as an independent stanza.
type rawElement struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func (r rawElement) serialize() []byte {
	b, err := xml.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

type forwardedXML struct {
	Delay   stanza.Delay `xml:"urn:xmpp:delay delay"`
	Message rawElement   `xml:"message"`
}

type receivedXML struct {
	XMLName   xml.Name     `xml:"urn:xmpp:carbons:2 received"`
	Forwarded forwardedXML `xml:"urn:xmpp:forward:0 forwarded"`
}

type sentXML struct {
	XMLName   xml.Name     `xml:"urn:xmpp:carbons:2 sent"`
	Forwarded forwardedXML `xml:"urn:xmpp:forward:0 forwarded"`
}

// Handle registers handlers that unwrap inbound Carbons copies and
// re-dispatch the forwarded message through sess.HandleXMPP as though it had
// arrived directly, per spec.md §9: carbon copies re-enter the inbound
// pipeline rather than surfacing as a distinct event type. A forwarded copy
// that is itself wrapped in another carbons envelope is dropped instead of
// recursing, since no legitimate server nests carbons.
func Handle(sess *im.Session) {
	handleReceived := func(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
		var wrapper struct {
			XMLName  xml.Name
			Received receivedXML `xml:"urn:xmpp:carbons:2 received"`
		}
		if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
			return err
		}
		return reinject(sess, s, wrapper.Received.Forwarded)
	}
	handleSent := func(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
		var wrapper struct {
			XMLName xml.Name
			Sent    sentXML `xml:"urn:xmpp:carbons:2 sent"`
		}
		if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
			return err
		}
		return reinject(sess, s, wrapper.Sent.Forwarded)
	}
	// A carbon wrapper's own type attribute isn't constrained by XEP-0280;
	// servers commonly send "chat", but register for every message type the
	// im package recognizes so the payload name, not the wrapper's type,
	// selects the handler.
	for _, typ := range []stanza.MessageType{
		stanza.NormalMessage, stanza.ChatMessage, stanza.GroupchatMessage, stanza.HeadlineMessage,
	} {
		sess.Handle(mux.MessageFunc(typ, xml.Name{Space: ns.Carbons, Local: "received"}, handleReceived))
		sess.Handle(mux.MessageFunc(typ, xml.Name{Space: ns.Carbons, Local: "sent"}, handleSent))
	}
}

func reinject(sess *im.Session, s *xmpp.Session, fwd forwardedXML) error {
	inner := fwd.Message
	if inner.XMLName.Local == "" {
		return nil
	}
	if isCarbonEnvelope(inner.Inner) {
		return nil
	}
	innerRaw := inner.serialize()
	if innerRaw == nil {
		return nil
	}
	return sess.HandleXMPP(stream.Element{
		Start: xml.StartElement{Name: inner.XMLName, Attr: inner.Attr},
		Raw:   innerRaw,
	}, s)
}

// isCarbonEnvelope reports whether a forwarded message's inner XML itself
// contains another carbons received/sent wrapper, guarding against
// unbounded unwrap recursion.
func isCarbonEnvelope(innerXML []byte) bool {
	var probe struct {
		Received *struct{} `xml:"urn:xmpp:carbons:2 received"`
		Sent     *struct{} `xml:"urn:xmpp:carbons:2 sent"`
	}
	wrapped := append(append([]byte("<message>"), innerXML...), []byte("</message>")...)
	if err := xml.Unmarshal(wrapped, &probe); err != nil {
		return false
	}
	return probe.Received != nil || probe.Sent != nil
}

// Namespaces reports urn:xmpp:carbons:2's namespace for use with an
// im.Registry.
func Namespaces() []string { return []string{ns.Carbons} }
