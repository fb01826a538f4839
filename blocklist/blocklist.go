// Package blocklist implements urn:xmpp:blocking, blocking and unblocking
// contacts server-side.
package blocklist

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

// Match reports whether j1 is covered by a blocklist entry j2, falling back
// in this order: full JID, bare JID, domain. An entry of the form
// domain/resource is not checked as its own step, so it matches only a JID
// equal to it.
func Match(j1, j2 jid.JID) bool {
	return j1.Equal(j2) ||
		j1.Bare().Equal(j2) ||
		j1.Domain().Equal(j2)
}

type itemXML struct {
	JID string `xml:"jid,attr"`
}

type blocklistXML struct {
	XMLName xml.Name  `xml:"urn:xmpp:blocking blocklist"`
	Item    []itemXML `xml:"item"`
}

// Fetch requests the current blocklist from the server.
func Fetch(ctx context.Context, s *im.Session) ([]jid.JID, error) {
	iq := stanza.IQ{Type: stanza.GetIQ}
	_, raw, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Blocking, Local: "blocklist"}}))
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName   xml.Name
		Blocklist blocklistXML `xml:"urn:xmpp:blocking blocklist"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	jids := make([]jid.JID, 0, len(wrapper.Blocklist.Item))
	for _, it := range wrapper.Blocklist.Item {
		j, err := jid.Parse(it.JID)
		if err != nil {
			return nil, err
		}
		jids = append(jids, j)
	}
	return jids, nil
}

func doIQ(ctx context.Context, s *im.Session, local string, jids []jid.JID) error {
	var items []xml.TokenReader
	for _, j := range jids {
		items = append(items, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "item"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "jid"}, Value: j.String()}},
		}))
	}
	iq := stanza.IQ{Type: stanza.SetIQ}
	payload := xmlstream.Wrap(xmlstream.MultiReader(items...), xml.StartElement{Name: xml.Name{Space: ns.Blocking, Local: local}})
	_, _, err := s.SendIQ(ctx, iq, payload)
	return err
}

// Block adds jids to the blocklist.
func Block(ctx context.Context, s *im.Session, jids ...jid.JID) error {
	return doIQ(ctx, s, "block", jids)
}

// Unblock removes jids from the blocklist. If jids is empty, the entire
// blocklist is cleared, per XEP-0191 §3.3.
func Unblock(ctx context.Context, s *im.Session, jids ...jid.JID) error {
	return doIQ(ctx, s, "unblock", jids)
}

// PushFunc receives a server-initiated block/unblock push. For a block push
// added holds the JIDs newly blocked and removed is nil. For an unblock push
// added is nil and removed holds the JIDs newly unblocked; an empty removed
// means the whole blocklist was cleared.
type PushFunc func(added, removed []jid.JID)

// Handle registers handlers on sess that receive blocklist pushes (IQ-Set
// with a block or unblock payload, which the server sends to every
// connected resource when the blocklist changes) and acknowledges each
// with an IQ-Result, per XEP-0191 §3.4/3.5.
func Handle(sess *im.Session, f PushFunc) {
	reply := func(iq stanza.IQ) error { return sess.Sess.Send(iq.Result().Wrap(nil)) }

	sess.Handle(mux.SetIQFunc(xml.Name{Space: ns.Blocking, Local: "block"}, func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
		var wrapper struct {
			XMLName xml.Name
			Block   struct {
				Item []itemXML `xml:"item"`
			} `xml:"urn:xmpp:blocking block"`
		}
		if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
			return err
		}
		added := parseJIDs(wrapper.Block.Item)
		if f != nil {
			f(added, nil)
		}
		return reply(iq)
	}))
	sess.Handle(mux.SetIQFunc(xml.Name{Space: ns.Blocking, Local: "unblock"}, func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
		var wrapper struct {
			XMLName xml.Name
			Unblock struct {
				Item []itemXML `xml:"item"`
			} `xml:"urn:xmpp:blocking unblock"`
		}
		if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
			return err
		}
		removed := parseJIDs(wrapper.Unblock.Item)
		if f != nil {
			f(nil, removed)
		}
		return reply(iq)
	}))
}

func parseJIDs(items []itemXML) []jid.JID {
	jids := make([]jid.JID, 0, len(items))
	for _, it := range items {
		if j, err := jid.Parse(it.JID); err == nil {
			jids = append(jids, j)
		}
	}
	return jids
}

// Namespaces reports urn:xmpp:blocking's namespace for use with an
// im.Registry.
func Namespaces() []string { return []string{ns.Blocking} }
