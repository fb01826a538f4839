// Package version implements jabber:iq:version software version queries.
package version

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

// Query is the payload of a software version query or response, adapted
// from the teacher's version.Query.
type Query struct {
	Name    string
	Version string
	OS      string
}

func (q Query) tokenReader() xml.TokenReader {
	var payloads []xml.TokenReader
	add := func(local, val string) {
		if val == "" {
			return
		}
		payloads = append(payloads, xmlstream.Wrap(xmlstream.Token(xml.CharData(val)), xml.StartElement{Name: xml.Name{Local: local}}))
	}
	add("name", q.Name)
	add("version", q.Version)
	add("os", q.OS)
	return xmlstream.Wrap(xmlstream.MultiReader(payloads...), xml.StartElement{Name: xml.Name{Space: ns.Version, Local: "query"}})
}

type queryXML struct {
	XMLName xml.Name `xml:"jabber:iq:version query"`
	Name    string   `xml:"name,omitempty"`
	Version string   `xml:"version,omitempty"`
	OS      string   `xml:"os,omitempty"`
}

// Get requests the software version of to, blocking until a response
// arrives.
func Get(ctx context.Context, s *im.Session, to jid.JID) (Query, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Version, Local: "query"}}))
	if err != nil {
		return Query{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   queryXML `xml:"jabber:iq:version query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Query{}, err
	}
	return Query{Name: wrapper.Query.Name, Version: wrapper.Query.Version, OS: wrapper.Query.OS}, nil
}

// Handle registers a handler on sess that answers inbound version queries
// with self.
func Handle(sess *im.Session, self Query) {
	sess.Handle(mux.GetIQFunc(xml.Name{Space: ns.Version, Local: "query"}, func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
		return sess.Sess.Send(iq.Result().Wrap(self.tokenReader()))
	}))
}

// Namespaces reports jabber:iq:version's namespace for use with an
// im.Registry.
func Namespaces() []string { return []string{ns.Version} }
