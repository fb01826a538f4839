package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
)

// PresenceType is the type attribute of a presence stanza.
type PresenceType string

// Presence types defined by RFC 6121 §4.7.1 and §3.
const (
	AvailablePresence    PresenceType = ""
	UnavailablePresence  PresenceType = "unavailable"
	SubscribePresence    PresenceType = "subscribe"
	SubscribedPresence   PresenceType = "subscribed"
	UnsubscribePresence  PresenceType = "unsubscribe"
	UnsubscribedPresence PresenceType = "unsubscribed"
	ProbePresence        PresenceType = "probe"
	ErrorPresence        PresenceType = "error"
)

// Presence is a one-way availability stanza.
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	ID      string       `xml:"id,attr"`
	To      jid.JID      `xml:"to,attr"`
	From    jid.JID      `xml:"from,attr"`
	Lang    string       `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    PresenceType `xml:"type,attr,omitempty"`
}

// StartElement returns the XML start element that represents p, with Local
// forced to "presence".
func (p Presence) StartElement() xml.StartElement {
	name := p.XMLName
	name.Local = "presence"

	attrs := make([]xml.Attr, 0, 5)
	if p.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: p.ID})
	}
	if !p.To.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: p.To.String()})
	}
	if !p.From.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: p.From.String()})
	}
	if p.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: p.Lang})
	}
	if p.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(p.Type)})
	}
	return xml.StartElement{Name: name, Attr: attrs}
}

// Wrap wraps payload as a child of the presence start element.
func (p Presence) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, p.StartElement())
}

// PresenceFromStartElement populates a Presence's attributes from a start element.
func PresenceFromStartElement(start xml.StartElement) (Presence, error) {
	p := Presence{XMLName: start.Name}
	var err error
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "id":
			p.ID = a.Value
		case "to":
			if p.To, err = jid.Parse(a.Value); err != nil {
				return p, err
			}
		case "from":
			if p.From, err = jid.Parse(a.Value); err != nil {
				return p, err
			}
		case "lang":
			if a.Name.Space == ns.XML {
				p.Lang = a.Value
			}
		case "type":
			p.Type = PresenceType(a.Value)
		}
	}
	return p, nil
}
