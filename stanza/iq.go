package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
)

// IQType is the type attribute of an IQ stanza.
type IQType string

// IQ types defined by RFC 6120 §8.2.3.
const (
	GetIQ    IQType = "get"
	SetIQ    IQType = "set"
	ResultIQ IQType = "result"
	ErrorIQ  IQType = "error"
)

// IQ ("Information Query") is a request/response stanza. Every get or set
// IQ must eventually be answered with exactly one result or error IQ
// carrying the same ID.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      jid.JID  `xml:"to,attr"`
	From    jid.JID  `xml:"from,attr"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
}

// StartElement returns the XML start element that represents iq, with
// Local forced to "iq".
func (iq IQ) StartElement() xml.StartElement {
	name := iq.XMLName
	name.Local = "iq"

	attrs := make([]xml.Attr, 0, 5)
	if iq.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	if !iq.To.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.To.String()})
	}
	if !iq.From.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.From.String()})
	}
	if iq.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: iq.Lang})
	}
	if iq.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(iq.Type)})
	}
	return xml.StartElement{Name: name, Attr: attrs}
}

// Wrap wraps payload as the child of the IQ start element.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, iq.StartElement())
}

// Result returns a copy of iq addressed back to its sender with Type set to
// ResultIQ, suitable for responding to a Get or Set request.
func (iq IQ) Result() IQ {
	iq.Type = ResultIQ
	iq.To, iq.From = iq.From, iq.To
	return iq
}

// Error returns a copy of iq addressed back to its sender with Type set to
// ErrorIQ. The caller is responsible for wrapping an Error payload when
// serializing the result.
func (iq IQ) Error() IQ {
	iq.Type = ErrorIQ
	iq.To, iq.From = iq.From, iq.To
	return iq
}

// FromStartElement populates an IQ's attributes from a start element,
// parsing to/from as JIDs. It does not consume the payload.
func FromStartElement(start xml.StartElement) (IQ, error) {
	iq := IQ{XMLName: start.Name}
	var err error
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "id":
			iq.ID = a.Value
		case "to":
			if iq.To, err = jid.Parse(a.Value); err != nil {
				return iq, err
			}
		case "from":
			if iq.From, err = jid.Parse(a.Value); err != nil {
				return iq, err
			}
		case "lang":
			if a.Name.Space == ns.XML {
				iq.Lang = a.Value
			}
		case "type":
			iq.Type = IQType(a.Value)
		}
	}
	return iq, nil
}
