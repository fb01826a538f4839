package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
)

// ErrorType is the type attribute of a stanza error payload.
type ErrorType string

// Error types defined by RFC 6120 §8.3.2.
const (
	Cancel   ErrorType = "cancel"
	Auth     ErrorType = "auth"
	Continue ErrorType = "continue"
	Modify   ErrorType = "modify"
	Wait     ErrorType = "wait"
)

// Condition is a defined-condition element name inside a stanza error.
type Condition string

// Conditions defined by RFC 6120 §8.3.3.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PaymentRequired       Condition = "payment-required"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// Error is a stanza-level error payload. It implements the error interface
// so that it can be returned directly from IQ round trips.
type Error struct {
	XMLName   xml.Name
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      map[string]string
}

// Error satisfies the error interface.
func (e Error) Error() string {
	if e.Text != nil {
		if t, ok := e.Text[""]; ok && t != "" {
			return string(e.Condition) + ": " + t
		}
	}
	return string(e.Condition)
}

// TokenReader satisfies xmlstream.Marshaler.
func (e Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "error"}}
	if e.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(e.Type)})
	}
	if by, err := e.By.MarshalXMLAttr(xml.Name{Local: "by"}); err == nil && by.Value != "" {
		start.Attr = append(start.Attr, by)
	}

	var text xml.TokenReader = emptyReader
	for lang, data := range e.Text {
		if data == "" {
			continue
		}
		attrs := []xml.Attr(nil)
		if lang != "" {
			attrs = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: lang}}
		}
		text = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(data)),
			xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: "text"}, Attr: attrs},
		)
	}

	cond := e.Condition
	if cond == "" {
		cond = UndefinedCondition
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(
			xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: string(cond)}}),
			text,
		),
		start,
	)
}

// WriteXML satisfies xmlstream.WriterTo.
func (e Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (e Error) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	e.Type = decoded.Type
	e.By = decoded.By
	if decoded.Condition.XMLName.Space == ns.Stanza {
		e.Condition = Condition(decoded.Condition.XMLName.Local)
	}
	for _, t := range decoded.Text {
		if t.Data == "" {
			continue
		}
		if e.Text == nil {
			e.Text = make(map[string]string)
		}
		e.Text[t.Lang] = t.Data
	}
	return nil
}
