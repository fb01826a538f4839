package stanza

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
)

// MessageType is the type attribute of a message stanza.
type MessageType string

// Message types defined by RFC 6121 §5.2.2.
const (
	NormalMessage    MessageType = "normal"
	ChatMessage      MessageType = "chat"
	GroupchatMessage MessageType = "groupchat"
	HeadlineMessage  MessageType = "headline"
	ErrorMessage     MessageType = "error"
)

// Message is a one-way content-bearing stanza. The zero value is a valid
// "normal" type message.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr"`
	To      jid.JID     `xml:"to,attr"`
	From    jid.JID     `xml:"from,attr"`
	Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`

	// Subject and Body are keyed by xml:lang (the empty string is the
	// default, unlabeled element).
	Subject map[string]string
	Body    map[string]string
	Thread  string
}

// StartElement returns the XML start element that represents msg, with
// Local forced to "message".
func (msg Message) StartElement() xml.StartElement {
	name := msg.XMLName
	name.Local = "message"

	attrs := make([]xml.Attr, 0, 5)
	if msg.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: msg.ID})
	}
	if !msg.To.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: msg.To.String()})
	}
	if !msg.From.IsZero() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: msg.From.String()})
	}
	if msg.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: msg.Lang})
	}
	if msg.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(msg.Type)})
	}
	return xml.StartElement{Name: name, Attr: attrs}
}

// Wrap wraps payload as a child of the message start element, after the
// subject/body/thread elements generated from msg's fields.
func (msg Message) Wrap(payload xml.TokenReader) xml.TokenReader {
	var parts []xml.TokenReader
	parts = append(parts, langMapReader("subject", msg.Subject)...)
	parts = append(parts, langMapReader("body", msg.Body)...)
	if msg.Thread != "" {
		parts = append(parts, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(msg.Thread)),
			xml.StartElement{Name: xml.Name{Local: "thread"}},
		))
	}
	if payload != nil {
		parts = append(parts, payload)
	}
	return xmlstream.Wrap(xmlstream.MultiReader(parts...), msg.StartElement())
}

// TokenReader returns a stream of XML tokens representing msg.
func (msg Message) TokenReader() xml.TokenReader {
	return msg.Wrap(nil)
}

// WriteXML satisfies xmlstream.WriterTo.
func (msg Message) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, msg.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (msg Message) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := msg.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (msg *Message) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	raw := struct {
		XMLName xml.Name
		ID      string      `xml:"id,attr"`
		To      jid.JID     `xml:"to,attr"`
		From    jid.JID     `xml:"from,attr"`
		Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
		Type    MessageType `xml:"type,attr"`
		Subject []langText  `xml:"subject"`
		Body    []langText  `xml:"body"`
		Thread  string      `xml:"thread"`
	}{}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	msg.XMLName, msg.ID, msg.To, msg.From, msg.Lang, msg.Type, msg.Thread =
		raw.XMLName, raw.ID, raw.To, raw.From, raw.Lang, raw.Type, raw.Thread
	if msg.Type == "" {
		// RFC 6121 §5.2.2: a message with no type attribute defaults to
		// "normal".
		msg.Type = NormalMessage
	}
	msg.Subject = langTextsToMap(raw.Subject)
	msg.Body = langTextsToMap(raw.Body)
	return nil
}

type langText struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Data string `xml:",chardata"`
}

func langTextsToMap(in []langText) map[string]string {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]string, len(in))
	for _, t := range in {
		m[t.Lang] = t.Data
	}
	return m
}

func langMapReader(local string, m map[string]string) []xml.TokenReader {
	if len(m) == 0 {
		return nil
	}
	out := make([]xml.TokenReader, 0, len(m))
	for lang, data := range m {
		start := xml.StartElement{Name: xml.Name{Local: local}}
		if lang != "" {
			start.Attr = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: lang}}
		}
		out = append(out, xmlstream.Wrap(xmlstream.Token(xml.CharData(data)), start))
	}
	return out
}

// emptyReader is a convenience zero-token reader, mirroring the pattern used
// throughout this package for optional children.
var emptyReader xml.TokenReader = xmlstream.ReaderFunc(func() (xml.Token, error) {
	return nil, io.EOF
})
