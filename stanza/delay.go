package stanza

import (
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/jid"
)

// NSDelay is the namespace used by Delay.
const NSDelay = "urn:xmpp:delay"

// Delay indicates that delivery of a stanza was delayed, for instance
// because it is a MAM archive result or a Carbons copy sent after the fact.
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// TokenReader satisfies xmlstream.Marshaler.
func (d Delay) TokenReader() xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "stamp"}, Value: d.Stamp.UTC().Format(time.RFC3339Nano)},
	}
	if !d.From.IsZero() {
		attrs = append([]xml.Attr{{Name: xml.Name{Local: "from"}, Value: d.From.String()}}, attrs...)
	}
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Reason)), xml.StartElement{
		Name: xml.Name{Space: NSDelay, Local: "delay"},
		Attr: attrs,
	})
}

// WriteXML satisfies xmlstream.WriterTo.
func (d Delay) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (d Delay) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	return err
}

// UnmarshalXML satisfies xml.Unmarshaler.
func (d *Delay) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var err error
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "from":
			if d.From, err = jid.Parse(a.Value); err != nil {
				return err
			}
		case "stamp":
			if d.Stamp, err = time.Parse(time.RFC3339Nano, a.Value); err != nil {
				if d.Stamp, err = time.Parse("2006-01-02T15:04:05Z", a.Value); err != nil {
					return err
				}
			}
		}
	}
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case xml.EndElement:
		return nil
	case xml.CharData:
		d.Reason = string(t)
		return dec.Skip()
	default:
		return dec.Skip()
	}
}
