// Package form implements Data Forms (XEP-0004), the structured key/value
// form embedded in IQ payloads for configuration and query negotiation
// (si's profile/method exchange, muc's room configuration form, search's
// extended search form).
//
// The teacher's form package is write-only: it builds forms with a
// functional-option DSL (form/options.go's Field/Option) but has no decode
// path, since the teacher always receives forms as an opaque blob it hands
// to a caller-supplied UI. This module's si and muc packages need to both
// build outgoing forms and parse incoming ones (the chosen byte-stream
// method, the owner-namespace config form), so this package adds Unmarshal
// alongside a field model grounded on the teacher's Common field shape
// (form/fields.go) flattened to one struct instead of one type per XEP-0068
// field type, since none of this module's callers need boolean/jid-multi/
// list-multi field semantics beyond reading and writing string values.
package form

import (
	"bytes"
	"encoding/xml"

	"mellium.im/xmlstream"
)

// NS is the data forms namespace.
const NS = "jabber:x:data"

// Type is the form's top-level type attribute, XEP-0004 §3.3.
type Type string

// Form types.
const (
	TypeForm   Type = "form"
	TypeSubmit Type = "submit"
	TypeCancel Type = "cancel"
	TypeResult Type = "result"
)

// Field is one <field/> element: a var name, a field type, and its
// value(s). List-valued fields (list-multi, jid-multi) carry more than one
// Values entry; every other field type carries at most one.
type Field struct {
	Var      string
	Type     string
	Label    string
	Desc     string
	Required bool
	Values   []string
	// Options holds the label/value pairs of a list-single or list-multi
	// field's selectable options, for forms that advertise them (si's
	// method-choice field, for instance).
	Options map[string]string
}

// Value returns the field's first value, or "" if it has none.
func (f Field) Value() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

// Data is a data form: a type, optional title/instructions, and its fields
// in wire order.
type Data struct {
	Type         Type
	Title        string
	Instructions string
	Fields       []Field
}

// Field returns the named field, or the zero Field and false if no field
// with that var exists.
func (d Data) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Var == name {
			return f, true
		}
	}
	return Field{}, false
}

type fieldXML struct {
	Var      string   `xml:"var,attr,omitempty"`
	Type     string   `xml:"type,attr,omitempty"`
	Label    string   `xml:"label,attr,omitempty"`
	Desc     string   `xml:"desc,omitempty"`
	Required *struct{} `xml:"required,omitempty"`
	Value    []string `xml:"value"`
	Option   []struct {
		Label string `xml:"label,attr,omitempty"`
		Value string `xml:"value"`
	} `xml:"option"`
}

type dataXML struct {
	XMLName      xml.Name   `xml:"jabber:x:data x"`
	Type         Type       `xml:"type,attr"`
	Title        string     `xml:"title,omitempty"`
	Instructions string     `xml:"instructions,omitempty"`
	Field        []fieldXML `xml:"field"`
}

func toXML(d Data) dataXML {
	x := dataXML{Type: d.Type, Title: d.Title, Instructions: d.Instructions}
	for _, f := range d.Fields {
		fx := fieldXML{Var: f.Var, Type: f.Type, Label: f.Label, Desc: f.Desc, Value: f.Values}
		if f.Required {
			fx.Required = &struct{}{}
		}
		for label, value := range f.Options {
			fx.Option = append(fx.Option, struct {
				Label string `xml:"label,attr,omitempty"`
				Value string `xml:"value"`
			}{Label: label, Value: value})
		}
		x.Field = append(x.Field, fx)
	}
	return x
}

func fromXML(x dataXML) Data {
	d := Data{Type: x.Type, Title: x.Title, Instructions: x.Instructions}
	for _, fx := range x.Field {
		f := Field{Var: fx.Var, Type: fx.Type, Label: fx.Label, Desc: fx.Desc, Values: fx.Value, Required: fx.Required != nil}
		for _, o := range fx.Option {
			if f.Options == nil {
				f.Options = make(map[string]string)
			}
			f.Options[o.Label] = o.Value
		}
		d.Fields = append(d.Fields, f)
	}
	return d
}

// TokenReader satisfies xmlstream.Marshaler.
func (d Data) TokenReader() xml.TokenReader {
	b, err := xml.Marshal(toXML(d))
	if err != nil {
		return xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NS, Local: "x"}})
	}
	return decoderReader(b)
}

// WriteXML satisfies xmlstream.WriterTo.
func (d Data) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, d.TokenReader())
}

// MarshalXML satisfies xml.Marshaler.
func (d Data) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := d.WriteXML(e)
	return err
}

// Unmarshal parses raw (the bytes of the bare <x xmlns='jabber:x:data'/>
// element, or an enclosing element containing one as an immediate child)
// into a Data.
func Unmarshal(raw []byte) (Data, error) {
	// Try the bare <x/> case first: dataXML's XMLName tag makes this
	// decode fail outright when raw's root is something else, so it
	// can't silently succeed with a zero Data the way the wrapper
	// attempt below would if tried first against a bare <x/>.
	var x dataXML
	if err := xml.Unmarshal(raw, &x); err == nil {
		return fromXML(x), nil
	}
	var wrapper struct {
		XMLName xml.Name
		X       dataXML `xml:"jabber:x:data x"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Data{}, err
	}
	return fromXML(wrapper.X), nil
}

func decoderReader(b []byte) xml.TokenReader {
	return xml.NewDecoder(bytes.NewReader(b))
}
