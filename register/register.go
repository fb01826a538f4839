// Package register implements jabber:iq:register (XEP-0077): fetching a
// registration form, either the legacy flat fields or an embedded
// XEP-0004 data form, and submitting a completed one.
package register

import (
	"bytes"
	"context"
	"encoding/xml"

	"codeberg.org/xmppgo/client/form"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"mellium.im/xmlstream"
)

// Fields is the legacy flat jabber:iq:register field set, XEP-0077 §3.1.
// A server advertises which of these it requires by including the
// corresponding empty element in its registration-form response.
type Fields struct {
	Registered   bool
	Username     string
	Nick         string
	Password     string
	Name         string
	Email        string
	Instructions string
}

type fieldsXML struct {
	XMLName      xml.Name  `xml:"jabber:iq:register query"`
	Registered   *struct{} `xml:"registered"`
	Username     string    `xml:"username,omitempty"`
	Nick         string    `xml:"nick,omitempty"`
	Password     string    `xml:"password,omitempty"`
	Name         string    `xml:"name,omitempty"`
	Email        string    `xml:"email,omitempty"`
	Instructions string    `xml:"instructions,omitempty"`
}

// Form is a registration form, carrying the legacy flat fields a server
// reports wanting and, where the server supports it, an extended
// XEP-0004 data form with the same or richer semantics.
type Form struct {
	Fields Fields
	Data   *form.Data
}

// Request fetches the registration form from to (typically the bare
// server JID), per spec.md §8's request_registration operation.
func Request(ctx context.Context, s *im.Session, to jid.JID) (Form, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Register, Local: "query"}}))
	if err != nil {
		return Form{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   fieldsXML `xml:"jabber:iq:register query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Form{}, err
	}
	f := Form{Fields: Fields{
		Registered:   wrapper.Query.Registered != nil,
		Username:     wrapper.Query.Username,
		Nick:         wrapper.Query.Nick,
		Password:     wrapper.Query.Password,
		Name:         wrapper.Query.Name,
		Email:        wrapper.Query.Email,
		Instructions: wrapper.Query.Instructions,
	}}

	// The embedded data form, if any, is a grandchild of the iq root
	// (iq > query > x), one level deeper than fieldsXML's flat fields
	// reach. rawX captures the <x/> child's own attributes and content
	// so it can be re-serialized and handed to form.Unmarshal, the same
	// approach carbons.go and mam.go use to re-inject a nested element.
	var xWrapper struct {
		XMLName xml.Name
		Query   struct {
			XMLName xml.Name
			X       rawX `xml:"jabber:x:data x"`
		} `xml:"jabber:iq:register query"`
	}
	if err := xml.Unmarshal(raw, &xWrapper); err == nil {
		if b := xWrapper.Query.X.serialize(); b != nil {
			if d, err := form.Unmarshal(b); err == nil {
				f.Data = &d
			}
		}
	}
	return f, nil
}

// rawX captures an embedded <x xmlns="jabber:x:data"/> element's full
// identity (attributes and content) for re-serialization.
type rawX struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func (r rawX) serialize() []byte {
	if r.XMLName.Local == "" {
		return nil
	}
	b, err := xml.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

// Submit sends a completed registration, per spec.md §8's
// send_registration operation. When data is non-nil it is sent as an
// embedded data form instead of the legacy flat fields, matching
// whichever shape Request's response advertised.
func Submit(ctx context.Context, s *im.Session, to jid.JID, fields Fields, data *form.Data) error {
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	_, _, err := s.SendIQ(ctx, iq, tokenReader(fields, data))
	return err
}

func tokenReader(fields Fields, data *form.Data) xml.TokenReader {
	var children []xml.TokenReader
	add := func(local, val string) {
		if val == "" {
			return
		}
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(val)), xml.StartElement{Name: xml.Name{Local: local}}))
	}
	if data == nil {
		add("username", fields.Username)
		add("nick", fields.Nick)
		add("password", fields.Password)
		add("name", fields.Name)
		add("email", fields.Email)
	} else if b, err := xml.Marshal(*data); err == nil {
		children = append(children, xml.NewDecoder(bytes.NewReader(b)))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(children...),
		xml.StartElement{Name: xml.Name{Space: ns.Register, Local: "query"}},
	)
}

// Namespaces reports jabber:iq:register's namespace for use with an
// im.Registry.
func Namespaces() []string { return []string{ns.Register} }
