// Package search implements jabber:iq:search (XEP-0055): fetching a
// search form from a directory service and submitting search criteria to
// get back a set of matching JIDs.
package search

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

// Fields is the legacy flat jabber:iq:search field set, XEP-0055 §2.
type Fields struct {
	Instructions string
	First        string
	Last         string
	Nick         string
	Email        string
}

type fieldsXML struct {
	XMLName      xml.Name `xml:"jabber:iq:search query"`
	Instructions string   `xml:"instructions,omitempty"`
	First        string   `xml:"first,omitempty"`
	Last         string   `xml:"last,omitempty"`
	Nick         string   `xml:"nick,omitempty"`
	Email        string   `xml:"email,omitempty"`
}

// Form is a search form: the legacy flat fields and, where the directory
// service supports extended search, the XEP-0004 data form describing the
// full set of searchable fields, per spec.md §8's request_search_form
// operation.
type Form struct {
	Fields Fields
	Data   *form.Data
}

// rawX captures an embedded <x xmlns="jabber:x:data"/> element's full
// identity for re-serialization, the same approach carbons.go,
// mam.go, and register.go use for a nested foreign element.
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

// RequestForm fetches the search form from to (the directory service's
// JID).
func RequestForm(ctx context.Context, s *im.Session, to jid.JID) (Form, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.Search, Local: "query"}}))
	if err != nil {
		return Form{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   fieldsXML `xml:"jabber:iq:search query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Form{}, err
	}
	f := Form{Fields: Fields{
		Instructions: wrapper.Query.Instructions,
		First:        wrapper.Query.First,
		Last:         wrapper.Query.Last,
		Nick:         wrapper.Query.Nick,
		Email:        wrapper.Query.Email,
	}}

	var xWrapper struct {
		XMLName xml.Name
		Query   struct {
			XMLName xml.Name
			X       rawX `xml:"jabber:x:data x"`
		} `xml:"jabber:iq:search query"`
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

// Result is one matching entry a search returns, XEP-0055 §3's item
// shape.
type Result struct {
	JID   jid.JID
	First string
	Last  string
	Nick  string
	Email string
}

type resultXML struct {
	JID   jid.JID `xml:"jid,attr"`
	First string  `xml:"first,omitempty"`
	Last  string  `xml:"last,omitempty"`
	Nick  string  `xml:"nick,omitempty"`
	Email string  `xml:"email,omitempty"`
}

// Search submits the legacy flat-field criteria to the directory service
// at to, returning the matching entries, per spec.md §8's search
// operation. SearchForm covers the extended, data-form variant.
func Search(ctx context.Context, s *im.Session, to jid.JID, fields Fields) ([]Result, error) {
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, fieldsTokenReader(fields))
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   struct {
			XMLName xml.Name
			Item    []resultXML `xml:"item"`
		} `xml:"jabber:iq:search query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(wrapper.Query.Item))
	for _, it := range wrapper.Query.Item {
		results = append(results, Result{JID: it.JID, First: it.First, Last: it.Last, Nick: it.Nick, Email: it.Email})
	}
	return results, nil
}

// SearchForm submits an extended-search data form to the directory
// service at to. It returns the response's data form as a one-element slice
// (nil if the response carries none); only the form's top-level fields are
// parsed, and per-entry reported/item rows are not.
func SearchForm(ctx context.Context, s *im.Session, to jid.JID, data form.Data) ([]form.Data, error) {
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	b, err := xml.Marshal(data)
	if err != nil {
		return nil, err
	}
	payload := xmlstream.Wrap(xml.NewDecoder(bytes.NewReader(b)), xml.StartElement{Name: xml.Name{Space: ns.Search, Local: "query"}})
	_, raw, err := s.SendIQ(ctx, iq, payload)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   struct {
			XMLName xml.Name
			X       rawX `xml:"jabber:x:data x"`
		} `xml:"jabber:iq:search query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	serialized := wrapper.Query.X.serialize()
	if serialized == nil {
		return nil, nil
	}
	d, err := form.Unmarshal(serialized)
	if err != nil {
		return nil, err
	}
	return []form.Data{d}, nil
}

func fieldsTokenReader(f Fields) xml.TokenReader {
	var children []xml.TokenReader
	add := func(local, val string) {
		if val == "" {
			return
		}
		children = append(children, xmlstream.Wrap(xmlstream.Token(xml.CharData(val)), xml.StartElement{Name: xml.Name{Local: local}}))
	}
	add("first", f.First)
	add("last", f.Last)
	add("nick", f.Nick)
	add("email", f.Email)
	return xmlstream.Wrap(
		xmlstream.MultiReader(children...),
		xml.StartElement{Name: xml.Name{Space: ns.Search, Local: "query"}},
	)
}

// Namespaces reports jabber:iq:search's namespace for use with an
// im.Registry.
func Namespaces() []string { return []string{ns.Search} }
