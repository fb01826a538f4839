// Package si implements Stream Initiation (XEP-0095): negotiating a
// transfer profile and a byte-stream method through a data form exchange,
// the feature-negotiation half of SI file transfer spec.md §4.6
// describes. The filetransfer package drives the file-transfer profile
// through this package and then opens the agreed byte-stream.
//
// No teacher package in the retrieval pack implements SI; this one is
// grounded directly on spec.md §4.6's IQ-Get/result exchange and the
// already-built form package, following the IQ-based request/response
// shape every other extension package in this module uses (disco's
// QueryInfo, ping's Ping).
package si

import (
	"bytes"
	"context"
	"encoding/xml"

	"codeberg.org/xmppgo/client/form"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"mellium.im/xmlstream"
)

// NS is the Stream Initiation namespace.
const NS = "http://jabber.org/protocol/si"

// NSFileTransfer is the file-transfer SI profile namespace.
const NSFileTransfer = "http://jabber.org/protocol/si/profile/file-transfer"

// File describes the file being offered, per XEP-0096.
type File struct {
	Name        string
	Size        int64
	Description string
}

type fileXML struct {
	XMLName     xml.Name `xml:"http://jabber.org/protocol/si/profile/file-transfer file"`
	Name        string   `xml:"name,attr"`
	Size        int64    `xml:"size,attr"`
	Description string   `xml:"desc,omitempty"`
}

// Offer is a stream-initiation request: a file and the byte-stream
// methods the sender is willing to use. The methods are sent as options of
// the stream-method field in no defined order.
type Offer struct {
	SID     string
	File    File
	Methods []string
}

func (o Offer) featureForm() form.Data {
	opts := make(map[string]string, len(o.Methods))
	for _, m := range o.Methods {
		opts[m] = m
	}
	return form.Data{Type: form.TypeForm, Fields: []form.Field{
		{Var: "FORM_TYPE", Type: "hidden", Values: []string{"http://jabber.org/protocol/feature-neg"}},
		{Var: "stream-method", Type: "list-single", Options: opts},
	}}
}

func (o Offer) tokenReader() xml.TokenReader {
	fx := fileXML{Name: o.File.Name, Size: o.File.Size, Description: o.File.Description}
	fb, err := xml.Marshal(fx)
	if err != nil {
		return nil
	}
	fileReader := xmlDecoder(fb)
	ffb, err := xml.Marshal(o.featureForm())
	if err != nil {
		return nil
	}
	neg := xmlstream.Wrap(xmlDecoder(ffb), xml.StartElement{Name: xml.Name{Space: "http://jabber.org/protocol/feature-neg", Local: "feature"}})
	return xmlstream.Wrap(
		xmlstream.MultiReader(fileReader, neg),
		xml.StartElement{
			Name: xml.Name{Space: NS, Local: "si"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "id"}, Value: o.SID},
				{Name: xml.Name{Local: "profile"}, Value: NSFileTransfer},
			},
		},
	)
}

func xmlDecoder(b []byte) xml.TokenReader {
	return xml.NewDecoder(bytes.NewReader(b))
}

// Result is the responder's chosen method, returned in the IQ-result, per
// spec.md §4.6 step 4.
type Result struct {
	Method string
}

type resultSI struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/si si"`
	Feature struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"http://jabber.org/protocol/feature-neg feature"`
}

// Send sends a stream-initiation offer to to and blocks for the
// responder's method choice, per spec.md §4.6's "sending side" flow.
func Send(ctx context.Context, sess *im.Session, to jid.JID, o Offer) (Result, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := sess.SendIQ(ctx, iq, o.tokenReader())
	if err != nil {
		return Result{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		SI      resultSI `xml:"http://jabber.org/protocol/si si"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Result{}, err
	}
	data, err := form.Unmarshal(wrapper.SI.Feature.Inner)
	if err != nil {
		return Result{}, err
	}
	if f, ok := data.Field("stream-method"); ok {
		return Result{Method: f.Value()}, nil
	}
	return Result{}, nil
}

// IncomingOffer is a parsed stream-initiation request, surfaced to the
// filetransfer package for the accept-callback decision in spec.md §4.6
// step 3.
type IncomingOffer struct {
	SID     string
	File    File
	Methods []string
}

// ParseOffer decodes an inbound SI IQ-Get's raw payload into an
// IncomingOffer.
func ParseOffer(raw []byte) (IncomingOffer, error) {
	var wrapper struct {
		XMLName xml.Name
		SI      struct {
			ID      string  `xml:"id,attr"`
			Profile string  `xml:"profile,attr"`
			File    fileXML `xml:"http://jabber.org/protocol/si/profile/file-transfer file"`
			Feature struct {
				Inner []byte `xml:",innerxml"`
			} `xml:"http://jabber.org/protocol/feature-neg feature"`
		} `xml:"http://jabber.org/protocol/si si"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return IncomingOffer{}, err
	}
	data, err := form.Unmarshal(wrapper.SI.Feature.Inner)
	if err != nil {
		return IncomingOffer{}, err
	}
	var methods []string
	if f, ok := data.Field("stream-method"); ok {
		for opt := range f.Options {
			methods = append(methods, f.Options[opt])
		}
		if len(methods) == 0 && f.Value() != "" {
			methods = []string{f.Value()}
		}
	}
	return IncomingOffer{
		SID:     wrapper.SI.ID,
		File:    File{Name: wrapper.SI.File.Name, Size: wrapper.SI.File.Size, Description: wrapper.SI.File.Description},
		Methods: methods,
	}, nil
}

// AcceptResult builds the IQ-result payload announcing the chosen method,
// per spec.md §4.6 step 4.
func AcceptResult(method string) xml.TokenReader {
	d := form.Data{Type: form.TypeSubmit, Fields: []form.Field{
		{Var: "stream-method", Values: []string{method}},
	}}
	b, err := xml.Marshal(d)
	if err != nil {
		return nil
	}
	return xmlstream.Wrap(
		xmlstream.Wrap(xmlDecoder(b), xml.StartElement{Name: xml.Name{Space: "http://jabber.org/protocol/feature-neg", Local: "feature"}}),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "si"}},
	)
}
