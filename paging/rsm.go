// Package paging implements Result Set Management (XEP-0059), the paging
// mechanism MAM and other XEPs embed inside a query to request and describe
// a page of results.
//
// Grounded on the teacher's paging/rsm.go and paging/types.go, trimmed to
// the subset this module's mam package actually drives: forward paging
// (max/after), backward paging (max/before), and the returned Set
// describing first/last/count.
package paging

import (
	"encoding/xml"
	"strconv"

	"mellium.im/xmlstream"
)

// NS is the XEP-0059 result-set-management namespace.
const NS = "http://jabber.org/protocol/rsm"

// Request describes a page request to embed in a query's <set/>. A Request
// with both Before and After empty asks for the first page; setting After
// asks for the page following that item's id; setting Before asks for the
// page preceding it; BeforeLastPage asks for the last page.
type Request struct {
	Max    uint64
	After  string
	Before string
	// BeforeLastPage requests the final page when Before and After are
	// both empty; RSM represents this as an empty, present <before/>
	// element, distinct from omitting <before/> entirely.
	BeforeLastPage bool
}

// TokenReader satisfies xmlstream.Marshaler.
func (r Request) TokenReader() xml.TokenReader {
	var parts []xml.TokenReader
	if r.Max > 0 {
		parts = append(parts, elem("max", strconv.FormatUint(r.Max, 10)))
	}
	switch {
	case r.After != "":
		parts = append(parts, elem("after", r.After))
	case r.Before != "":
		parts = append(parts, elem("before", r.Before))
	case r.BeforeLastPage:
		parts = append(parts, elem("before", ""))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(parts...),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "set"}},
	)
}

func elem(local, data string) xml.TokenReader {
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(data)), xml.StartElement{Name: xml.Name{Local: local}})
}

// Set is the page-description <set/> a server returns alongside a page of
// results: the id of the first and last item on the page and, when the
// server supports it, the total item count across every page.
type Set struct {
	First string
	Last  string
	Count *uint64
}

type setXML struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/rsm set"`
	First   string   `xml:"first"`
	Last    string   `xml:"last"`
	Count   *uint64  `xml:"count"`
}

// FromXML decodes raw into a Set. raw may be either the bare <set/>
// element itself or an enclosing element with <set/> as an immediate
// child. It returns the zero Set and a nil error if no <set/> element is
// present, since result-set paging info is optional on some responses
// (for instance an empty archive).
func FromXML(raw []byte) (Set, error) {
	// Try the bare <set/> case first: setXML's XMLName tag makes this
	// decode fail outright when raw's root is something else, so it
	// can't silently succeed with a zero Set the way the wrapper
	// attempt below would if tried first against a bare <set/>.
	var x setXML
	if err := xml.Unmarshal(raw, &x); err == nil {
		return Set{First: x.First, Last: x.Last, Count: x.Count}, nil
	}
	var wrapper struct {
		XMLName xml.Name
		Set     setXML `xml:"http://jabber.org/protocol/rsm set"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Set{}, nil
	}
	return Set{First: wrapper.Set.First, Last: wrapper.Set.Last, Count: wrapper.Set.Count}, nil
}

// Total returns the server-reported total item count, or 0 if the server
// did not report one.
func (s Set) Total() uint64 {
	if s.Count == nil {
		return 0
	}
	return *s.Count
}
