// Package xtime implements XEP-0202: Entity Time and the XEP-0082 date/time
// profile it relies on.
package xtime

import (
	"context"
	"encoding/xml"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

const tzd = "Z07:00"

// Time is like time.Time but marshals as an XEP-0202 time payload, carried
// over from the teacher's xtime.Time verbatim since the wire format and its
// edge cases (timezone-offset-only parsing) are exactly what this package
// still needs.
type Time time.Time

func (t Time) tokenReader() xml.TokenReader {
	tt := time.Time(t)
	tzo := tt.Format(tzd)
	utcTime := tt.UTC().Format(time.RFC3339)
	return xmlstream.Wrap(
		xmlstream.MultiReader(
			xmlstream.Wrap(xmlstream.Token(xml.CharData(tzo)), xml.StartElement{Name: xml.Name{Local: "tzo"}}),
			xmlstream.Wrap(xmlstream.Token(xml.CharData(utcTime)), xml.StartElement{Name: xml.Name{Local: "utc"}}),
		),
		xml.StartElement{Name: xml.Name{Local: "time", Space: ns.Time}},
	)
}

type timeXML struct {
	XMLName  xml.Name `xml:"urn:xmpp:time time"`
	Timezone string   `xml:"tzo"`
	UTC      string   `xml:"utc"`
}

func parseTime(x timeXML) (time.Time, error) {
	var t time.Time
	zone, err := time.Parse(tzd, x.Timezone)
	if err != nil {
		return t, err
	}
	utcTime, err := time.Parse(time.RFC3339, x.UTC)
	if err != nil {
		return t, err
	}
	return utcTime.In(zone.Location()), nil
}

// Get requests to's entity time.
func Get(ctx context.Context, s *im.Session, to jid.JID) (time.Time, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "time", Space: ns.Time}}))
	if err != nil {
		return time.Time{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Time    timeXML `xml:"urn:xmpp:time time"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return time.Time{}, err
	}
	return parseTime(wrapper.Time)
}

// Handle registers a handler that answers entity-time requests. If
// timeFunc is nil, time.Now is used.
func Handle(sess *im.Session, timeFunc func() time.Time) {
	sess.Handle(mux.GetIQFunc(xml.Name{Local: "time", Space: ns.Time}, func(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
		now := time.Now
		if timeFunc != nil {
			now = timeFunc
		}
		return sess.Sess.Send(iq.Result().Wrap(Time(now()).tokenReader()))
	}))
}

// Namespaces reports XEP-0202's namespace for use with an im.Registry.
func Namespaces() []string { return []string{ns.Time} }
