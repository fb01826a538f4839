// Package mam implements Message Archive Management (urn:xmpp:mam:2):
// querying a server-side archive for past messages and correlating the
// forwarded results that stream back with the query that requested them.
//
// Grounded on the teacher's history package (history/history.go,
// history/query.go, history/fin.go, history/iter.go), adapted to this
// module's Data-form-shaped form package and its paging.Request/Set
// instead of the teacher's form.New functional DSL and
// paging.RequestNext/RequestPrev types. Where the teacher returns an
// Iter fed by a channel of raw token readers, this package surfaces
// archived messages as a typed event (per spec.md §6's
// ArchiveMessageReceived) through the same onMessage callback list idiom
// every other extension package in this module uses, since that is how
// this module always delivers inbound data rather than a pull iterator.
package mam

import (
	"bytes"
	"context"
	"encoding/xml"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/form"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/paging"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// NS is the MAM namespace.
const NS = "urn:xmpp:mam:2"

const (
	fieldWith   = "with"
	fieldStart  = "start"
	fieldEnd    = "end"
	fieldAfter  = "after-id"
	fieldBefore = "before-id"
	fieldIDs    = "ids"
)

// Query describes an archive query, per spec.md §4.7's
// "get_archived_messages" operation.
type Query struct {
	With     jid.JID
	Start    time.Time
	End      time.Time
	BeforeID string
	AfterID  string
	IDs      []string

	// Page is the requested result-set page; zero value requests the
	// first page with no limit.
	Page paging.Request
}

func (q Query) form() form.Data {
	d := form.Data{Type: form.TypeSubmit, Fields: []form.Field{
		{Var: "FORM_TYPE", Type: "hidden", Values: []string{NS}},
	}}
	if !q.With.IsZero() {
		d.Fields = append(d.Fields, form.Field{Var: fieldWith, Values: []string{q.With.String()}})
	}
	if !q.Start.IsZero() {
		d.Fields = append(d.Fields, form.Field{Var: fieldStart, Values: []string{q.Start.UTC().Format(time.RFC3339)}})
	}
	if !q.End.IsZero() {
		d.Fields = append(d.Fields, form.Field{Var: fieldEnd, Values: []string{q.End.UTC().Format(time.RFC3339)}})
	}
	if q.AfterID != "" {
		d.Fields = append(d.Fields, form.Field{Var: fieldAfter, Values: []string{q.AfterID}})
	}
	if q.BeforeID != "" {
		d.Fields = append(d.Fields, form.Field{Var: fieldBefore, Values: []string{q.BeforeID}})
	}
	if len(q.IDs) > 0 {
		d.Fields = append(d.Fields, form.Field{Var: fieldIDs, Values: q.IDs})
	}
	return d
}

// tokenReader renders the query's <query queryid='...'/> element, embedding
// the data form and the RSM page request as children.
func (q Query) tokenReader(queryID string) xml.TokenReader {
	b, err := xml.Marshal(q.form())
	if err != nil {
		return nil
	}
	formReader := xml.NewDecoder(bytes.NewReader(b))
	return xmlstream.Wrap(
		xmlstream.MultiReader(formReader, q.Page.TokenReader()),
		xml.StartElement{
			Name: xml.Name{Space: NS, Local: "query"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "queryid"}, Value: queryID}},
		},
	)
}

// Fin is the metadata a server reports once an archive query has finished
// streaming results, per spec.md §4.7.
type Fin struct {
	Complete bool
	Stable   bool
	Set      paging.Set
}

type finXML struct {
	Complete string `xml:"complete,attr"`
	Stable   string `xml:"stable,attr"`
	Inner    []byte `xml:",innerxml"`
}

// finFromRaw extracts and decodes a <fin/> element from raw, the bytes of
// its enclosing iq or message stanza.
func finFromRaw(raw []byte) (Fin, error) {
	var wrapper struct {
		XMLName xml.Name
		Fin     finXML `xml:"urn:xmpp:mam:2 fin"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Fin{}, err
	}
	set, err := paging.FromXML(wrapper.Fin.Inner)
	if err != nil {
		return Fin{}, err
	}
	return Fin{
		Complete: wrapper.Fin.Complete == "true",
		Stable:   wrapper.Fin.Stable != "false",
		Set:      set,
	}, nil
}

// ArchivedMessage is a single forwarded archive result, per spec.md §6's
// ArchiveMessageReceived event: the archive id, the stamp the server
// recorded it at, and the original stanza.
type ArchivedMessage struct {
	QueryID string
	ID      string
	Stamp   time.Time
	Message stanza.Message
	Raw     []byte
}

// MessageFunc is called for every archived message forwarded in response
// to a query.
type MessageFunc func(ArchivedMessage)

// FinFunc is called once a query completes, with the final paging
// metadata.
type FinFunc func(queryID string, fin Fin)

// MAM is the im.Extension coordinating outstanding archive queries with
// the forwarded results and fin notices that stream back for them.
type MAM struct {
	sess *im.Session

	onMessage []MessageFunc
	onFin     []FinFunc
}

// New builds a MAM bound to sess and registers its handlers.
func New(sess *im.Session) *MAM {
	m := &MAM{sess: sess}
	sess.Handle(
		mux.MessageFunc(stanza.NormalMessage, xml.Name{Space: NS, Local: "result"}, m.handleResult),
		mux.MessageFunc(stanza.NormalMessage, xml.Name{Space: NS, Local: "fin"}, m.handleBareFin),
	)
	return m
}

// Register declares the "mam" tag with an im.Registry.
func Register(reg *im.Registry) {
	reg.Register("mam", nil, func(sess *im.Session, load func(string) (im.Extension, error)) (im.Extension, error) {
		return New(sess), nil
	})
}

// Namespaces satisfies im.Extension.
func (m *MAM) Namespaces() []string { return []string{NS} }

// OnMessage registers f to be called for every archived message forwarded
// to this session.
func (m *MAM) OnMessage(f MessageFunc) { m.onMessage = append(m.onMessage, f) }

// OnFin registers f to be called once an archive query completes.
func (m *MAM) OnFin(f FinFunc) { m.onFin = append(m.onFin, f) }

type resultXML struct {
	XMLName   xml.Name `xml:"urn:xmpp:mam:2 result"`
	QueryID   string   `xml:"queryid,attr"`
	ID        string   `xml:"id,attr"`
	Forwarded struct {
		Delay   stanza.Delay `xml:"urn:xmpp:delay delay"`
		Message rawMessage   `xml:"message"`
	} `xml:"urn:xmpp:forward:0 forwarded"`
}

// rawMessage captures a forwarded <message/>'s attributes and inner XML so
// it can be re-serialized into a well-formed, attribute-complete element,
// the same approach carbons.go uses to re-inject a forwarded stanza.
type rawMessage struct {
	XMLName xml.Name
	Attr    []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

func (r rawMessage) serialize() []byte {
	b, err := xml.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

func (m *MAM) handleResult(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Result  resultXML `xml:"urn:xmpp:mam:2 result"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	raw := wrapper.Result.Forwarded.Message.serialize()
	if raw == nil {
		return nil
	}
	var innerMsg stanza.Message
	if err := xml.Unmarshal(raw, &innerMsg); err != nil {
		return err
	}
	am := ArchivedMessage{
		QueryID: wrapper.Result.QueryID,
		ID:      wrapper.Result.ID,
		Stamp:   wrapper.Result.Forwarded.Delay.Stamp,
		Message: innerMsg,
		Raw:     raw,
	}
	for _, f := range m.onMessage {
		f(am)
	}
	return nil
}

// handleBareFin tolerates the non-conformant but observed-in-the-wild
// behavior of some servers sending the <fin/> as a bare message instead of
// the IQ result, per spec.md §4.7's "fin handling must work whichever way
// the server sends it".
func (m *MAM) handleBareFin(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	fin, err := finFromRaw(elem.Raw)
	if err != nil {
		return err
	}
	var queryID string
	var probe struct {
		XMLName xml.Name
		Fin     struct {
			QueryID string `xml:"queryid,attr"`
		} `xml:"urn:xmpp:mam:2 fin"`
	}
	if xml.Unmarshal(elem.Raw, &probe) == nil {
		queryID = probe.Fin.QueryID
	}
	for _, f := range m.onFin {
		f(queryID, fin)
	}
	return nil
}

// Fetch sends an archive query and blocks for the IQ result carrying the
// query's fin element, per spec.md §4.7. Forwarded messages matching the
// query arrive asynchronously through OnMessage before Fetch returns,
// since they are sent before the terminating IQ result.
func Fetch(ctx context.Context, sess *im.Session, to jid.JID, q Query) (Fin, error) {
	queryID := attr.RandomID()
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	_, raw, err := sess.SendIQ(ctx, iq, q.tokenReader(queryID))
	if err != nil {
		return Fin{}, err
	}
	return finFromRaw(raw)
}
