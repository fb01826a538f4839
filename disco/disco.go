// Package disco implements Service Discovery (XEP-0030) and Entity
// Capabilities (XEP-0115) on top of the im package's Session.
//
// The teacher has no disco package in the retrieved snapshot; this package
// is grounded on spec.md §4.4 and follows the wire-struct-plus-converter
// idiom the im package established for jabber:iq:roster and
// jabber:iq:privacy: a small xml-tagged struct mirrors the wire schema, and
// exported types (Identity, Info, Item) are what callers actually see.
package disco

import (
	"bytes"
	"context"
	"encoding/xml"
	"sync"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// Identity is one disco#info identity record: a category/type pair with an
// optional human-readable name, per XEP-0030 §3.1.
type Identity struct {
	Category string
	Type     string
	Name     string
}

// Info is the result of a disco#info query: the set of identities a JID
// claims and the namespaces (features) it supports.
type Info struct {
	Identities []Identity
	Features   []string
}

// Supports reports whether info lists feature among its Features.
func (info Info) Supports(feature string) bool {
	for _, f := range info.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Item is one disco#items child: a JID, optionally scoped to a node, with
// an optional display name.
type Item struct {
	JID  jid.JID
	Node string
	Name string
}

// wire encoding, grounded on XEP-0030's disco#info and disco#items schemas.

type identityXML struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr,omitempty"`
}

type featureXML struct {
	Var string `xml:"var,attr"`
}

type infoQueryXML struct {
	XMLName  xml.Name      `xml:"http://jabber.org/protocol/disco#info query"`
	Node     string        `xml:"node,attr,omitempty"`
	Identity []identityXML `xml:"identity"`
	Feature  []featureXML  `xml:"feature"`
}

type itemXML struct {
	JID  string `xml:"jid,attr"`
	Node string `xml:"node,attr,omitempty"`
	Name string `xml:"name,attr,omitempty"`
}

type itemsQueryXML struct {
	XMLName xml.Name  `xml:"http://jabber.org/protocol/disco#items query"`
	Node    string    `xml:"node,attr,omitempty"`
	Item    []itemXML `xml:"item"`
}

func infoToXML(node string, info Info) infoQueryXML {
	q := infoQueryXML{Node: node}
	for _, id := range info.Identities {
		q.Identity = append(q.Identity, identityXML{Category: id.Category, Type: id.Type, Name: id.Name})
	}
	for _, f := range info.Features {
		q.Feature = append(q.Feature, featureXML{Var: f})
	}
	return q
}

func infoFromXML(q infoQueryXML) Info {
	info := Info{}
	for _, id := range q.Identity {
		info.Identities = append(info.Identities, Identity{Category: id.Category, Type: id.Type, Name: id.Name})
	}
	for _, f := range q.Feature {
		info.Features = append(info.Features, f.Var)
	}
	return info
}

func itemsFromXML(q itemsQueryXML) ([]Item, error) {
	items := make([]Item, 0, len(q.Item))
	for _, x := range q.Item {
		var j jid.JID
		var err error
		if x.JID != "" {
			j, err = jid.Parse(x.JID)
			if err != nil {
				return nil, err
			}
		}
		items = append(items, Item{JID: j, Node: x.Node, Name: x.Name})
	}
	return items, nil
}

// QueryInfo sends a disco#info IQ-Get to to, optionally scoped to node, and
// returns the identities and features it advertises.
func QueryInfo(ctx context.Context, s *im.Session, to jid.JID, node string) (Info, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, infoReader(infoQueryXML{Node: node}))
	if err != nil {
		return Info{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   infoQueryXML `xml:"http://jabber.org/protocol/disco#info query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return Info{}, err
	}
	return infoFromXML(wrapper.Query), nil
}

// QueryItems sends a disco#items IQ-Get to to, optionally scoped to node,
// and returns the child items it advertises.
func QueryItems(ctx context.Context, s *im.Session, to jid.JID, node string) ([]Item, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: to}
	_, raw, err := s.SendIQ(ctx, iq, itemsReader(itemsQueryXML{Node: node}))
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   itemsQueryXML `xml:"http://jabber.org/protocol/disco#items query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	return itemsFromXML(wrapper.Query)
}

// Disco answers disco#info and disco#items queries about this session with
// a locally registered set of identities and items, plus every namespace
// advertised by the session's loaded extensions. It implements
// im.Extension so it can be loaded through an im.Registry by packages
// (muc, pep, ...) that want to extend the advertised identity/item set.
type Disco struct {
	sess *im.Session

	mu         sync.RWMutex
	identities []Identity
	items      []Item
}

// New builds a Disco bound to sess and registers its IQ handlers. There is
// no unregistration; a Session has exactly one Disco for its lifetime.
func New(sess *im.Session) *Disco {
	d := &Disco{sess: sess}
	d.AddIdentity(Identity{Category: "client", Type: "bot", Name: "xmppgo"})
	sess.Handle(
		mux.GetIQFunc(xml.Name{Space: ns.DiscoInfo, Local: "query"}, d.handleInfo),
		mux.GetIQFunc(xml.Name{Space: ns.DiscoItems, Local: "query"}, d.handleItems),
	)
	return d
}

// AddIdentity registers an additional identity this session advertises.
func (d *Disco) AddIdentity(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities = append(d.identities, id)
}

// AddItem registers a child item this session advertises under disco#items.
func (d *Disco) AddItem(it Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, it)
}

// Namespaces reports the two disco namespaces, satisfying im.Extension.
func (d *Disco) Namespaces() []string { return []string{ns.DiscoInfo, ns.DiscoItems} }

// Info returns the identities and features this session currently
// advertises, the features being the union of every loaded extension's
// namespaces plus disco's own.
func (d *Disco) Info() Info {
	d.mu.RLock()
	identities := append([]Identity(nil), d.identities...)
	d.mu.RUnlock()
	features := d.sess.Registry.Namespaces()
	for _, n := range d.Namespaces() {
		found := false
		for _, f := range features {
			if f == n {
				found = true
				break
			}
		}
		if !found {
			features = append(features, n)
		}
	}
	return Info{Identities: identities, Features: features}
}

func (d *Disco) handleInfo(iq stanza.IQ, elem stream.Element, sess *xmpp.Session) error {
	res := iq.Result()
	q := infoToXML("", d.Info())
	return d.sess.Sess.Send(res.Wrap(infoReader(q)))
}

func (d *Disco) handleItems(iq stanza.IQ, elem stream.Element, sess *xmpp.Session) error {
	d.mu.RLock()
	items := append([]Item(nil), d.items...)
	d.mu.RUnlock()
	res := iq.Result()
	q := itemsQueryXML{}
	for _, it := range items {
		q.Item = append(q.Item, itemXML{JID: it.JID.String(), Node: it.Node, Name: it.Name})
	}
	return d.sess.Sess.Send(res.Wrap(itemsReader(q)))
}

func infoReader(q infoQueryXML) xml.TokenReader  { return marshalReader(q) }
func itemsReader(q itemsQueryXML) xml.TokenReader { return marshalReader(q) }

func marshalReader(v interface{}) xml.TokenReader {
	b, err := xml.Marshal(v)
	if err != nil {
		return xml.NewDecoder(bytes.NewReader(nil))
	}
	return xml.NewDecoder(bytes.NewReader(b))
}
