package im

import (
	"bytes"
	"context"
	"encoding/xml"
	"sync"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// SubscriptionState is a roster item's subscription state, as defined by
// RFC 6121 §2.1.2.5.
type SubscriptionState int

// The four subscription states.
const (
	SubNone SubscriptionState = iota
	SubTo
	SubFrom
	SubBoth
)

func (s SubscriptionState) String() string {
	switch s {
	case SubTo:
		return "to"
	case SubFrom:
		return "from"
	case SubBoth:
		return "both"
	default:
		return "none"
	}
}

func parseSubscription(v string) SubscriptionState {
	switch v {
	case "to":
		return SubTo
	case "from":
		return SubFrom
	case "both":
		return SubBoth
	default:
		return SubNone
	}
}

// RosterItem is one entry in a Roster, following spec.md §3's data model.
type RosterItem struct {
	JID          jid.JID
	Name         string
	Group        []string
	Subscription SubscriptionState
	// Pending is true when a subscription request to JID is outstanding
	// (the roster item's "ask" attribute is present).
	Pending bool
}

type rosterItemXML struct {
	JID          jid.JID  `xml:"jid,attr"`
	Name         string   `xml:"name,attr,omitempty"`
	Subscription string   `xml:"subscription,attr,omitempty"`
	Ask          string   `xml:"ask,attr,omitempty"`
	Group        []string `xml:"group"`
}

type rosterQuery struct {
	XMLName xml.Name        `xml:"jabber:iq:roster query"`
	Ver     string          `xml:"ver,attr,omitempty"`
	Item    []rosterItemXML `xml:"item"`
}

func (x rosterItemXML) toItem() RosterItem {
	return RosterItem{
		JID:          x.JID,
		Name:         x.Name,
		Group:        x.Group,
		Subscription: parseSubscription(x.Subscription),
		Pending:      x.Ask == "subscribe",
	}
}

func (it RosterItem) toXML() rosterItemXML {
	x := rosterItemXML{JID: it.JID, Name: it.Name, Group: it.Group}
	if it.Subscription != SubNone {
		x.Subscription = it.Subscription.String()
	}
	return x
}

// Roster is a session's cached contact list, keyed by the contact's bare
// JID, per spec.md §3/§4.3.
type Roster struct {
	mu    sync.RWMutex
	items map[string]RosterItem
}

func newRoster() *Roster {
	return &Roster{items: make(map[string]RosterItem)}
}

// Items returns a snapshot copy of the cached roster.
func (r *Roster) Items() []RosterItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RosterItem, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	return out
}

func (r *Roster) set(it RosterItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.JID.Bare().String()] = it
}

func (r *Roster) delete(j jid.JID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, j.Bare().String())
}

func (r *Roster) replace(items []RosterItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]RosterItem, len(items))
	for _, it := range items {
		r.items[it.JID.Bare().String()] = it
	}
}

// FetchRoster issues the IQ-Get described in spec.md §4.3's get_roster
// operation, replaces the session's cached roster with the result, and
// returns it.
func (s *Session) FetchRoster(ctx context.Context) (*Roster, error) {
	iq := stanza.IQ{Type: stanza.GetIQ}
	q := xml.StartElement{Name: xml.Name{Space: ns.Roster, Local: "query"}}
	payload := startEndReader(q)
	_, raw, err := s.Sess.SendIQ(ctx, iq, payload, 0)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   rosterQuery `xml:"jabber:iq:roster query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	items := make([]RosterItem, 0, len(wrapper.Query.Item))
	for _, x := range wrapper.Query.Item {
		items = append(items, x.toItem())
	}
	s.roster.replace(items)
	return s.roster, nil
}

// AddRosterItem issues the IQ-Set described by spec.md §4.3's
// add_to_roster operation. The local cache is updated by the roster push
// the server sends in response, not by this call directly.
func (s *Session) AddRosterItem(ctx context.Context, it RosterItem) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	q := rosterQuery{Item: []rosterItemXML{it.toXML()}}
	_, _, err := s.Sess.SendIQ(ctx, iq, rosterQueryReader(q), 0)
	return err
}

// RemoveRosterItem issues the IQ-Set described by spec.md §4.3's
// remove_from_roster operation.
func (s *Session) RemoveRosterItem(ctx context.Context, j jid.JID) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	q := rosterQuery{Item: []rosterItemXML{{JID: j, Subscription: "remove"}}}
	_, _, err := s.Sess.SendIQ(ctx, iq, rosterQueryReader(q), 0)
	return err
}

// Roster returns the session's current cached roster.
func (s *Session) Roster() *Roster { return s.roster }

func rosterQueryReader(q rosterQuery) xml.TokenReader {
	b, err := xml.Marshal(q)
	if err != nil {
		return xml.NewDecoder(bytes.NewReader(nil))
	}
	return xml.NewDecoder(bytes.NewReader(b))
}

// RosterUpdateFunc is called when an accepted roster push changes the
// cached roster.
type RosterUpdateFunc func(it RosterItem)

// OnRosterUpdate registers f to be called whenever an accepted roster push
// updates the local cache.
func (s *Session) OnRosterUpdate(f RosterUpdateFunc) { s.onRosterUpdate = append(s.onRosterUpdate, f) }

// handleRosterPush implements the roster-push validation rule from
// spec.md §4.3: a push is accepted only when its sender is empty, the full
// bound JID, or the bare bound JID; otherwise it is silently ignored. An
// accepted push acknowledges with an IQ-Result and raises RosterUpdated.
func (s *Session) handleRosterPush(iq stanza.IQ, elem stream.Element, sess *xmpp.Session) error {
	local := sess.LocalAddr()
	if !iq.From.IsZero() && !iq.From.Equal(local) && !iq.From.Equal(local.Bare()) {
		return nil
	}

	var wrapper struct {
		XMLName xml.Name
		Query   rosterQuery `xml:"jabber:iq:roster query"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}

	for _, x := range wrapper.Query.Item {
		it := x.toItem()
		if x.Subscription == "remove" {
			s.roster.delete(it.JID)
		} else {
			s.roster.set(it)
		}
		for _, f := range s.onRosterUpdate {
			f(it)
		}
	}

	return sess.Send(iq.Result().Wrap(nil))
}
