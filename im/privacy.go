package im

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"sync"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
)

// PrivacyAction is the action taken by a matching PrivacyRule.
type PrivacyAction int

// The two privacy actions defined by RFC 6121 §12.
const (
	Allow PrivacyAction = iota
	Deny
)

func (a PrivacyAction) String() string {
	if a == Deny {
		return "deny"
	}
	return "allow"
}

// Granularity is a bitmask of the stanza kinds a PrivacyRule applies to.
type Granularity uint8

// The four granularities a rule may restrict, independently combinable.
const (
	GranMessage Granularity = 1 << iota
	GranIQ
	GranPresenceIn
	GranPresenceOut
)

// GranAll matches every granularity, the default when a rule specifies
// none explicitly.
const GranAll = GranMessage | GranIQ | GranPresenceIn | GranPresenceOut

// SelectorKind identifies which field of a Selector is meaningful.
type SelectorKind int

// The four selector kinds defined by spec.md §3's PrivacyList data model.
const (
	SelectAny SelectorKind = iota
	SelectJID
	SelectGroup
	SelectSubscription
)

// Selector identifies which peers a PrivacyRule applies to.
type Selector struct {
	Kind         SelectorKind
	JID          jid.JID
	Group        string
	Subscription SubscriptionState
}

// AnySelector matches every peer.
func AnySelector() Selector { return Selector{Kind: SelectAny} }

// JIDSelector matches a specific JID (bare or full).
func JIDSelector(j jid.JID) Selector { return Selector{Kind: SelectJID, JID: j} }

// GroupSelector matches peers in the named roster group.
func GroupSelector(group string) Selector { return Selector{Kind: SelectGroup, Group: group} }

// SubscriptionSelector matches peers whose roster subscription state is sub.
func SubscriptionSelector(sub SubscriptionState) Selector {
	return Selector{Kind: SelectSubscription, Subscription: sub}
}

func (sel Selector) matches(peer jid.JID, sub SubscriptionState, groups []string) bool {
	switch sel.Kind {
	case SelectAny:
		return true
	case SelectJID:
		return sel.JID.Equal(peer) || sel.JID.Equal(peer.Bare())
	case SelectGroup:
		for _, g := range groups {
			if g == sel.Group {
				return true
			}
		}
		return false
	case SelectSubscription:
		return sel.Subscription == sub
	default:
		return false
	}
}

// PrivacyRule is one ordered rule in a PrivacyList, per spec.md §3.
type PrivacyRule struct {
	Order       uint32
	Action      PrivacyAction
	Granularity Granularity
	Selector    Selector
}

// PrivacyList is a named, ordered sequence of PrivacyRules. Rules are kept
// sorted ascending by Order and evaluated first-match-wins, per spec.md
// §3's invariants. There is no teacher equivalent; the type is modeled
// directly on the spec's data model since jabber:iq:privacy never appears
// in the example pack.
type PrivacyList struct {
	mu    sync.RWMutex
	Name  string
	Rules []PrivacyRule
}

func newPrivacyList(name string) *PrivacyList { return &PrivacyList{Name: name} }

// SetRules validates and replaces l's rule set. It rejects a set containing
// duplicate Order values, per spec.md §3's uniqueness invariant.
func (l *PrivacyList) SetRules(rules []PrivacyRule) error {
	seen := make(map[uint32]bool, len(rules))
	for _, r := range rules {
		if seen[r.Order] {
			return fmt.Errorf("im: duplicate privacy rule order %d", r.Order)
		}
		seen[r.Order] = true
	}
	sorted := make([]PrivacyRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	l.mu.Lock()
	l.Rules = sorted
	l.mu.Unlock()
	return nil
}

// Evaluate walks l's rules in ascending order and returns the action of the
// first rule whose granularity includes g and whose selector matches peer.
// It returns Allow, the RFC 6121 default, if no rule matches.
func (l *PrivacyList) Evaluate(g Granularity, peer jid.JID, sub SubscriptionState, groups []string) PrivacyAction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.Rules {
		if r.Granularity != 0 && r.Granularity&g == 0 {
			continue
		}
		if r.Selector.matches(peer, sub, groups) {
			return r.Action
		}
	}
	return Allow
}

// wire encoding, grounded on RFC 6121 §12's jabber:iq:privacy schema.

type privacyItemXML struct {
	Type          string `xml:"type,attr,omitempty"`
	Value         string `xml:"value,attr,omitempty"`
	Action        string `xml:"action,attr"`
	Order         uint32 `xml:"order,attr"`
	Message       *struct{} `xml:"message"`
	IQ            *struct{} `xml:"iq"`
	PresenceIn    *struct{} `xml:"presence-in"`
	PresenceOut   *struct{} `xml:"presence-out"`
}

type privacyListXML struct {
	Name string           `xml:"name,attr"`
	Item []privacyItemXML `xml:"item"`
}

type privacyQueryXML struct {
	XMLName xml.Name         `xml:"jabber:iq:privacy query"`
	Active  *privacyNameXML  `xml:"active"`
	Default *privacyNameXML  `xml:"default"`
	List    []privacyListXML `xml:"list"`
}

type privacyNameXML struct {
	Name string `xml:"name,attr,omitempty"`
}

func (r PrivacyRule) toXML() privacyItemXML {
	x := privacyItemXML{Action: r.Action.String(), Order: r.Order}
	switch r.Selector.Kind {
	case SelectJID:
		x.Type, x.Value = "jid", r.Selector.JID.String()
	case SelectGroup:
		x.Type, x.Value = "group", r.Selector.Group
	case SelectSubscription:
		x.Type, x.Value = "subscription", r.Selector.Subscription.String()
	}
	if r.Granularity&GranMessage != 0 {
		x.Message = &struct{}{}
	}
	if r.Granularity&GranIQ != 0 {
		x.IQ = &struct{}{}
	}
	if r.Granularity&GranPresenceIn != 0 {
		x.PresenceIn = &struct{}{}
	}
	if r.Granularity&GranPresenceOut != 0 {
		x.PresenceOut = &struct{}{}
	}
	return x
}

func privacyRuleFromXML(x privacyItemXML) PrivacyRule {
	r := PrivacyRule{Order: x.Order}
	if x.Action == "deny" {
		r.Action = Deny
	}
	switch x.Type {
	case "jid":
		r.Selector = JIDSelector(jid.MustParse(x.Value))
	case "group":
		r.Selector = GroupSelector(x.Value)
	case "subscription":
		r.Selector = SubscriptionSelector(parseSubscription(x.Value))
	default:
		r.Selector = AnySelector()
	}
	if x.Message != nil {
		r.Granularity |= GranMessage
	}
	if x.IQ != nil {
		r.Granularity |= GranIQ
	}
	if x.PresenceIn != nil {
		r.Granularity |= GranPresenceIn
	}
	if x.PresenceOut != nil {
		r.Granularity |= GranPresenceOut
	}
	return r
}

// ActivePrivacyList returns the session's local record of the currently
// active privacy list. ActivatePrivacyList records only the list's Name
// here; its rules are not fetched from the server. Name is empty if no list
// has been activated yet this session.
func (s *Session) ActivePrivacyList() *PrivacyList { return s.privacy }

// FetchPrivacyListNames returns the names of the lists stored on the
// server, and the names of the active and default lists if either is set.
func (s *Session) FetchPrivacyListNames(ctx context.Context) (names []string, active, deflt string, err error) {
	iq := stanza.IQ{Type: stanza.GetIQ}
	q := xml.StartElement{Name: xml.Name{Space: ns.Privacy, Local: "query"}}
	_, raw, err := s.Sess.SendIQ(ctx, iq, startEndReader(q), 0)
	if err != nil {
		return nil, "", "", err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   privacyQueryXML `xml:"jabber:iq:privacy query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, "", "", err
	}
	for _, l := range wrapper.Query.List {
		names = append(names, l.Name)
	}
	if wrapper.Query.Active != nil {
		active = wrapper.Query.Active.Name
	}
	if wrapper.Query.Default != nil {
		deflt = wrapper.Query.Default.Name
	}
	return names, active, deflt, nil
}

// FetchPrivacyList retrieves the named list and returns it.
func (s *Session) FetchPrivacyList(ctx context.Context, name string) (*PrivacyList, error) {
	iq := stanza.IQ{Type: stanza.GetIQ}
	q := privacyQueryXML{List: []privacyListXML{{Name: name}}}
	_, raw, err := s.Sess.SendIQ(ctx, iq, marshalReader(q), 0)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   privacyQueryXML `xml:"jabber:iq:privacy query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return nil, err
	}
	if len(wrapper.Query.List) == 0 {
		return nil, fmt.Errorf("im: server did not return list %q", name)
	}
	l := newPrivacyList(name)
	rules := make([]PrivacyRule, 0, len(wrapper.Query.List[0].Item))
	for _, x := range wrapper.Query.List[0].Item {
		rules = append(rules, privacyRuleFromXML(x))
	}
	if err := l.SetRules(rules); err != nil {
		return nil, err
	}
	return l, nil
}

// SetPrivacyList uploads l to the server under its Name.
func (s *Session) SetPrivacyList(ctx context.Context, l *PrivacyList) error {
	l.mu.RLock()
	items := make([]privacyItemXML, 0, len(l.Rules))
	for _, r := range l.Rules {
		items = append(items, r.toXML())
	}
	name := l.Name
	l.mu.RUnlock()

	iq := stanza.IQ{Type: stanza.SetIQ}
	q := privacyQueryXML{List: []privacyListXML{{Name: name, Item: items}}}
	_, _, err := s.Sess.SendIQ(ctx, iq, marshalReader(q), 0)
	return err
}

// ActivatePrivacyList sets the named list as active for this session, at
// most one active list at a time, per spec.md §3's invariant.
func (s *Session) ActivatePrivacyList(ctx context.Context, name string) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	q := privacyQueryXML{Active: &privacyNameXML{Name: name}}
	_, _, err := s.Sess.SendIQ(ctx, iq, marshalReader(q), 0)
	if err == nil {
		s.privacy.mu.Lock()
		s.privacy.Name = name
		s.privacy.mu.Unlock()
	}
	return err
}

// SetDefaultPrivacyList sets the named list as the account-wide default, at
// most one default list per user, per spec.md §3's invariant.
func (s *Session) SetDefaultPrivacyList(ctx context.Context, name string) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	q := privacyQueryXML{Default: &privacyNameXML{Name: name}}
	_, _, err := s.Sess.SendIQ(ctx, iq, marshalReader(q), 0)
	return err
}

// DeletePrivacyList removes the named list from the server.
func (s *Session) DeletePrivacyList(ctx context.Context, name string) error {
	iq := stanza.IQ{Type: stanza.SetIQ}
	q := privacyQueryXML{List: []privacyListXML{{Name: name}}}
	_, _, err := s.Sess.SendIQ(ctx, iq, marshalReader(q), 0)
	return err
}

func marshalReader(v interface{}) xml.TokenReader {
	b, err := xml.Marshal(v)
	if err != nil {
		return xml.NewDecoder(bytes.NewReader(nil))
	}
	return xml.NewDecoder(bytes.NewReader(b))
}
