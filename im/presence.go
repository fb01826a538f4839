package im

import (
	"encoding/xml"
	"strconv"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Availability is the "show" value of an available presence. The zero
// value, Available, carries no <show/> element at all.
type Availability string

// The five availabilities defined by RFC 6121 §4.7.2.1.
const (
	Available Availability = ""
	Away      Availability = "away"
	Chat      Availability = "chat"
	DoNotDisturb Availability = "dnd"
	ExtendedAway Availability = "xa"
)

// Status is the result of classifying an inbound available/unavailable
// presence, per spec.md §4.3.
type Status struct {
	From      jid.JID
	Available bool
	Show      Availability
	Priority  int8
	// Status is keyed by xml:lang; the empty string is the default,
	// unlabeled status message.
	Status map[string]string
}

// StatusFunc receives a classified inbound presence.
type StatusFunc func(st Status)

// SubscriptionFunc receives the bare or full JID a subscription-related
// presence came from.
type SubscriptionFunc func(from jid.JID)

// OnStatus registers f to be called whenever an available or unavailable
// presence is classified.
func (s *Session) OnStatus(f StatusFunc) { s.onStatus = append(s.onStatus, f) }

// OnSubscribe registers f to be called when a peer requests a subscription.
// Approving or refusing the request is a separate action the caller takes
// by calling Approve or Refuse; registering a callback does not by itself
// send any response, per spec.md §4.3's "default is no auto-response".
func (s *Session) OnSubscribe(f SubscriptionFunc) { s.onSubscribe = append(s.onSubscribe, f) }

// OnSubscribed registers f to be called when a peer approves our
// subscription request.
func (s *Session) OnSubscribed(f SubscriptionFunc) { s.onSubscribed = append(s.onSubscribed, f) }

// OnUnsubscribed registers f to be called when a peer refuses or revokes a
// subscription.
func (s *Session) OnUnsubscribed(f SubscriptionFunc) { s.onUnsubscribed = append(s.onUnsubscribed, f) }

type statusText struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Data string `xml:",chardata"`
}

func statusTextsToMap(in []statusText) map[string]string {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]string, len(in))
	for _, t := range in {
		m[t.Lang] = t.Data
	}
	return m
}

// handlePresence classifies inbound presence per spec.md §4.3: available
// and unavailable presences raise Status; subscribe raises the
// subscription-request callback; subscribed and unsubscribed raise their
// matching events.
func (s *Session) handlePresence(p stanza.Presence, elem stream.Element, sess *xmpp.Session) error {
	switch p.Type {
	case stanza.AvailablePresence, stanza.UnavailablePresence:
		var body struct {
			Show     string       `xml:"show"`
			Priority int8         `xml:"priority"`
			Status   []statusText `xml:"status"`
		}
		if err := xml.Unmarshal(elem.Raw, &body); err != nil {
			return err
		}
		st := Status{
			From:      p.From,
			Available: p.Type == stanza.AvailablePresence,
			Show:      Availability(body.Show),
			Priority:  body.Priority,
			Status:    statusTextsToMap(body.Status),
		}
		for _, f := range s.onStatus {
			f(st)
		}
	case stanza.SubscribePresence:
		for _, f := range s.onSubscribe {
			f(p.From)
		}
	case stanza.SubscribedPresence:
		for _, f := range s.onSubscribed {
			f(p.From)
		}
	case stanza.UnsubscribedPresence:
		for _, f := range s.onUnsubscribed {
			f(p.From)
		}
	}
	return nil
}

func (s *Session) sendPresenceType(typ stanza.PresenceType, to jid.JID) error {
	p := stanza.Presence{Type: typ, To: to}
	out := Outgoing{Kind: KindPresence, Presence: &p}
	s.Filters.RunOutput(&out, s)
	return s.Sess.Send(p.Wrap(nil))
}

// RequestSubscription sends a subscription request to j, spec.md §4.3's
// request_subscription operation.
func (s *Session) RequestSubscription(j jid.JID) error {
	return s.sendPresenceType(stanza.SubscribePresence, j)
}

// Approve approves j's subscription request.
func (s *Session) Approve(j jid.JID) error { return s.sendPresenceType(stanza.SubscribedPresence, j) }

// Refuse declines j's subscription request.
func (s *Session) Refuse(j jid.JID) error { return s.sendPresenceType(stanza.UnsubscribedPresence, j) }

// Unsubscribe cancels our subscription to j's presence.
func (s *Session) Unsubscribe(j jid.JID) error { return s.sendPresenceType(stanza.UnsubscribePresence, j) }

// Revoke cancels a subscription we had granted to j. It sends the same
// "unsubscribed" presence as Refuse; the two differ only in caller intent,
// per spec.md §4.3.
func (s *Session) Revoke(j jid.JID) error { return s.sendPresenceType(stanza.UnsubscribedPresence, j) }

// SetStatus constructs and sends one presence stanza implementing spec.md
// §4.3's set_status operation: a show element for non-default
// availabilities, a priority element when non-zero, and one status element
// per language. Offline is not a legal Availability; call Sess.Close to
// disconnect instead. Before serialization it runs the output filter
// chain, per spec.md §4.3's outbound data flow.
func (s *Session) SetStatus(avail Availability, priority int8, status map[string]string) error {
	var parts []xml.TokenReader
	if avail != Available {
		parts = append(parts, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(avail)),
			xml.StartElement{Name: xml.Name{Local: "show"}},
		))
	}
	if priority != 0 {
		parts = append(parts, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(strconv.Itoa(int(priority)))),
			xml.StartElement{Name: xml.Name{Local: "priority"}},
		))
	}
	for lang, text := range status {
		start := xml.StartElement{Name: xml.Name{Local: "status"}}
		if lang != "" {
			start.Attr = []xml.Attr{{Name: xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}, Value: lang}}
		}
		parts = append(parts, xmlstream.Wrap(xmlstream.Token(xml.CharData(text)), start))
	}
	p := stanza.Presence{}
	out := Outgoing{Kind: KindPresence, Presence: &p}
	s.Filters.RunOutput(&out, s)
	return s.Sess.Send(p.Wrap(xmlstream.MultiReader(parts...)))
}
