// Package mux implements a stanza multiplexer that routes inbound stream
// elements to registered handlers by stanza kind, IQ/message/presence type,
// and payload element name.
//
// The retrieved teacher snapshot contains two incompatible generations of
// this package: an older ServeMux keyed purely on top-level xml.Name
// (mux.go/option.go's first half) and a newer pattern-keyed IQMux that adds
// matching on stanza type and payload name (iq.go/stanza.go). They declare
// the same identifiers and cannot compile together. This package merges
// them into one mux: every stanza is matched on (kind, type, payload name)
// with the newer generation's specificity rules, and arbitrary non-stanza
// top-level elements (used by feature-like extensions) fall back to the
// older generation's plain xml.Name table.
package mux

import (
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

type stanzaKind int

const (
	iqStanza stanzaKind = iota
	msgStanza
	presStanza
)

type pattern struct {
	Stanza  stanzaKind
	Type    string
	Payload xml.Name
}

// ServeMux is a stream multiplexer. It matches each top-level element
// against the registered patterns and calls the most specific matching
// handler: a stanza (iq/message/presence) is matched by type and payload
// name, falling back to a wildcard payload namespace, then a wildcard
// payload local name, then a wildcard (zero) payload; any other top-level
// element is matched by its own xml.Name with an exact/wildcard-space/
// wildcard-local fallback.
type ServeMux struct {
	iq       map[pattern]IQHandler
	msg      map[pattern]MessageHandler
	pres     map[pattern]PresenceHandler
	patterns map[xml.Name]xmpp.Handler

	// msgFallback and presFallback run when no registered pattern matches
	// a message or presence stanza, regardless of its type. They sit below
	// every type/payload pattern in specificity, including a wildcard-payload
	// registration for a given type, so they never collide with an
	// extension that wants that exact type/payload slot for itself.
	msgFallback  MessageHandler
	presFallback PresenceHandler
}

// New allocates and returns a new ServeMux configured by opt.
func New(opt ...Option) *ServeMux {
	m := &ServeMux{}
	for _, o := range opt {
		o(m)
	}
	return m
}

// HandleXMPP dispatches elem to the most specific registered handler,
// satisfying xmpp.Handler so a *ServeMux can be passed directly to
// xmpp.Dial/xmpp.NegotiateSession.
func (m *ServeMux) HandleXMPP(elem stream.Element, s *xmpp.Session) error {
	switch elem.Start.Name.Local {
	case "iq":
		return m.handleIQ(elem, s)
	case "message":
		return m.handleMessage(elem, s)
	case "presence":
		return m.handlePresence(elem, s)
	default:
		h, _ := m.handler(elem.Start.Name)
		return h.HandleXMPP(elem, s)
	}
}

// handler returns the handler registered for name, falling back to wildcard
// namespace, then wildcard local name, then a no-op default.
func (m *ServeMux) handler(name xml.Name) (h xmpp.Handler, ok bool) {
	h = m.patterns[name]
	if h != nil {
		return h, true
	}
	n := name
	n.Space = ""
	h = m.patterns[n]
	if h != nil {
		return h, true
	}
	n = name
	n.Local = ""
	h = m.patterns[n]
	if h != nil {
		return h, true
	}
	return xmpp.HandlerFunc(func(stream.Element, *xmpp.Session) error { return nil }), false
}

// payloadName returns the xml.Name of elem's first child element (the
// stanza's payload), or ok == false if the stanza has no children (valid
// for result IQs and presence/message stanzas with no extension payload).
func payloadName(elem stream.Element) (name xml.Name, ok bool) {
	dec := elem.Decoder()
	if _, err := dec.Token(); err != nil { // the outer start itself
		return xml.Name{}, false
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.Name{}, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t.Name, true
		case xml.EndElement:
			return xml.Name{}, false
		}
	}
}

func lookupPattern[H any](patterns map[pattern]H, kind stanzaKind, typ string, payload xml.Name, hasPayload bool) (h H, ok bool) {
	if hasPayload {
		if h, ok = patterns[pattern{Stanza: kind, Type: typ, Payload: payload}]; ok {
			return h, true
		}
		wildcardSpace := payload
		wildcardSpace.Space = ""
		if h, ok = patterns[pattern{Stanza: kind, Type: typ, Payload: wildcardSpace}]; ok {
			return h, true
		}
		wildcardLocal := payload
		wildcardLocal.Local = ""
		if h, ok = patterns[pattern{Stanza: kind, Type: typ, Payload: wildcardLocal}]; ok {
			return h, true
		}
	}
	h, ok = patterns[pattern{Stanza: kind, Type: typ}]
	return h, ok
}

func (m *ServeMux) handleIQ(elem stream.Element, s *xmpp.Session) error {
	iq, err := stanza.FromStartElement(elem.Start)
	if err != nil {
		return err
	}
	payload, hasPayload := payloadName(elem)
	h, ok := lookupPattern(m.iq, iqStanza, string(iq.Type), payload, hasPayload)
	if !ok {
		return iqFallback(iq, s)
	}
	return h.HandleIQ(iq, elem, s)
}

func (m *ServeMux) handleMessage(elem stream.Element, s *xmpp.Session) error {
	var msg stanza.Message
	if err := xml.Unmarshal(elem.Raw, &msg); err != nil {
		return err
	}
	payload, hasPayload := payloadName(elem)
	h, ok := lookupPattern(m.msg, msgStanza, string(msg.Type), payload, hasPayload)
	if !ok {
		if m.msgFallback == nil {
			return nil
		}
		h = m.msgFallback
	}
	return h.HandleMessage(msg, elem, s)
}

func (m *ServeMux) handlePresence(elem stream.Element, s *xmpp.Session) error {
	p, err := stanza.PresenceFromStartElement(elem.Start)
	if err != nil {
		return err
	}
	payload, hasPayload := payloadName(elem)
	h, ok := lookupPattern(m.pres, presStanza, string(p.Type), payload, hasPayload)
	if !ok {
		if m.presFallback == nil {
			return nil
		}
		h = m.presFallback
	}
	return h.HandlePresence(p, elem, s)
}

// iqFallback answers an unhandled get or set IQ with
// service-unavailable, per RFC 6120 §8.4's requirement that every IQ
// request receive a reply.
func iqFallback(iq stanza.IQ, s *xmpp.Session) error {
	if iq.Type != stanza.GetIQ && iq.Type != stanza.SetIQ {
		return nil
	}
	e := stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}
	return s.Send(iq.Error().Wrap(e.TokenReader()))
}
