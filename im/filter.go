// Package im implements the IM component of the spec: typed stanza
// send/receive helpers, the roster and privacy-list caches, inbound
// presence classification, and the extension registry and filter chain
// that the discovery, pubsub, and groupchat packages build on.
//
// The teacher has no equivalent of a generic filter chain or extension
// registry; it wires everything by hand at Session construction time. This
// package's Registry and FilterChain are modeled directly on spec.md §4.3,
// but dispatch still goes through mux.ServeMux the way the teacher's own
// mux package does, so extensions register handlers with the same
// mux.Option idiom used throughout this module.
package im

import (
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// StanzaKind identifies which of the three stanza kinds a filter or event
// applies to.
type StanzaKind int

// The three stanza kinds, matching mux's internal stanzaKind.
const (
	KindIQ StanzaKind = iota
	KindMessage
	KindPresence
)

func (k StanzaKind) String() string {
	switch k {
	case KindIQ:
		return "iq"
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// Incoming is the argument passed to an InputFilter.
type Incoming struct {
	Kind StanzaKind
	Elem stream.Element
}

// InputFilter inspects an inbound stanza before it reaches typed events or
// extension dispatch. Returning true means the filter consumed the stanza:
// the chain stops and no further processing (including mux dispatch)
// happens for it. Filters run in registration order and must not block on
// network I/O; spec.md §4.3 requires a filter that needs to send something
// (Carbons forwarding, for example) to re-enter the dispatch pipeline
// rather than synchronously write to the wire.
type InputFilter func(in *Incoming, s *Session) bool

// Outgoing is the argument passed to an OutputFilter. Exactly one of IQ,
// Message, or Presence is meaningful, selected by Kind; filters mutate it
// in place.
type Outgoing struct {
	Kind     StanzaKind
	IQ       *stanza.IQ
	Message  *stanza.Message
	Presence *stanza.Presence
}

// OutputFilter mutates an outbound stanza before serialization. Unlike
// InputFilter it cannot abort the send.
type OutputFilter func(out *Outgoing, s *Session)

// FilterChain holds the ordered input and output filters for every stanza
// kind. A single chain is shared across kinds; filters that only care
// about one kind check out.Kind/in.Kind themselves, mirroring how the
// teacher's own handlers switch on stanza type inside one callback.
type FilterChain struct {
	in  []InputFilter
	out []OutputFilter
}

// AddInput appends f to the input chain.
func (c *FilterChain) AddInput(f InputFilter) { c.in = append(c.in, f) }

// AddOutput appends f to the output chain.
func (c *FilterChain) AddOutput(f OutputFilter) { c.out = append(c.out, f) }

// RunInput runs the input chain against in, stopping at the first filter
// that reports the stanza consumed. It returns true if some filter
// consumed the stanza.
func (c *FilterChain) RunInput(in *Incoming, s *Session) bool {
	for _, f := range c.in {
		if f(in, s) {
			return true
		}
	}
	return false
}

// RunOutput runs every output filter against out in registration order.
func (c *FilterChain) RunOutput(out *Outgoing, s *Session) {
	for _, f := range c.out {
		f(out, s)
	}
}
