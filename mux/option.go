package mux

import (
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/stanza"
)

// Option configures a ServeMux.
type Option func(m *ServeMux)

// IQ returns an option that matches IQ stanzas by type and the XML name of
// their payload (the first child element). A zero xml.Name matches any
// payload, including IQs with no payload (result IQs, and malformed
// requests).
func IQ(typ stanza.IQType, payload xml.Name, h IQHandler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil IQ handler")
		}
		pat := pattern{Stanza: iqStanza, Type: string(typ), Payload: payload}
		if _, ok := m.iq[pat]; ok {
			panic("mux: multiple registrations for iq type=" + string(typ))
		}
		if m.iq == nil {
			m.iq = make(map[pattern]IQHandler)
		}
		m.iq[pat] = h
	}
}

// IQFunc is a shortcut for IQ that accepts an ordinary function.
func IQFunc(typ stanza.IQType, payload xml.Name, h IQHandlerFunc) Option { return IQ(typ, payload, h) }

// GetIQ is a shortcut for IQ with the type set to "get".
func GetIQ(payload xml.Name, h IQHandler) Option { return IQ(stanza.GetIQ, payload, h) }

// GetIQFunc is a shortcut for GetIQ that accepts an ordinary function.
func GetIQFunc(payload xml.Name, h IQHandlerFunc) Option { return GetIQ(payload, h) }

// SetIQ is a shortcut for IQ with the type set to "set".
func SetIQ(payload xml.Name, h IQHandler) Option { return IQ(stanza.SetIQ, payload, h) }

// SetIQFunc is a shortcut for SetIQ that accepts an ordinary function.
func SetIQFunc(payload xml.Name, h IQHandlerFunc) Option { return SetIQ(payload, h) }

// ResultIQ is a shortcut for IQ with the type set to "result". Result IQs
// may carry no payload at all, so handlers registered this way should
// tolerate elem having no child element.
func ResultIQ(payload xml.Name, h IQHandler) Option { return IQ(stanza.ResultIQ, payload, h) }

// ResultIQFunc is a shortcut for ResultIQ that accepts an ordinary function.
func ResultIQFunc(payload xml.Name, h IQHandlerFunc) Option { return ResultIQ(payload, h) }

// ErrorIQ is a shortcut for IQ with the type set to "error" and a wildcard
// payload name, since error IQs may carry more than one child element in an
// order that isn't guaranteed.
func ErrorIQ(h IQHandler) Option { return IQ(stanza.ErrorIQ, xml.Name{}, h) }

// ErrorIQFunc is a shortcut for ErrorIQ that accepts an ordinary function.
func ErrorIQFunc(h IQHandlerFunc) Option { return ErrorIQ(h) }

// Message returns an option that matches message stanzas by type and
// payload name.
func Message(typ stanza.MessageType, payload xml.Name, h MessageHandler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil message handler")
		}
		pat := pattern{Stanza: msgStanza, Type: string(typ), Payload: payload}
		if _, ok := m.msg[pat]; ok {
			panic("mux: multiple registrations for message type=" + string(typ))
		}
		if m.msg == nil {
			m.msg = make(map[pattern]MessageHandler)
		}
		m.msg[pat] = h
	}
}

// MessageFunc is a shortcut for Message that accepts an ordinary function.
func MessageFunc(typ stanza.MessageType, payload xml.Name, h MessageHandlerFunc) Option {
	return Message(typ, payload, h)
}

// Presence returns an option that matches presence stanzas by type and
// payload name.
func Presence(typ stanza.PresenceType, payload xml.Name, h PresenceHandler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil presence handler")
		}
		pat := pattern{Stanza: presStanza, Type: string(typ), Payload: payload}
		if _, ok := m.pres[pat]; ok {
			panic("mux: multiple registrations for presence type=" + string(typ))
		}
		if m.pres == nil {
			m.pres = make(map[pattern]PresenceHandler)
		}
		m.pres[pat] = h
	}
}

// PresenceFunc is a shortcut for Presence that accepts an ordinary function.
func PresenceFunc(typ stanza.PresenceType, payload xml.Name, h PresenceHandlerFunc) Option {
	return Presence(typ, payload, h)
}

// DefaultMessage registers h as the message fallback, run only when no
// type/payload pattern claims a message stanza. It sits below every
// pattern registration in specificity, including a wildcard-payload
// registration for the same type, so it never collides with an extension
// that registers at that exact slot. Registering a second default
// replaces the first.
func DefaultMessage(h MessageHandler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil message handler")
		}
		m.msgFallback = h
	}
}

// DefaultMessageFunc is a shortcut for DefaultMessage that accepts an
// ordinary function.
func DefaultMessageFunc(h MessageHandlerFunc) Option { return DefaultMessage(h) }

// DefaultPresence registers h as the presence fallback, run only when no
// type/payload pattern claims a presence stanza. Registering a second
// default replaces the first.
func DefaultPresence(h PresenceHandler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil presence handler")
		}
		m.presFallback = h
	}
}

// DefaultPresenceFunc is a shortcut for DefaultPresence that accepts an
// ordinary function.
func DefaultPresenceFunc(h PresenceHandlerFunc) Option { return DefaultPresence(h) }

// Handle returns an option that matches on an arbitrary top-level element
// name. It panics if the name belongs to one of the three stanza kinds;
// use IQ, Message, or Presence for those instead.
func Handle(n xml.Name, h xmpp.Handler) Option {
	return func(m *ServeMux) {
		if h == nil {
			panic("mux: nil handler")
		}
		if n.Local == "iq" || n.Local == "message" || n.Local == "presence" {
			panic("mux: use IQ, Message, or Presence to register stanza handlers")
		}
		if _, ok := m.patterns[n]; ok {
			panic("mux: multiple registrations for {" + n.Space + "}" + n.Local)
		}
		if m.patterns == nil {
			m.patterns = make(map[xml.Name]xmpp.Handler)
		}
		m.patterns[n] = h
	}
}

// HandleFunc is a shortcut for Handle that accepts an ordinary function.
func HandleFunc(n xml.Name, h xmpp.HandlerFunc) Option { return Handle(n, h) }
