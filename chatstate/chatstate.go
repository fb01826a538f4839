// Package chatstate implements XEP-0085: Chat State Notifications, the
// active/composing/paused/inactive/gone states a chat client reports
// alongside or instead of a message body.
package chatstate

import (
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// State is one of the five chat states XEP-0085 §5.1-5.5 defines.
type State string

// States a chat participant can report.
const (
	Active    State = "active"
	Composing State = "composing"
	Paused    State = "paused"
	Inactive  State = "inactive"
	Gone      State = "gone"
)

func (st State) tokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.ChatStates, Local: string(st)}})
}

// Send reports st to to, wrapped as a standalone chat-state notification
// carrying no body, per XEP-0085 §5.
func Send(s *im.Session, to jid.JID, st State) error {
	msg := stanza.Message{ID: attr.RandomID(), To: to, Type: stanza.ChatMessage}
	return s.Sess.Send(msg.Wrap(st.tokenReader()))
}

// Func is called with the sender and the chat state it reported. The
// notification's thread, if any, is not passed.
type Func func(from jid.JID, st State)

// Handle registers f to be called for every inbound chat-state
// notification, across all five states.
func Handle(sess *im.Session, f Func) {
	for _, st := range []State{Active, Composing, Paused, Inactive, Gone} {
		st := st
		sess.Handle(mux.MessageFunc(stanza.ChatMessage, xml.Name{Space: ns.ChatStates, Local: string(st)}, func(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
			f(msg.From, st)
			return nil
		}))
	}
}

// Namespaces reports XEP-0085's namespace for use with an im.Registry.
func Namespaces() []string { return []string{ns.ChatStates} }
