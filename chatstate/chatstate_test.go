package chatstate_test

import (
	"bytes"
	"encoding/xml"
	"net"
	"testing"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/chatstate"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

func newTestSession(t *testing.T) (*im.Session, chan stream.Element, *stream.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := xmpp.NewSession(stream.NewConn(client), xmpp.HandlerFunc(func(stream.Element, *xmpp.Session) error { return nil }), jid.MustParse("romeo@example.com/orchard"))
	imSess := im.New(sess)

	sc := stream.NewConn(server)
	out := make(chan stream.Element, 4)
	go func() {
		for {
			elem, err := sc.ReadElement()
			if err != nil {
				return
			}
			out <- elem
		}
	}()
	return imSess, out, sc
}

func xmlElement(t *testing.T, raw string) stream.Element {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	tok, err := dec.Token()
	if err != nil {
		t.Fatalf("decode start: %v", err)
	}
	start := tok.(xml.StartElement).Copy()

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.EncodeToken(start); err != nil {
		t.Fatalf("re-encode start: %v", err)
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if err := enc.EncodeToken(tok); err != nil {
			t.Fatalf("re-encode body: %v", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return stream.Element{Start: start, Raw: buf.Bytes()}
}

func TestSendWrapsStateInChatMessage(t *testing.T) {
	imSess, out, _ := newTestSession(t)

	if err := chatstate.Send(imSess, jid.MustParse("juliet@example.com"), chatstate.Composing); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat state message")
	}
	var msg stanza.Message
	if err := xml.Unmarshal(req.Raw, &msg); err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if msg.Type != stanza.ChatMessage {
		t.Fatalf("Type = %v, want chat", msg.Type)
	}
	if !bytes.Contains(req.Raw, []byte("<composing")) {
		t.Fatalf("missing composing element: %s", req.Raw)
	}
}

func TestHandleReportsPausedState(t *testing.T) {
	imSess, _, _ := newTestSession(t)

	type event struct {
		from jid.JID
		st   chatstate.State
	}
	got := make(chan event, 1)
	chatstate.Handle(imSess, func(from jid.JID, st chatstate.State) { got <- event{from, st} })

	elem := xmlElement(t, `<message from="juliet@example.com" type="chat"><paused xmlns="http://jabber.org/protocol/chatstates"/></message>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	select {
	case ev := <-got:
		if ev.st != chatstate.Paused {
			t.Fatalf("state = %v, want paused", ev.st)
		}
		if ev.from.String() != "juliet@example.com" {
			t.Fatalf("from = %v, want juliet@example.com", ev.from)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat state callback")
	}
}
