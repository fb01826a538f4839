package im_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// elemFromXML parses raw as a single top-level element the way
// stream.Conn.ReadElement would, without needing a live connection.
func elemFromXML(t *testing.T, raw string) stream.Element {
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

func newTestIMSession(t *testing.T) (*im.Session, chan stream.Element) {
	imSess, out, _ := newTestIMSessionWithServer(t)
	return imSess, out
}

func newTestIMSessionWithServer(t *testing.T) (*im.Session, chan stream.Element, *stream.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := xmpp.NewSession(stream.NewConn(client), xmpp.HandlerFunc(func(stream.Element, *xmpp.Session) error { return nil }), jid.MustParse("juliet@example.com/balcony"))
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

func writeRaw(t *testing.T, sc *stream.Conn, raw string) {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	if _, err := sc.WriteElement(dec); err != nil {
		t.Fatalf("write server reply: %v", err)
	}
}

func contextBackground() context.Context { return context.Background() }

func TestRosterPushAcceptedFromBoundJID(t *testing.T) {
	imSess, out := newTestIMSession(t)

	var updated []im.RosterItem
	imSess.OnRosterUpdate(func(it im.RosterItem) { updated = append(updated, it) })

	elem := elemFromXML(t, `<iq type="set"><query xmlns="jabber:iq:roster"><item jid="nurse@example.com" subscription="both"/></query></iq>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	if len(updated) != 1 || updated[0].JID.String() != "nurse@example.com" {
		t.Fatalf("onRosterUpdate = %+v, want one item for nurse@example.com", updated)
	}
	items := imSess.Roster().Items()
	if len(items) != 1 {
		t.Fatalf("roster cache has %d items, want 1", len(items))
	}

	select {
	case reply := <-out:
		iq, err := stanza.FromStartElement(reply.Start)
		if err != nil {
			t.Fatalf("parse reply: %v", err)
		}
		if iq.Type != stanza.ResultIQ {
			t.Errorf("reply type = %v, want result", iq.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for roster push acknowledgement")
	}
}

func TestRosterPushRejectedFromUntrustedSender(t *testing.T) {
	imSess, out := newTestIMSession(t)

	var updated []im.RosterItem
	imSess.OnRosterUpdate(func(it im.RosterItem) { updated = append(updated, it) })

	elem := elemFromXML(t, `<iq from="mallory@evil.example" type="set"><query xmlns="jabber:iq:roster"><item jid="nurse@example.com" subscription="both"/></query></iq>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	if len(updated) != 0 {
		t.Fatalf("onRosterUpdate fired for untrusted sender: %+v", updated)
	}
	select {
	case reply := <-out:
		t.Fatalf("unexpected reply sent for rejected push: %s", reply.Raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPresenceClassification(t *testing.T) {
	imSess, _ := newTestIMSession(t)

	var got im.Status
	var n int
	imSess.OnStatus(func(st im.Status) { got = st; n++ })

	elem := elemFromXML(t, `<presence from="nurse@example.com/phone"><show>away</show><priority>5</priority><status xml:lang="en">At the market</status></presence>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	if n != 1 {
		t.Fatalf("OnStatus called %d times, want 1", n)
	}
	if !got.Available || got.Show != im.Away || got.Priority != 5 {
		t.Fatalf("Status = %+v, want available/away/priority 5", got)
	}
	if got.Status["en"] != "At the market" {
		t.Fatalf("Status.Status[en] = %q, want %q", got.Status["en"], "At the market")
	}
}

func TestSubscriptionRequestCallback(t *testing.T) {
	imSess, out := newTestIMSession(t)

	var from jid.JID
	imSess.OnSubscribe(func(j jid.JID) { from = j })

	elem := elemFromXML(t, `<presence from="nurse@example.com" type="subscribe"/>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}
	if from.String() != "nurse@example.com" {
		t.Fatalf("onSubscribe from = %v, want nurse@example.com", from)
	}

	select {
	case reply := <-out:
		t.Fatalf("expected no automatic response to a subscription request, got %s", reply.Raw)
	case <-time.After(100 * time.Millisecond):
	}
}
