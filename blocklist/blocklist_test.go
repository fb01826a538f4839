package blocklist_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/blocklist"
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

func TestMatchFallsBackFullBareDomain(t *testing.T) {
	full := jid.MustParse("juliet@capulet.com/balcony")
	bare := jid.MustParse("juliet@capulet.com")
	domain := jid.MustParse("capulet.com")
	other := jid.MustParse("romeo@montague.net")

	if !blocklist.Match(full, full) {
		t.Fatal("identical full JIDs should match")
	}
	if !blocklist.Match(full, bare) {
		t.Fatal("full JID should match its own bare entry")
	}
	if !blocklist.Match(full, domain) {
		t.Fatal("full JID should match its own domain entry")
	}
	if blocklist.Match(full, other) {
		t.Fatal("unrelated JID should not match")
	}
}

func TestFetchParsesBlocklist(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	type result struct {
		jids []jid.JID
		err  error
	}
	done := make(chan result, 1)
	go func() {
		jids, err := blocklist.Fetch(context.Background(), imSess)
		done <- result{jids, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fetch request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result">` +
			`<blocklist xmlns="urn:xmpp:blocking">` +
			`<item jid="romeo@montague.net"/><item jid="iago@shakespeare.lit"/>` +
			`</blocklist></iq>`)))
		sc.WriteElement(dec)
	}()

	res := <-done
	if res.err != nil {
		t.Fatalf("Fetch: %v", res.err)
	}
	if len(res.jids) != 2 || res.jids[0].String() != "romeo@montague.net" || res.jids[1].String() != "iago@shakespeare.lit" {
		t.Fatalf("Fetch = %v, want [romeo@montague.net iago@shakespeare.lit]", res.jids)
	}
}

func TestHandleAcksBlockPushAndNotifiesCallback(t *testing.T) {
	imSess, out, _ := newTestSession(t)

	var added, removed []jid.JID
	blocklist.Handle(imSess, func(a, r []jid.JID) { added, removed = a, r })

	elem := xmlElement(t, `<iq from="capulet.com" id="push1" type="set">`+
		`<block xmlns="urn:xmpp:blocking"><item jid="romeo@montague.net"/></block>`+
		`</iq>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	var reply stream.Element
	select {
	case reply = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}
	iq, err := stanza.FromStartElement(reply.Start)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if iq.Type != stanza.ResultIQ || iq.ID != "push1" {
		t.Fatalf("reply = %+v, want result/push1", iq)
	}
	if len(added) != 1 || added[0].String() != "romeo@montague.net" {
		t.Fatalf("added = %v, want [romeo@montague.net]", added)
	}
	if removed != nil {
		t.Fatalf("removed = %v, want nil", removed)
	}
}
