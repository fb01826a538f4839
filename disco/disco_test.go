package disco_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/disco"
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

func writeRaw(t *testing.T, sc *stream.Conn, raw string) {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	if _, err := sc.WriteElement(dec); err != nil {
		t.Fatalf("write server reply: %v", err)
	}
}

func TestHandleInfoAdvertisesIdentitiesAndFeatures(t *testing.T) {
	imSess, out, _ := newTestSession(t)
	d := disco.New(imSess)
	d.AddIdentity(disco.Identity{Category: "client", Type: "pc", Name: "xmppgo test"})

	elem := xmlElement(t, `<iq from="juliet@example.com/balcony" type="get"><query xmlns="http://jabber.org/protocol/disco#info"/></iq>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	select {
	case reply := <-out:
		if !bytes.Contains(reply.Raw, []byte(`category="client"`)) {
			t.Fatalf("reply missing identity: %s", reply.Raw)
		}
		if !bytes.Contains(reply.Raw, []byte(`var="http://jabber.org/protocol/disco#info"`)) {
			t.Fatalf("reply missing disco#info feature: %s", reply.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disco#info reply")
	}
}

func TestQueryInfoParsesResponse(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan struct {
		info disco.Info
		err  error
	}, 1)
	go func() {
		info, err := disco.QueryInfo(context.Background(), imSess, jid.MustParse("conference.example.com"), "")
		done <- struct {
			info disco.Info
			err  error
		}{info, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disco#info request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}

	reply := `<iq id="` + iq.ID + `" type="result"><query xmlns="http://jabber.org/protocol/disco#info">` +
		`<identity category="conference" type="text" name="Chatrooms"/>` +
		`<feature var="http://jabber.org/protocol/muc"/>` +
		`</query></iq>`
	writeRaw(t, sc, reply)

	res := <-done
	if res.err != nil {
		t.Fatalf("QueryInfo: %v", res.err)
	}
	if len(res.info.Identities) != 1 || res.info.Identities[0].Category != "conference" {
		t.Fatalf("identities = %+v", res.info.Identities)
	}
	if !res.info.Supports("http://jabber.org/protocol/muc") {
		t.Fatalf("features = %+v, want muc feature", res.info.Features)
	}
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
