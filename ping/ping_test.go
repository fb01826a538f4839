package ping_test

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
	"codeberg.org/xmppgo/client/ping"
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

func TestPingSendsAndWaitsForResult(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		done <- ping.Ping(context.Background(), imSess, jid.MustParse("capulet.com"))
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if iq.Type != stanza.GetIQ || !bytes.Contains(req.Raw, []byte(`xmlns="urn:xmpp:ping"`)) {
		t.Fatalf("unexpected ping request: %s", req.Raw)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result"/>`)))
		sc.WriteElement(dec)
	}()

	if err := <-done; err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestHandleRepliesToInboundPing(t *testing.T) {
	imSess, out, _ := newTestSession(t)
	ping.Handle(imSess)

	elem := xmlElement(t, `<iq from="capulet.com" id="abc" type="get"><ping xmlns="urn:xmpp:ping"/></iq>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}

	var reply stream.Element
	select {
	case reply = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong")
	}
	iq, err := stanza.FromStartElement(reply.Start)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if iq.Type != stanza.ResultIQ || iq.ID != "abc" {
		t.Fatalf("reply = %+v, want result/abc", iq)
	}
}
