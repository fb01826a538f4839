package bytestreams_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/bytestreams"
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
	out := make(chan stream.Element, 8)
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

func TestOpenSendsOpenIQAndWriteSendsData(t *testing.T) {
	imSess, out, sc := newTestSession(t)
	h := bytestreams.NewIBB(imSess)

	done := make(chan struct {
		conn net.Conn
		err  error
	}, 1)
	go func() {
		conn, err := h.Open(context.Background(), jid.MustParse("juliet@example.com"), "sid1", bytestreams.DefaultBlockSize)
		done <- struct {
			conn net.Conn
			err  error
		}{conn, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ibb open")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse open: %v", err)
	}
	if !bytes.Contains(req.Raw, []byte(`sid="sid1"`)) {
		t.Fatalf("open missing sid: %s", req.Raw)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result"/>`)))
		sc.WriteElement(dec)
	}()

	result := <-done
	if result.err != nil {
		t.Fatalf("Open: %v", result.err)
	}
	conn := result.conn
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var dataReq stream.Element
	select {
	case dataReq = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for data stanza")
	}
	if !bytes.Contains(dataReq.Raw, []byte(`seq="0"`)) || !bytes.Contains(dataReq.Raw, []byte(`sid="sid1"`)) {
		t.Fatalf("unexpected data stanza: %s", dataReq.Raw)
	}
}

func TestAcceptRejectsOutOfOrderSequence(t *testing.T) {
	imSess, out, _ := newTestSession(t)
	h := bytestreams.NewIBB(imSess)
	h.Accept(jid.MustParse("juliet@example.com"), "sid2")

	first := xmlElement(t, `<iq from="juliet@example.com" id="d1" type="set"><data xmlns="http://jabber.org/protocol/ibb" sid="sid2" seq="0">aGVsbG8=</data></iq>`)
	if err := imSess.HandleXMPP(first, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP first: %v", err)
	}
	select {
	case reply := <-out:
		iq, err := stanza.FromStartElement(reply.Start)
		if err != nil {
			t.Fatalf("parse reply: %v", err)
		}
		if iq.Type != stanza.ResultIQ {
			t.Fatalf("first frame Type = %v, want result", iq.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first-frame reply")
	}

	skipped := xmlElement(t, `<iq from="juliet@example.com" id="d2" type="set"><data xmlns="http://jabber.org/protocol/ibb" sid="sid2" seq="2">d29ybGQ=</data></iq>`)
	if err := imSess.HandleXMPP(skipped, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP skipped: %v", err)
	}
	select {
	case reply := <-out:
		iq, err := stanza.FromStartElement(reply.Start)
		if err != nil {
			t.Fatalf("parse reply: %v", err)
		}
		if iq.Type != stanza.ErrorIQ || !bytes.Contains(reply.Raw, []byte("unexpected-request")) {
			t.Fatalf("out-of-order frame reply = %s, want unexpected-request error", reply.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for out-of-order reply")
	}
}

func TestHashedDomainIsDeterministic(t *testing.T) {
	a := bytestreams.HashedDomain("sid1", jid.MustParse("romeo@example.com/orchard"), jid.MustParse("juliet@example.com/balcony"))
	b := bytestreams.HashedDomain("sid1", jid.MustParse("romeo@example.com/home"), jid.MustParse("juliet@example.com/chamber"))
	if a != b {
		t.Fatalf("HashedDomain should ignore resource: %q != %q", a, b)
	}
	c := bytestreams.HashedDomain("sid2", jid.MustParse("romeo@example.com"), jid.MustParse("juliet@example.com"))
	if a == c {
		t.Fatalf("HashedDomain should vary with sid")
	}
}
