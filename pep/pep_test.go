package pep_test

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
	"codeberg.org/xmppgo/client/pep"
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

func TestOnMoodFiresForMoodNotification(t *testing.T) {
	imSess, _, _ := newTestSession(t)
	p := pep.New(imSess)

	var got pep.Mood
	p.OnMood(func(m pep.Mood) { got = m })

	elem := xmlElement(t, `<message from="juliet@example.com" type="headline">`+
		`<event xmlns="http://jabber.org/protocol/pubsub#event">`+
		`<items node="http://jabber.org/protocol/mood">`+
		`<item><mood xmlns="http://jabber.org/protocol/mood"><happy/><text>feeling good</text></mood></item>`+
		`</items></event></message>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}
	if got.Mood != "happy" || got.Text != "feeling good" {
		t.Fatalf("Mood = %+v, want happy/feeling good", got)
	}
}

func TestSetMoodPublishesItem(t *testing.T) {
	imSess, out, sc := newTestSession(t)
	p := pep.New(imSess)

	done := make(chan error, 1)
	go func() {
		done <- p.SetMood(context.Background(), "happy", "")
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if !bytes.Contains(req.Raw, []byte("<happy")) {
		t.Fatalf("publish payload missing mood value: %s", req.Raw)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result"><pubsub xmlns="http://jabber.org/protocol/pubsub"><publish node="http://jabber.org/protocol/mood"><item id="1"/></publish></pubsub></iq>`)))
		sc.WriteElement(dec)
	}()

	if err := <-done; err != nil {
		t.Fatalf("SetMood: %v", err)
	}
}
