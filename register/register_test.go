package register_test

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
	"codeberg.org/xmppgo/client/register"
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

func TestRequestParsesFlatFields(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan struct {
		f   register.Form
		err error
	}, 1)
	go func() {
		f, err := register.Request(context.Background(), imSess, jid.MustParse("capulet.com"))
		done <- struct {
			f   register.Form
			err error
		}{f, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result">` +
			`<query xmlns="jabber:iq:register"><registered/><username/><password/></query>` +
			`</iq>`)))
		sc.WriteElement(dec)
	}()

	result := <-done
	if result.err != nil {
		t.Fatalf("Request: %v", result.err)
	}
	if !result.f.Fields.Registered {
		t.Fatalf("Fields.Registered = false, want true")
	}
}

func TestRequestParsesEmbeddedDataForm(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan struct {
		f   register.Form
		err error
	}, 1)
	go func() {
		f, err := register.Request(context.Background(), imSess, jid.MustParse("capulet.com"))
		done <- struct {
			f   register.Form
			err error
		}{f, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result">` +
			`<query xmlns="jabber:iq:register">` +
			`<x xmlns="jabber:x:data" type="form"><field var="username" type="text-single"><value>juliet</value></field></x>` +
			`</query></iq>`)))
		sc.WriteElement(dec)
	}()

	result := <-done
	if result.err != nil {
		t.Fatalf("Request: %v", result.err)
	}
	if result.f.Data == nil {
		t.Fatal("Data = nil, want embedded form")
	}
	if len(result.f.Data.Fields) != 1 || result.f.Data.Fields[0].Var != "username" {
		t.Fatalf("Data.Fields = %+v, want one username field", result.f.Data.Fields)
	}
}

func TestSubmitSendsFlatFields(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		done <- register.Submit(context.Background(), imSess, jid.MustParse("capulet.com"), register.Fields{Username: "juliet", Password: "r0m30"}, nil)
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registration submission")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if iq.Type != stanza.SetIQ || !bytes.Contains(req.Raw, []byte("<username>juliet</username>")) {
		t.Fatalf("unexpected registration submission: %s", req.Raw)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result"/>`)))
		sc.WriteElement(dec)
	}()

	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}
}
