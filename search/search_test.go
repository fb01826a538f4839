package search_test

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
	"codeberg.org/xmppgo/client/search"
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

func TestRequestFormParsesFlatAndDataFields(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan struct {
		f   search.Form
		err error
	}, 1)
	go func() {
		f, err := search.RequestForm(context.Background(), imSess, jid.MustParse("search.example.com"))
		done <- struct {
			f   search.Form
			err error
		}{f, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for search form request")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result">` +
			`<query xmlns="jabber:iq:search"><instructions>Fill in a field</instructions><first/><last/>` +
			`<x xmlns="jabber:x:data" type="form"><field var="first" type="text-single"/></x>` +
			`</query></iq>`)))
		sc.WriteElement(dec)
	}()

	result := <-done
	if result.err != nil {
		t.Fatalf("RequestForm: %v", result.err)
	}
	if result.f.Fields.Instructions != "Fill in a field" {
		t.Fatalf("Instructions = %q, want %q", result.f.Fields.Instructions, "Fill in a field")
	}
	if result.f.Data == nil || len(result.f.Data.Fields) != 1 || result.f.Data.Fields[0].Var != "first" {
		t.Fatalf("Data = %+v, want one first field", result.f.Data)
	}
}

func TestSearchParsesResultItems(t *testing.T) {
	imSess, out, sc := newTestSession(t)

	done := make(chan struct {
		results []search.Result
		err     error
	}, 1)
	go func() {
		results, err := search.Search(context.Background(), imSess, jid.MustParse("search.example.com"), search.Fields{First: "Juliet"})
		done <- struct {
			results []search.Result
			err     error
		}{results, err}
	}()

	var req stream.Element
	select {
	case req = <-out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for search submission")
	}
	iq, err := stanza.FromStartElement(req.Start)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if iq.Type != stanza.SetIQ || !bytes.Contains(req.Raw, []byte("<first>Juliet</first>")) {
		t.Fatalf("unexpected search submission: %s", req.Raw)
	}

	go func() {
		dec := xml.NewDecoder(bytes.NewReader([]byte(`<iq id="` + iq.ID + `" type="result">` +
			`<query xmlns="jabber:iq:search"><item jid="juliet@capulet.com"><first>Juliet</first><last>Capulet</last></item></query>` +
			`</iq>`)))
		sc.WriteElement(dec)
	}()

	result := <-done
	if result.err != nil {
		t.Fatalf("Search: %v", result.err)
	}
	if len(result.results) != 1 || result.results[0].JID.String() != "juliet@capulet.com" {
		t.Fatalf("results = %+v, want one juliet@capulet.com entry", result.results)
	}
}
