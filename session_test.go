package xmpp_test

import (
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"

	xmpp "codeberg.org/xmppgo/client"
)

type noopHandler struct{}

func (noopHandler) HandleXMPP(stream.Element, *xmpp.Session) error { return nil }

// fakeServer drives the server half of a minimal negotiation: stream open,
// SASL PLAIN, a stream restart, and resource binding.
func fakeServer(t *testing.T, conn net.Conn, boundJID jid.JID) {
	t.Helper()
	sc := stream.NewConn(conn)
	ctx := context.Background()

	if _, err := sc.Expect(ctx); err != nil {
		t.Errorf("server: expect open: %v", err)
		return
	}
	if err := sc.Open(jid.MustParse("alice@example.net"), jid.MustParse("example.net"), "", "s2s1"); err != nil {
		t.Errorf("server: open: %v", err)
		return
	}
	if _, err := sc.WriteElement(xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.Wrap(xmlstream.Token(xml.CharData("PLAIN")), xml.StartElement{Name: xml.Name{Local: "mechanism"}}),
			xml.StartElement{Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-sasl", Local: "mechanisms"}},
		),
		xml.StartElement{Name: xml.Name{Space: "http://etherx.jabber.org/streams", Local: "features"}},
	)); err != nil {
		t.Errorf("server: write features: %v", err)
		return
	}

	if _, err := sc.ReadElement(); err != nil {
		t.Errorf("server: read auth: %v", err)
		return
	}
	if _, err := sc.WriteElement(xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-sasl", Local: "success"},
	})); err != nil {
		t.Errorf("server: write success: %v", err)
		return
	}

	if _, err := sc.Expect(ctx); err != nil {
		t.Errorf("server: expect restarted open: %v", err)
		return
	}
	if err := sc.Open(jid.MustParse("alice@example.net"), jid.MustParse("example.net"), "", "s2s2"); err != nil {
		t.Errorf("server: reopen: %v", err)
		return
	}
	if _, err := sc.WriteElement(xmlstream.Wrap(
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-bind", Local: "bind"}}),
		xml.StartElement{Name: xml.Name{Space: "http://etherx.jabber.org/streams", Local: "features"}},
	)); err != nil {
		t.Errorf("server: write bind feature: %v", err)
		return
	}

	elem, err := sc.ReadElement()
	if err != nil {
		t.Errorf("server: read bind request: %v", err)
		return
	}
	reqIQ, err := stanza.FromStartElement(elem.Start)
	if err != nil {
		t.Errorf("server: parse bind request: %v", err)
		return
	}
	result := reqIQ.Result()
	boundElem := xmlstream.Wrap(
		xmlstream.Wrap(xmlstream.Token(xml.CharData(boundJID.String())), xml.StartElement{Name: xml.Name{Local: "jid"}}),
		xml.StartElement{Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-bind", Local: "bind"}},
	)
	if _, err := sc.WriteElement(result.Wrap(boundElem)); err != nil {
		t.Errorf("server: write bind result: %v", err)
		return
	}
}

func TestNegotiateSessionReachesReady(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	bound := jid.MustParse("alice@example.net/phone")
	go fakeServer(t, serverConn, bound)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := xmpp.NegotiateSession(ctx, stream.NewConn(clientConn), noopHandler{}, &xmpp.Config{
		Origin:         jid.MustParse("alice@example.net"),
		Password:       "secr3t",
		NoTLS:          true,
		DefaultTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error negotiating session: %v", err)
	}
	defer sess.Close()

	if sess.State()&xmpp.Ready == 0 {
		t.Errorf("session state = %v, want Ready set", sess.State())
	}
	if !sess.LocalAddr().Equal(bound) {
		t.Errorf("LocalAddr() = %v, want %v", sess.LocalAddr(), bound)
	}
}

