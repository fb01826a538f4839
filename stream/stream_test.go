package stream_test

import (
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stream"
)

func pipeConns(t *testing.T) (client, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return c, s
}

func TestOpenExpectRoundTrip(t *testing.T) {
	clientNetConn, serverNetConn := pipeConns(t)
	client := stream.NewConn(clientNetConn)
	server := stream.NewConn(serverNetConn)

	to := jid.MustParse("example.net")
	from := jid.MustParse("alice@example.net")

	done := make(chan error, 1)
	go func() {
		done <- client.Open(to, from, "", "")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := server.Expect(ctx)
	if err != nil {
		t.Fatalf("unexpected error expecting stream header: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error opening stream: %v", err)
	}
	if !info.To.Equal(to) {
		t.Errorf("info.To = %v, want %v", info.To, to)
	}
	if !info.From.Equal(from) {
		t.Errorf("info.From = %v, want %v", info.From, from)
	}
}

func TestReadElementClosed(t *testing.T) {
	clientNetConn, serverNetConn := pipeConns(t)
	client := stream.NewConn(clientNetConn)
	server := stream.NewConn(serverNetConn)

	go func() {
		client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := server.Expect(ctx); err == nil {
		t.Fatalf("expected error reading stream open from a closed peer")
	}
}

func TestWriteThenReadElement(t *testing.T) {
	clientNetConn, serverNetConn := pipeConns(t)
	client := stream.NewConn(clientNetConn)
	server := stream.NewConn(serverNetConn)

	type pingIQ struct {
		XMLName xml.Name `xml:"jabber:client iq"`
		ID      string   `xml:"id,attr"`
		Type    string   `xml:"type,attr"`
	}

	go func() {
		_, _ = client.WriteElement(xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: "jabber:client", Local: "iq"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "id"}, Value: "1"},
				{Name: xml.Name{Local: "type"}, Value: "get"},
			},
		}))
	}()

	elem, err := server.ReadElement()
	if err != nil {
		t.Fatalf("unexpected error reading element: %v", err)
	}
	var iq pingIQ
	if err := xml.Unmarshal(elem.Raw, &iq); err != nil {
		t.Fatalf("unexpected error unmarshaling element: %v", err)
	}
	if iq.ID != "1" || iq.Type != "get" {
		t.Errorf("decoded iq = %+v, want id=1 type=get", iq)
	}
}
