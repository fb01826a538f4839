package xmpp

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
)

// TestSendIQTimeout exercises spec.md §8's IQ timeout boundary: with
// default_timeout=50ms and a non-responding peer, the call fails with
// Timeout within 50-150ms.
func TestSendIQTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	conf := newConfig(
		WithOrigin(jid.MustParse("alice@example.net/phone")),
		WithDefaultTimeout(50*time.Millisecond),
	)
	sess := &Session{
		conf:    conf,
		conn:    stream.NewConn(clientConn),
		pending: newPendingTable(),
	}

	start := time.Now()
	_, _, err := sess.SendIQ(context.Background(), stanza.IQ{
		To:   jid.MustParse("example.net"),
		Type: stanza.GetIQ,
	}, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: "urn:xmpp:ping", Local: "ping"}}), 0)
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed < 50*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Errorf("elapsed = %v, want within [50ms, 150ms]", elapsed)
	}
}

// TestPendingTableResolvesExactlyOnce exercises spec.md §3's Pending IQ
// invariant: a matching Result releases exactly one pending record.
func TestPendingTableResolvesExactlyOnce(t *testing.T) {
	pt := newPendingTable()
	w := pt.register("abc")
	resolved := pt.resolve("abc", stanza.IQ{ID: "abc", Type: stanza.ResultIQ}, nil, nil)
	if !resolved {
		t.Fatal("expected resolve to find the registered waiter")
	}
	if pt.resolve("abc", stanza.IQ{ID: "abc", Type: stanza.ResultIQ}, nil, nil) {
		t.Error("expected second resolve for the same id to report not found")
	}
	select {
	case res := <-w.ch:
		if res.iq.ID != "abc" {
			t.Errorf("delivered iq id = %q, want abc", res.iq.ID)
		}
	default:
		t.Error("expected a result to be delivered to the waiter channel")
	}
}
