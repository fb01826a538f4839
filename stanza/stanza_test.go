package stanza_test

import (
	"bytes"
	"encoding/xml"
	"testing"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := stanza.Message{
		To:   jid.MustParse("bob@example.net"),
		From: jid.MustParse("alice@example.net/home"),
		Type: stanza.ChatMessage,
		Body: map[string]string{"": "hi"},
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, msg.TokenReader()); err != nil {
		t.Fatalf("unexpected error marshaling message: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected error flushing encoder: %v", err)
	}
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("<body>hi</body>")) {
		t.Errorf("expected output to contain <body>hi</body>, got %s", out)
	}

	var decoded stanza.Message
	if err := xml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unexpected error unmarshaling message: %v", err)
	}
	if decoded.Body[""] != "hi" {
		t.Errorf("decoded body = %q, want hi", decoded.Body[""])
	}
	if decoded.Type != stanza.ChatMessage {
		t.Errorf("decoded type = %q, want chat", decoded.Type)
	}
}

func TestIQResultFlipsAddresses(t *testing.T) {
	iq := stanza.IQ{
		ID:   "123",
		To:   jid.MustParse("server.example.net"),
		From: jid.MustParse("alice@example.net/home"),
		Type: stanza.GetIQ,
	}
	result := iq.Result()
	if result.Type != stanza.ResultIQ {
		t.Errorf("result type = %q, want result", result.Type)
	}
	if !result.To.Equal(iq.From) || !result.From.Equal(iq.To) {
		t.Errorf("result addresses not flipped: %+v", result)
	}
	if result.ID != iq.ID {
		t.Errorf("result ID = %q, want %q", result.ID, iq.ID)
	}
}

func TestErrorCondition(t *testing.T) {
	e := stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.ServiceUnavailable,
	}
	if e.Error() != "service-unavailable" {
		t.Errorf("Error() = %q, want service-unavailable", e.Error())
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, e.TokenReader()); err != nil {
		t.Fatalf("unexpected error marshaling stanza error: %v", err)
	}
	_ = enc.Flush()

	var decoded stanza.Error
	if err := xml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unexpected error unmarshaling stanza error: %v", err)
	}
	if decoded.Condition != stanza.ServiceUnavailable {
		t.Errorf("decoded condition = %q, want service-unavailable", decoded.Condition)
	}
}
