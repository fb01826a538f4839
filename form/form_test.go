package form_test

import (
	"bytes"
	"encoding/xml"
	"io"
	"testing"

	"codeberg.org/xmppgo/client/form"
)

func encode(t *testing.T, tr xml.TokenReader) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for {
		tok, err := tr.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if err := enc.EncodeToken(tok); err != nil {
			t.Fatalf("EncodeToken: %v", err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.Bytes()
}

func TestUnmarshalBareX(t *testing.T) {
	raw := []byte(`<x xmlns="jabber:x:data" type="form"><title>Registration</title>` +
		`<field var="username" type="text-single" label="Username"><value>romeo</value></field></x>`)
	d, err := form.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if d.Type != form.TypeForm || d.Title != "Registration" {
		t.Fatalf("Data = %+v, want type=form title=Registration", d)
	}
	f, ok := d.Field("username")
	if !ok || f.Value() != "romeo" || f.Label != "Username" {
		t.Fatalf("username field = %+v, ok=%v", f, ok)
	}
}

func TestUnmarshalWrappedX(t *testing.T) {
	raw := []byte(`<query xmlns="jabber:iq:register">` +
		`<x xmlns="jabber:x:data" type="submit"><field var="username"><value>juliet</value></field></x>` +
		`</query>`)
	d, err := form.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	f, ok := d.Field("username")
	if !ok || f.Value() != "juliet" {
		t.Fatalf("username field = %+v, ok=%v", f, ok)
	}
}

func TestDataTokenReaderRoundTrips(t *testing.T) {
	d := form.Data{
		Type: form.TypeForm,
		Fields: []form.Field{
			{Var: "stream-method", Type: "list-single", Options: map[string]string{"": "http://jabber.org/protocol/ibb"}},
		},
	}
	raw := encode(t, d.TokenReader())
	got, err := form.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal round trip: %v", err)
	}
	f, ok := got.Field("stream-method")
	if !ok || f.Options[""] != "http://jabber.org/protocol/ibb" {
		t.Fatalf("round-tripped field = %+v, ok=%v", f, ok)
	}
}

func TestFieldValueOnEmptyFieldIsEmptyString(t *testing.T) {
	var f form.Field
	if f.Value() != "" {
		t.Fatalf("Value() = %q, want empty string", f.Value())
	}
}
