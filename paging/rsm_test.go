package paging_test

import (
	"bytes"
	"encoding/xml"
	"io"
	"testing"

	"codeberg.org/xmppgo/client/paging"
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

func TestRequestTokenReaderEncodesMaxAndAfter(t *testing.T) {
	raw := encode(t, paging.Request{Max: 20, After: "item-5"}.TokenReader())
	if !bytes.Contains(raw, []byte("<max>20</max>")) || !bytes.Contains(raw, []byte("<after>item-5</after>")) {
		t.Fatalf("unexpected set: %s", raw)
	}
	if bytes.Contains(raw, []byte("<before")) {
		t.Fatalf("unexpected before element: %s", raw)
	}
}

func TestRequestTokenReaderEncodesBeforeLastPage(t *testing.T) {
	raw := encode(t, paging.Request{Max: 10, BeforeLastPage: true}.TokenReader())
	if !bytes.Contains(raw, []byte("<before></before>")) {
		t.Fatalf("unexpected set, want empty before: %s", raw)
	}
}

func TestFromXMLParsesBareSet(t *testing.T) {
	raw := []byte(`<set xmlns="http://jabber.org/protocol/rsm"><first>a1</first><last>z9</last><count>42</count></set>`)
	s, err := paging.FromXML(raw)
	if err != nil {
		t.Fatalf("FromXML: %v", err)
	}
	if s.First != "a1" || s.Last != "z9" || s.Total() != 42 {
		t.Fatalf("Set = %+v, want first=a1 last=z9 total=42", s)
	}
}

func TestFromXMLParsesWrappedSet(t *testing.T) {
	raw := []byte(`<fin xmlns="urn:xmpp:mam:2"><set xmlns="http://jabber.org/protocol/rsm"><first>a1</first><last>z9</last></set></fin>`)
	s, err := paging.FromXML(raw)
	if err != nil {
		t.Fatalf("FromXML: %v", err)
	}
	if s.First != "a1" || s.Last != "z9" {
		t.Fatalf("Set = %+v, want first=a1 last=z9", s)
	}
}

func TestFromXMLReturnsZeroSetWhenAbsent(t *testing.T) {
	raw := []byte(`<fin xmlns="urn:xmpp:mam:2"/>`)
	s, err := paging.FromXML(raw)
	if err != nil {
		t.Fatalf("FromXML: %v", err)
	}
	if s.First != "" || s.Last != "" || s.Count != nil {
		t.Fatalf("Set = %+v, want zero value", s)
	}
}
