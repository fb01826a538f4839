package xmpp_test

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"testing"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/stream"
)

func TestDumpFeaturesBytes(t *testing.T) {
	var buf bytes.Buffer
	_ = stream.NewConn
	enc := xml.NewEncoder(&buf)
	r := xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.Wrap(xmlstream.Token(xml.CharData("PLAIN")), xml.StartElement{Name: xml.Name{Local: "mechanism"}}),
			xml.StartElement{Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-sasl", Local: "mechanisms"}},
		),
		xml.StartElement{Name: xml.Name{Space: "http://etherx.jabber.org/streams", Local: "features"}},
	)
	for {
		tok, err := r.Token()
		if err != nil {
			break
		}
		enc.EncodeToken(tok)
	}
	enc.Flush()
	fmt.Println("BYTES:", buf.String())
}
