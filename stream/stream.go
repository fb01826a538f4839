// Package stream implements the XmlStream component of the spec: opening,
// restarting and closing the outer <stream:stream> envelope, and reading and
// writing individual top-level stanza/feature elements over it.
//
// The teacher's root package shares a single xml.Decoder/xml.Encoder pair
// across session negotiation and stanza dispatch, threading xml.Token values
// by hand through StreamFeature.Parse and the mux layer. This package instead
// buffers one element at a time behind ReadElement/WriteElement, matching
// spec.md's explicit XmlStream operation signatures. The simpler per-element
// read loop is grounded on the read loops in bom-d-van-xmppclient/client.go
// and jeidee-goexmpp/stream.go; the header send/expect behavior is grounded
// on mellium.im/xmpp/internal/stream.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
)

// ErrNotWellFormed is returned when the peer sends something other than a
// stream:stream start element where one was expected.
var ErrNotWellFormed = errors.New("stream: not well-formed")

// ErrClosed is returned from ReadElement once the peer has sent
// </stream:stream> or the connection has been closed locally.
var ErrClosed = errors.New("stream: closed")

// Info is the metadata carried on a stream:stream start tag.
type Info struct {
	To      jid.JID
	From    jid.JID
	ID      string
	Version string
	Lang    string
	XMLNS   string
}

// Conn is a live XMPP connection: a transport plus the XML codec layered
// over it. It is safe to use from a single goroutine; callers that need to
// read and write concurrently should synchronize WriteElement calls
// themselves, the way Session does.
type Conn struct {
	rwc net.Conn
	dec *xml.Decoder
	w   *bufio.Writer

	closed bool
}

// Dial connects to addr (host:port) on the given network ("tcp", "tcp4", or
// "tcp6") and wraps the resulting connection for use as an XMPP stream. If
// cfg is non-nil the connection is immediately wrapped in a TLS client
// handshake (implicit TLS, as used for the direct-TLS port); for STARTTLS
// negotiation, dial without a config and call StartTLS afterward.
func Dial(ctx context.Context, network, addr string, cfg *tls.Config) (*Conn, error) {
	var d net.Dialer
	rwc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		tlsConn := tls.Client(rwc, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rwc.Close()
			return nil, err
		}
		rwc = tlsConn
	}
	return NewConn(rwc), nil
}

// NewConn wraps an already-established connection (for example one returned
// by net.Pipe in tests, or a tls.Conn after a completed handshake).
func NewConn(rwc net.Conn) *Conn {
	return &Conn{
		rwc: rwc,
		dec: xml.NewDecoder(rwc),
		w:   bufio.NewWriter(rwc),
	}
}

// LocalAddr and RemoteAddr expose the underlying transport's addresses.
func (c *Conn) LocalAddr() net.Addr  { return c.rwc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.rwc.RemoteAddr() }

// StartTLS performs a STARTTLS handshake over the connection and resets the
// XML codec to operate over the resulting tls.Conn, per RFC 6120 §5. Callers
// are expected to have already exchanged the <starttls/>/<proceed/> pair;
// StartTLS only performs the handshake and stream reset.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	tlsConn := tls.Client(c.rwc, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}
	c.rwc = tlsConn
	c.dec = xml.NewDecoder(tlsConn)
	c.w = bufio.NewWriter(tlsConn)
	return nil
}

// ConnectionState reports the negotiated TLS parameters for the underlying
// connection, or ok == false if the connection is not secured.
func (c *Conn) ConnectionState() (state tls.ConnectionState, ok bool) {
	tlsConn, ok := c.rwc.(*tls.Conn)
	if !ok {
		return state, false
	}
	return tlsConn.ConnectionState(), true
}

// Open sends the opening <stream:stream> tag, establishing the outer
// envelope for a client-originated connection. It does not wait for a reply;
// callers that dialed (rather than accepted) a connection should call
// Expect afterward to read the server's reply header.
func (c *Conn) Open(to, from jid.JID, lang, id string) error {
	idAttr := ""
	if id != "" {
		idAttr = fmt.Sprintf(" id='%s'", xmlEscapeAttr(id))
	}
	langAttr := ""
	if lang != "" {
		langAttr = fmt.Sprintf(" xml:lang='%s'", xmlEscapeAttr(lang))
	}
	fromAttr := ""
	if !from.IsZero() {
		fromAttr = fmt.Sprintf(" from='%s'", xmlEscapeAttr(from.String()))
	}
	_, err := fmt.Fprintf(c.w,
		"<?xml version='1.0'?><stream:stream to='%s'%s%s version='1.0'%s xmlns='%s' xmlns:stream='%s'>",
		xmlEscapeAttr(to.String()), fromAttr, idAttr, langAttr, ns.Client, ns.Stream,
	)
	if err != nil {
		return err
	}
	return c.w.Flush()
}

// Restart sends a fresh stream header and then reads the peer's reply, as
// required after STARTTLS and after SASL negotiation complete (RFC 6120
// §5.4.3.3, §6.4.6).
func (c *Conn) Restart(ctx context.Context, to, from jid.JID, lang string) (Info, error) {
	c.dec = xml.NewDecoder(c.rwc)
	if err := c.Open(to, from, lang, ""); err != nil {
		return Info{}, err
	}
	return c.Expect(ctx)
}

// Expect reads tokens until it finds a stream:stream start element (skipping
// any leading XML declaration) and returns the metadata it carries. Any
// other element, including a stream-level <error/>, yields ErrNotWellFormed.
func (c *Conn) Expect(ctx context.Context) (Info, error) {
	for {
		select {
		case <-ctx.Done():
			return Info{}, ctx.Err()
		default:
		}
		tok, err := c.dec.Token()
		if err != nil {
			return Info{}, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			if _, ok := tok.(xml.ProcInst); ok {
				continue
			}
			return Info{}, ErrNotWellFormed
		}
		if start.Name.Local != "stream" || start.Name.Space != ns.Stream {
			return Info{}, ErrNotWellFormed
		}
		return infoFromStart(start)
	}
}

func infoFromStart(start xml.StartElement) (Info, error) {
	var info Info
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "to":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return info, err
			}
			info.To = j
		case "from":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return info, err
			}
			info.From = j
		case "id":
			info.ID = a.Value
		case "version":
			info.Version = a.Value
		case "lang":
			if a.Name.Space == "xml" {
				info.Lang = a.Value
			}
		case "xmlns":
			if a.Name.Space == "" {
				info.XMLNS = a.Value
			}
		}
	}
	return info, nil
}

// Element is one fully-buffered top-level child of the stream: its start
// tag plus the raw serialized bytes of the whole element, suitable for
// passing to xml.Unmarshal against a concrete stanza or feature type.
type Element struct {
	Start xml.StartElement
	Raw   []byte
}

// Decoder returns an *xml.Decoder scoped to Raw, for callers that want to
// DecodeElement directly instead of re-unmarshaling from bytes.
func (e Element) Decoder() *xml.Decoder {
	return xml.NewDecoder(bytes.NewReader(e.Raw))
}

// ReadElement reads exactly one top-level element from the stream: a
// stanza, a stream feature announcement, or a stream-level error. It
// returns ErrClosed if the peer sends the matching </stream:stream> close
// tag instead.
func (c *Conn) ReadElement() (Element, error) {
	tok, err := c.dec.Token()
	if err != nil {
		return Element{}, err
	}
	switch t := tok.(type) {
	case xml.EndElement:
		if t.Name.Local == "stream" && t.Name.Space == ns.Stream {
			return Element{}, ErrClosed
		}
		return Element{}, ErrNotWellFormed
	case xml.StartElement:
		var buf bytes.Buffer
		enc := xml.NewEncoder(&buf)
		start := t.Copy()
		if err := enc.EncodeToken(start); err != nil {
			return Element{}, err
		}
		depth := 1
		for depth > 0 {
			tok, err := c.dec.Token()
			if err != nil {
				return Element{}, err
			}
			if err := enc.EncodeToken(tok); err != nil {
				return Element{}, err
			}
			switch tok.(type) {
			case xml.StartElement:
				depth++
			case xml.EndElement:
				depth--
			}
		}
		if err := enc.Flush(); err != nil {
			return Element{}, err
		}
		return Element{Start: start, Raw: buf.Bytes()}, nil
	default:
		return c.ReadElement()
	}
}

// WriteElement serializes every token produced by r and writes it to the
// stream, flushing once the reader is exhausted.
func (c *Conn) WriteElement(r xml.TokenReader) (int, error) {
	enc := xml.NewEncoder(c.w)
	n := 0
	for {
		tok, err := r.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if err := enc.EncodeToken(tok); err != nil {
			return n, err
		}
		n++
	}
	if err := enc.Flush(); err != nil {
		return n, err
	}
	return n, c.w.Flush()
}

// Close sends the closing </stream:stream> tag and then closes the
// underlying transport. It is idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	_, werr := io.WriteString(c.w, "</stream:stream>")
	if werr == nil {
		werr = c.w.Flush()
	}
	cerr := c.rwc.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func xmlEscapeAttr(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
