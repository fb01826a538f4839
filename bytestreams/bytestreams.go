// Package bytestreams implements the two byte-stream transports SI file
// transfer negotiates between: XEP-0047 In-Band Bytestreams (IBB) and
// XEP-0065 SOCKS5 Bytestreams.
//
// IBB is grounded directly on the teacher's ibb package (ibb/ibb.go,
// ibb/conn.go, ibb/payloads.go): the same base64-over-stanza buffered
// net.Conn shape, trimmed of the teacher's unfinished inbound-dispatch
// TODOs (HandleXMPP/HandleIQ in ibb.go end in `panic("not yet
// implemented")` for the receiving side; this package finishes that half
// since spec.md §4.6 requires both directions). SOCKS5 has no teacher
// counterpart in the pack - it is built directly from spec.md §4.6's
// "SHA-1(sid + initiator_bare + target_bare) hex digest used as the
// SOCKS5 destination address" rule and RFC 1928's negotiation, in the
// teacher's net.Conn-returning style.
package bytestreams

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// NSIBB and NSSOCKS5 are the two transport namespaces SI file transfer
// chooses between, per spec.md §4.6.
const (
	NSIBB    = "http://jabber.org/protocol/ibb"
	NSSOCKS5 = "http://jabber.org/protocol/bytestreams"
)

// DefaultBlockSize is IBB's default per-stanza payload size before base64
// inflation, matching the teacher's ibb.BlockSize.
const DefaultBlockSize = 1 << 11

// IBB is the im.Extension multiplexing inbound In-Band Bytestream data
// across concurrently open streams by session ID.
type IBB struct {
	sess *im.Session

	mu      sync.Mutex
	streams map[string]*ibbConn
}

// NewIBB builds an IBB bound to sess and registers its handlers.
func NewIBB(sess *im.Session) *IBB {
	h := &IBB{sess: sess, streams: make(map[string]*ibbConn)}
	sess.Handle(
		mux.SetIQFunc(xml.Name{Space: NSIBB, Local: "open"}, h.handleOpen),
		mux.SetIQFunc(xml.Name{Space: NSIBB, Local: "data"}, h.handleDataIQ),
		mux.SetIQFunc(xml.Name{Space: NSIBB, Local: "close"}, h.handleClose),
		mux.MessageFunc(stanza.NormalMessage, xml.Name{Space: NSIBB, Local: "data"}, h.handleDataMessage),
	)
	return h
}

// Register declares the "ibb" tag with an im.Registry.
func Register(reg *im.Registry) {
	reg.Register("ibb", nil, func(sess *im.Session, load func(string) (im.Extension, error)) (im.Extension, error) {
		return NewIBB(sess), nil
	})
}

// Namespaces satisfies im.Extension.
func (h *IBB) Namespaces() []string { return []string{NSIBB} }

type openPayload struct {
	XMLName   xml.Name `xml:"http://jabber.org/protocol/ibb open"`
	BlockSize uint16   `xml:"block-size,attr"`
	SID       string   `xml:"sid,attr"`
	Stanza    string   `xml:"stanza,attr,omitempty"`
}

func (p openPayload) tokenReader() xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "block-size"}, Value: fmt.Sprintf("%d", p.BlockSize)},
		{Name: xml.Name{Local: "sid"}, Value: p.SID},
	}
	if p.Stanza != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "stanza"}, Value: p.Stanza})
	}
	return xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NSIBB, Local: "open"}, Attr: attrs})
}

type dataPayload struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/ibb data"`
	Seq     uint16   `xml:"seq,attr"`
	SID     string   `xml:"sid,attr"`
	Data    []byte   `xml:",chardata"`
}

func (p dataPayload) tokenReader() xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(p.Data)),
		xml.StartElement{
			Name: xml.Name{Space: NSIBB, Local: "data"},
			Attr: []xml.Attr{
				{Name: xml.Name{Local: "seq"}, Value: fmt.Sprintf("%d", p.Seq)},
				{Name: xml.Name{Local: "sid"}, Value: p.SID},
			},
		},
	)
}

func closePayload(sid string) xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: NSIBB, Local: "close"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "sid"}, Value: sid}},
	})
}

// Open negotiates a new IBB stream to to with the given session ID (as
// agreed during SI negotiation) and returns a net.Conn once the peer
// accepts.
func (h *IBB) Open(ctx context.Context, to jid.JID, sid string, blockSize uint16) (net.Conn, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	payload := openPayload{BlockSize: blockSize, SID: sid, Stanza: "iq"}
	_, _, err := h.sess.SendIQ(ctx, iq, payload.tokenReader())
	if err != nil {
		return nil, err
	}
	conn := newIBBConn(h, to, sid, blockSize)
	h.add(sid, conn)
	return conn, nil
}

// Accept registers a stream this session expects to receive without
// sending its own open request, for when the peer is the one opening the
// stream (the usual case for a file transfer target), with the block size
// the peer's open request will specify once it arrives.
func (h *IBB) Accept(to jid.JID, sid string) net.Conn {
	conn := newIBBConn(h, to, sid, DefaultBlockSize)
	h.add(sid, conn)
	return conn
}

func (h *IBB) add(sid string, c *ibbConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[sid] = c
}

func (h *IBB) remove(sid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, sid)
}

func (h *IBB) get(sid string) *ibbConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[sid]
}

func (h *IBB) handleOpen(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Open    openPayload `xml:"http://jabber.org/protocol/ibb open"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	bs := wrapper.Open.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	if c := h.get(wrapper.Open.SID); c != nil {
		c.blockSize = int(bs)
	} else {
		h.add(wrapper.Open.SID, newIBBConn(h, iq.From, wrapper.Open.SID, bs))
	}
	return s.Send(iq.Result().Wrap(nil))
}

func (h *IBB) handleDataIQ(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Data    dataPayload `xml:"http://jabber.org/protocol/ibb data"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	if !h.deliver(wrapper.Data) {
		errPayload := stanza.Error{Type: stanza.Cancel, Condition: stanza.UnexpectedRequest}
		return s.Send(iq.Error().Wrap(errPayload.TokenReader()))
	}
	return s.Send(iq.Result().Wrap(nil))
}

func (h *IBB) handleDataMessage(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Data    dataPayload `xml:"http://jabber.org/protocol/ibb data"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	h.deliver(wrapper.Data)
	return nil
}

// deliver decodes and forwards an inbound IBB data frame to its stream,
// reporting false if the frame's sequence number is out of order or
// repeated, per spec.md §4.6's "reject out-of-order or duplicate sequence
// numbers" requirement.
func (h *IBB) deliver(p dataPayload) bool {
	c := h.get(p.SID)
	if c == nil {
		return false
	}
	if !c.checkSeq(p.Seq) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(string(p.Data))
	if err != nil {
		return false
	}
	c.deliver(raw)
	return true
}

func (h *IBB) handleClose(iq stanza.IQ, elem stream.Element, s *xmpp.Session) error {
	sid := attr.Get(elem.Start.Attr, "sid")
	if c := h.get(sid); c != nil {
		c.closeLocal()
	}
	h.remove(sid)
	return s.Send(iq.Result().Wrap(nil))
}

// ibbConn is a net.Conn backed by base64-encoded IBB data stanzas,
// grounded on the teacher's ibb.Conn.
type ibbConn struct {
	h         *IBB
	to        jid.JID
	sid       string
	blockSize int

	seq uint16

	recvSeq   uint16
	recvInit  bool

	incoming chan []byte
	done     chan struct{}
	buf      []byte
	closed   bool
	mu       sync.Mutex
}

func newIBBConn(h *IBB, to jid.JID, sid string, blockSize uint16) *ibbConn {
	return &ibbConn{h: h, to: to, sid: sid, blockSize: int(blockSize), incoming: make(chan []byte, 64), done: make(chan struct{})}
}

// checkSeq validates that seq is the next expected sequence number,
// wrapping at 2^16 per XEP-0047 §4.
func (c *ibbConn) checkSeq(seq uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recvInit {
		c.recvInit = true
		c.recvSeq = seq
		return true
	}
	want := c.recvSeq + 1
	if seq != want {
		return false
	}
	c.recvSeq = seq
	return true
}

// deliver hands an inbound frame to the reader, blocking until there is
// room. filetransfer.pump runs the reader in its own goroutine so this
// never stalls the dispatch loop for long; it only ever gives up early if
// the connection closes first.
func (c *ibbConn) deliver(b []byte) {
	select {
	case c.incoming <- b:
	case <-c.done:
	}
}

func (c *ibbConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		select {
		case b := <-c.incoming:
			c.buf = b
		case <-c.done:
			return 0, io.EOF
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *ibbConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	total := 0
	for total < len(p) {
		end := total + c.blockSize
		if end > len(p) {
			end = len(p)
		}
		chunk := p[total:end]
		enc := make([]byte, base64.StdEncoding.EncodedLen(len(chunk)))
		base64.StdEncoding.Encode(enc, chunk)
		payload := dataPayload{Seq: c.seq, SID: c.sid, Data: enc}
		c.seq++
		iq := stanza.IQ{Type: stanza.SetIQ, To: c.to, ID: attr.RandomID()}
		if err := c.h.sess.Sess.Send(iq.Wrap(payload.tokenReader())); err != nil {
			return total, err
		}
		total = end
	}
	return total, nil
}

func (c *ibbConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.h.remove(c.sid)
	close(c.done)
	iq := stanza.IQ{Type: stanza.SetIQ, To: c.to, ID: attr.RandomID()}
	return c.h.sess.Sess.Send(iq.Wrap(closePayload(c.sid)))
}

func (c *ibbConn) closeLocal() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

func (c *ibbConn) LocalAddr() net.Addr                { return ibbAddr{} }
func (c *ibbConn) RemoteAddr() net.Addr                { return ibbAddr{jid: c.to} }
func (c *ibbConn) SetDeadline(t time.Time) error       { return nil }
func (c *ibbConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *ibbConn) SetWriteDeadline(t time.Time) error  { return nil }

type ibbAddr struct{ jid jid.JID }

func (a ibbAddr) Network() string { return "ibb" }
func (a ibbAddr) String() string  { return a.jid.String() }

// StreamHost is a candidate SOCKS5 proxy, as advertised in a XEP-0065
// streamhost negotiation, per spec.md §4.6.
type StreamHost struct {
	JID  jid.JID
	Host string
	Port uint16
}

// HashedDomain computes the SHA-1(sid + initiator_bare + target_bare) hex
// digest XEP-0065 §5 uses as the SOCKS5 destination address in place of a
// real hostname, per spec.md §4.6.
func HashedDomain(sid string, initiator, target jid.JID) string {
	h := sha1.New()
	io.WriteString(h, sid)
	io.WriteString(h, initiator.Bare().String())
	io.WriteString(h, target.Bare().String())
	return hex.EncodeToString(h.Sum(nil))
}

// DialSOCKS5 connects to host, performs the no-auth SOCKS5 handshake, and
// issues a CONNECT to the given hashed domain on port 0, per XEP-0065 §5's
// adaptation of RFC 1928.
func DialSOCKS5(ctx context.Context, host StreamHost, domain string) (net.Conn, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host.Host, host.Port))
	if err != nil {
		return nil, err
	}
	if err := socks5Handshake(conn, domain); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func socks5Handshake(conn net.Conn, domain string) error {
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return err
	}
	r := bufio.NewReader(conn)
	resp := make([]byte, 2)
	if _, err := io.ReadFull(r, resp); err != nil {
		return err
	}
	if resp[0] != 0x05 || resp[1] != 0x00 {
		return fmt.Errorf("bytestreams: socks5 method negotiation rejected")
	}
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	req = append(req, []byte(domain)...)
	req = append(req, 0x00, 0x00)
	if _, err := conn.Write(req); err != nil {
		return err
	}
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return err
	}
	if head[1] != 0x00 {
		return fmt.Errorf("bytestreams: socks5 connect failed with code %d", head[1])
	}
	switch head[3] {
	case 0x01:
		io.CopyN(io.Discard, r, 4+2)
	case 0x03:
		lenByte := make([]byte, 1)
		io.ReadFull(r, lenByte)
		io.CopyN(io.Discard, r, int64(lenByte[0])+2)
	case 0x04:
		io.CopyN(io.Discard, r, 16+2)
	}
	return nil
}
