package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
)

// SessionState is a bitmask describing how far session negotiation has
// progressed, following the shape of mellium.im/xmpp's SessionState.
type SessionState uint8

const (
	// Secure indicates the transport has been upgraded to TLS.
	Secure SessionState = 1 << iota
	// Authn indicates SASL authentication succeeded.
	Authn
	// Bind indicates a resource has been bound.
	Bind
	// Ready indicates stanzas may be sent and received.
	Ready
	// Closed indicates Close has been called; every subsequent operation
	// fails with ErrAlreadyDisposed.
	Closed
)

// Handler dispatches one inbound stanza element that was not consumed by
// IQ correlation. Implemented by the IM layer's mux.ServeMux. The session
// is passed alongside the element so a handler can reply (Send/SendIQ)
// without the mux layer needing its own reference to the session, mirroring
// how the teacher's mux.ServeMux.HandleXMPP receives a shared
// xmlstream.TokenReadEncoder to write replies back onto.
type Handler interface {
	HandleXMPP(elem stream.Element, s *Session) error
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(elem stream.Element, s *Session) error

// HandleXMPP calls f(elem, s).
func (f HandlerFunc) HandleXMPP(elem stream.Element, s *Session) error { return f(elem, s) }

// Session owns the connection from TCP dial through Ready and the pending-IQ
// correlation table. It has no reconnect operation: after the connection is
// lost, a new Session has to be negotiated. It corresponds to
// spec.md §4.2's StreamCore component.
type Session struct {
	conf *Config
	conn *stream.Conn

	mu    sync.RWMutex
	state SessionState
	jid   jid.JID // full bound JID, valid once Ready

	writeMu sync.Mutex

	pending pendingTable

	handler Handler
}

// Dial connects to addr on network, negotiates a session for origin using
// the supplied options, and blocks until the session reaches Ready or
// negotiation fails. h receives every inbound element not claimed by a
// pending IQ waiter.
func Dial(ctx context.Context, network, addr string, h Handler, opts ...Option) (*Session, error) {
	conf := newConfig(opts...)
	var tlsCfg *tls.Config
	conn, err := stream.Dial(ctx, network, addr, tlsCfg)
	if err != nil {
		return nil, err
	}
	return NegotiateSession(ctx, conn, h, conf)
}

// NewSession wraps an already-negotiated connection as a Ready Session
// without performing any stream or feature negotiation. It is for callers
// that complete their own handshake out of band (for example, a component
// connection, or resuming a session after an external reconnect), and for
// tests that exercise a Handler without paying for a full negotiation.
func NewSession(conn *stream.Conn, h Handler, origin jid.JID, opts ...Option) *Session {
	conf := newConfig(append([]Option{WithOrigin(origin)}, opts...)...)
	s := &Session{
		conf:    conf,
		conn:    conn,
		handler: h,
		pending: newPendingTable(),
		state:   Ready,
		jid:     origin,
	}
	go s.readLoop()
	return s
}

// NegotiateSession runs stream and feature negotiation over an
// already-connected transport, following the teacher's NegotiateSession
// entry point but driven by this module's element-based stream.Conn rather
// than a shared xml.Decoder passed through a Negotiator callback.
func NegotiateSession(ctx context.Context, conn *stream.Conn, h Handler, conf *Config) (*Session, error) {
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	if conf.DefaultTimeout == 0 {
		conf.DefaultTimeout = DefaultTimeout
	}
	s := &Session{
		conf:    conf,
		conn:    conn,
		handler: h,
		pending: newPendingTable(),
	}

	conf.Logger.Debug("opening stream", "to", conf.Origin.Domain())
	if err := conn.Open(conf.Origin.Domain(), conf.Origin, conf.Lang, ""); err != nil {
		return nil, err
	}
	if _, err := conn.Expect(ctx); err != nil {
		return nil, err
	}

	if err := s.negotiateFeatures(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state |= Ready
	s.mu.Unlock()
	conf.Logger.Info("session ready", "jid", s.LocalAddr().String())

	go s.readLoop()

	return s, nil
}

// State returns the current session state bitmask.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LocalAddr returns the session's bound full JID. It is the zero JID until
// Ready.
func (s *Session) LocalAddr() jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jid
}

func (s *Session) setJID(j jid.JID) {
	s.mu.Lock()
	s.jid = j
	s.mu.Unlock()
}

// Conn exposes the underlying stream connection, for use by stream
// features during negotiation (STARTTLS upgrade, SASL challenge/response).
// Extension packages should not need this; it is exported for the
// feature-negotiation files in this package and for tests.
func (s *Session) Conn() *stream.Conn { return s.conn }

// Config returns the session's configuration.
func (s *Session) Config() *Config { return s.conf }

// Send serializes r as a direct child of the stream envelope. It is safe
// to call concurrently; writes are serialized through an internal mutex,
// satisfying spec.md §5's single-writer-mutex guarantee.
func (s *Session) Send(r xml.TokenReader) error {
	if s.State()&Closed != 0 {
		return ErrAlreadyDisposed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.WriteElement(r)
	return err
}

// SendIQ sends iq wrapped around payload, allocating an id if iq.ID is
// empty, and blocks until a matching Result/Error arrives, the timeout
// elapses, or the session closes. A zero timeout uses conf.DefaultTimeout;
// a negative timeout waits forever. This is spec.md §4.2's
// iq_request(iq, timeout) operation.
func (s *Session) SendIQ(ctx context.Context, iq stanza.IQ, payload xml.TokenReader, timeout time.Duration) (stanza.IQ, []byte, error) {
	if s.State()&Closed != 0 {
		return stanza.IQ{}, nil, ErrAlreadyDisposed
	}
	if iq.ID == "" {
		iq.ID = attr.RandomID()
	}
	if timeout == 0 {
		timeout = s.conf.DefaultTimeout
	}

	waiter := s.pending.register(iq.ID)
	defer s.pending.cancel(iq.ID)

	if err := s.Send(iq.Wrap(payload)); err != nil {
		return stanza.IQ{}, nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return stanza.IQ{}, nil, ctx.Err()
	case <-timeoutCh:
		return stanza.IQ{}, nil, ErrTimeout
	case resp := <-waiter.ch:
		if resp.err != nil {
			return stanza.IQ{}, nil, resp.err
		}
		if resp.iq.Type == stanza.ErrorIQ {
			var stanzaErr stanza.Error
			if err := extractIQError(resp.raw, &stanzaErr); err != nil {
				return resp.iq, resp.raw, fmt.Errorf("xmpp: malformed iq error: %w", err)
			}
			return resp.iq, resp.raw, &StanzaError{Err: stanzaErr}
		}
		return resp.iq, resp.raw, nil
	}
}

func extractIQError(raw []byte, out *stanza.Error) error {
	wrapper := struct {
		XMLName xml.Name
		Error   stanza.Error `xml:"error"`
	}{}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	*out = wrapper.Error
	return nil
}

// readLoop is the single reader task described in spec.md §5: it reads
// one element at a time, attempts IQ correlation first, then falls
// through to the registered Handler.
func (s *Session) readLoop() {
	for {
		elem, err := s.conn.ReadElement()
		if err != nil {
			s.conf.Logger.Warn("read loop terminated", "error", err)
			s.pending.closeAll(ErrConnectionLost)
			s.mu.Lock()
			s.state |= Closed
			s.mu.Unlock()
			return
		}

		if ok := s.dispatchIQCorrelation(elem); ok {
			continue
		}

		if s.handler != nil {
			if err := s.handler.HandleXMPP(elem, s); err != nil {
				s.conf.Logger.Error("handler error", "error", err)
			}
		}
	}
}

func (s *Session) dispatchIQCorrelation(elem stream.Element) bool {
	if elem.Start.Name.Local != "iq" {
		return false
	}
	iq, err := stanza.FromStartElement(elem.Start)
	if err != nil {
		return false
	}
	if iq.Type != stanza.ResultIQ && iq.Type != stanza.ErrorIQ {
		return false
	}
	return s.pending.resolve(iq.ID, iq, elem.Raw, nil)
}

// Close sends the closing stream tag, cancels every pending IQ waiter with
// ErrCancelled, and releases the underlying transport. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state&Closed != 0 {
		s.mu.Unlock()
		return nil
	}
	s.state |= Closed
	s.mu.Unlock()

	s.pending.closeAll(ErrCancelled)
	return s.conn.Close()
}
