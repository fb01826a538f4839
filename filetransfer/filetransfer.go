// Package filetransfer coordinates SI file transfer (XEP-0096) with the
// two byte-stream transports that actually move the bytes: it chooses a
// method, negotiates through si, opens the winning bytestreams transport,
// and tracks the live session by SID the way spec.md §5 describes the
// SI-session table: a concurrent map keyed by string id, inserted before
// outbound bytes flush and removed on response, timeout, or cancellation.
//
// No teacher package in the retrieval pack coordinates si and bytestreams
// together; this package is built directly from spec.md §4.6's receiver
// and sender algorithms, composing the already-built si and bytestreams
// packages the way the teacher composes disco and ping underneath muc's
// room discovery: thin glue, typed events, no protocol logic of its own.
package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"codeberg.org/xmppgo/client/bytestreams"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/si"
)

// Direction distinguishes which side of a transfer this session is.
type Direction int

// Directions a Session can be.
const (
	Sending Direction = iota
	Receiving
)

// Session is a single file transfer in progress, indexed by SID in
// FileTransfer's session table, per spec.md §5.
type Session struct {
	SID         string
	Direction   Direction
	From, To    jid.JID
	File        si.File
	Method      string
	Transferred int64

	cancel context.CancelFunc
}

// ProgressFunc receives periodic transfer progress, spec.md §4.6's
// BytesTransferred event turned into FileTransferProgress.
type ProgressFunc func(Session)

// AbortedFunc receives a transfer that was cancelled or failed before
// completing.
type AbortedFunc func(Session, error)

// CompletedFunc receives a transfer that finished successfully.
type CompletedFunc func(Session)

// AcceptFunc is called with an inbound offer's file metadata and decides
// whether to accept it. Returning a non-nil io.WriteCloser accepts the
// transfer and writes the incoming bytes there; returning nil rejects it
// with NotAcceptable, per spec.md §4.6 step 3.
type AcceptFunc func(from jid.JID, file si.File) io.WriteCloser

// FileTransfer is the im.Extension owning the SI-session table and
// brokering between si's negotiation and bytestreams' transports.
type FileTransfer struct {
	sess *im.Session
	ibb  *bytestreams.IBB

	forceInBand bool

	mu       sync.Mutex
	sessions map[string]*Session

	onAccept    AcceptFunc
	onProgress  []ProgressFunc
	onAborted   []AbortedFunc
	onCompleted []CompletedFunc
}

// New builds a FileTransfer bound to sess, using ibb (if non-nil) as the
// in-band transport. SOCKS5 needs no session-bound extension since it
// dials plain TCP directly.
func New(sess *im.Session, ibb *bytestreams.IBB) *FileTransfer {
	return &FileTransfer{
		sess:     sess,
		ibb:      ibb,
		sessions: make(map[string]*Session),
	}
}

// Register declares the "filetransfer" tag with an im.Registry, depending
// on "ibb" so an IBB handler is always available as a fallback transport.
func Register(reg *im.Registry) {
	reg.Register("filetransfer", []string{"ibb"}, func(sess *im.Session, load func(string) (im.Extension, error)) (im.Extension, error) {
		ext, err := load("ibb")
		if err != nil {
			return nil, err
		}
		return New(sess, ext.(*bytestreams.IBB)), nil
	})
}

// Namespaces satisfies im.Extension.
func (ft *FileTransfer) Namespaces() []string { return []string{si.NS, si.NSFileTransfer} }

// SetForceInBand makes Send and HandleOffer skip SOCKS5 and always
// negotiate IBB, per spec.md §4.6 step 1's force_in_band flag.
func (ft *FileTransfer) SetForceInBand(force bool) { ft.forceInBand = force }

// OnAccept registers the callback consulted for every inbound file offer.
// Only one callback is kept, matching the user-facing contract's single
// FileTransferRequest consumer in spec.md §8.
func (ft *FileTransfer) OnAccept(f AcceptFunc) { ft.onAccept = f }

// OnProgress, OnAborted, and OnCompleted register additional observers of
// transfer lifecycle events.
func (ft *FileTransfer) OnProgress(f ProgressFunc)   { ft.onProgress = append(ft.onProgress, f) }
func (ft *FileTransfer) OnAborted(f AbortedFunc)     { ft.onAborted = append(ft.onAborted, f) }
func (ft *FileTransfer) OnCompleted(f CompletedFunc) { ft.onCompleted = append(ft.onCompleted, f) }

func (ft *FileTransfer) add(s *Session) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if _, exists := ft.sessions[s.SID]; exists {
		return false
	}
	ft.sessions[s.SID] = s
	return true
}

func (ft *FileTransfer) remove(sid string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.sessions, sid)
}

// Get returns the live session for sid, if one is tracked.
func (ft *FileTransfer) Get(sid string) (Session, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	s, ok := ft.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (ft *FileTransfer) reportProgress(s *Session) {
	for _, f := range ft.onProgress {
		f(*s)
	}
}

func (ft *FileTransfer) reportAborted(s *Session, err error) {
	ft.remove(s.SID)
	for _, f := range ft.onAborted {
		f(*s, err)
	}
}

func (ft *FileTransfer) reportCompleted(s *Session) {
	ft.remove(s.SID)
	for _, f := range ft.onCompleted {
		f(*s)
	}
}

// ErrRejected is returned by Send when the peer declined the offer.
var ErrRejected = errors.New("filetransfer: peer rejected the offer")

// ErrConflict and ErrNotAcceptable correspond to spec.md §7's Conflict and
// NotAcceptable error kinds: HandleOffer returns one of these (wrapped
// with the offending sid or reason via %w) so a caller can use errors.Is
// to tell a duplicate-sid offer apart from a declined one, rather than
// pattern-matching an error string.
var (
	ErrConflict      = errors.New("filetransfer: sid already in use")
	ErrNotAcceptable = errors.New("filetransfer: offer declined")
)

// Send offers file to peer, negotiates a byte-stream method, and streams
// src over the agreed transport, per spec.md §4.6's sending-side flow.
// hosts, if non-empty, are the SOCKS5 streamhosts this side dials if the
// peer picks SOCKS5; they are not announced to the peer. With none given
// only IBB is offered, since SOCKS5 has nothing to connect to.
// Progress is reported through OnProgress as the transfer proceeds; the
// call blocks until the transfer completes, is cancelled, or fails.
func (ft *FileTransfer) Send(ctx context.Context, to jid.JID, file si.File, src io.Reader, hosts ...bytestreams.StreamHost) error {
	sid := attr.RandomID()
	methods := ft.sendMethods(hosts)
	offer := si.Offer{SID: sid, File: file, Methods: methods}
	result, err := si.Send(ctx, ft.sess, to, offer)
	if err != nil {
		return err
	}
	if result.Method == "" {
		return ErrRejected
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{SID: sid, Direction: Sending, From: ft.sess.Sess.LocalAddr(), To: to, File: file, Method: result.Method, cancel: cancel}
	if !ft.add(s) {
		cancel()
		return fmt.Errorf("filetransfer: duplicate sid %q", sid)
	}

	conn, err := ft.dial(sctx, to, sid, result.Method, hosts)
	if err != nil {
		ft.reportAborted(s, err)
		return err
	}
	defer conn.Close()

	if err := ft.pump(sctx, s, conn, src, nil); err != nil {
		ft.reportAborted(s, err)
		return err
	}
	ft.reportCompleted(s)
	return nil
}

func (ft *FileTransfer) sendMethods(hosts []bytestreams.StreamHost) []string {
	var methods []string
	if !ft.forceInBand && len(hosts) > 0 {
		methods = append(methods, bytestreams.NSSOCKS5)
	}
	if ft.ibb != nil {
		methods = append(methods, bytestreams.NSIBB)
	}
	return methods
}

func (ft *FileTransfer) dial(ctx context.Context, to jid.JID, sid, method string, hosts []bytestreams.StreamHost) (ioConn, error) {
	switch method {
	case bytestreams.NSIBB:
		if ft.ibb == nil {
			return nil, errors.New("filetransfer: no ibb transport loaded")
		}
		return ft.ibb.Open(ctx, to, sid, bytestreams.DefaultBlockSize)
	case bytestreams.NSSOCKS5:
		if len(hosts) == 0 {
			return nil, errors.New("filetransfer: socks5 chosen but no streamhost candidates given")
		}
		domain := bytestreams.HashedDomain(sid, ft.sess.Sess.LocalAddr(), to)
		var lastErr error
		for _, h := range hosts {
			conn, err := bytestreams.DialSOCKS5(ctx, h, domain)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("filetransfer: all socks5 streamhost candidates failed: %w", lastErr)
	default:
		return nil, fmt.Errorf("filetransfer: unsupported method %q", method)
	}
}

// ioConn is the minimal net.Conn surface pump needs; bytestreams.IBB.Open
// and bytestreams.DialSOCKS5 both satisfy it through net.Conn.
type ioConn interface {
	io.ReadWriteCloser
}

// HashedDomain re-exports bytestreams.HashedDomain for callers that
// negotiate SOCKS5 streamhosts themselves (XEP-0065's own IQ exchange,
// which this package does not model since spec.md §4.6 leaves streamhost
// announcement to the caller) and need the SOCKS5 destination name to
// connect with.
func HashedDomain(sid string, initiator, target jid.JID) string {
	return bytestreams.HashedDomain(sid, initiator, target)
}

const progressEvery = 1 << 16 // report progress every 64KiB moved.

// pump copies data between conn and src/dst depending on s.Direction,
// reporting progress periodically and honoring ctx cancellation.
func (ft *FileTransfer) pump(ctx context.Context, s *Session, conn ioConn, src io.Reader, dst io.Writer) error {
	done := make(chan error, 1)
	go func() {
		var err error
		switch s.Direction {
		case Sending:
			err = copyWithProgress(conn, src, s, ft)
		case Receiving:
			err = copyWithProgress(dst, conn, s, ft)
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		conn.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func copyWithProgress(dst io.Writer, src io.Reader, s *Session, ft *FileTransfer) error {
	buf := make([]byte, 32*1024)
	var sinceReport int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			s.Transferred += int64(n)
			sinceReport += int64(n)
			if sinceReport >= progressEvery {
				sinceReport = 0
				ft.reportProgress(s)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				ft.reportProgress(s)
				return nil
			}
			return rerr
		}
	}
}

// Cancel aborts the tracked transfer for sid, closing its transport and
// removing it from the session table, per spec.md §4.6's
// cancel_transfer(session) contract.
func (ft *FileTransfer) Cancel(sid string) bool {
	ft.mu.Lock()
	s, ok := ft.sessions[sid]
	ft.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// HandleOffer parses an inbound SI offer's raw IQ payload, consults
// OnAccept, and picks the byte-stream method, per spec.md §4.6 steps 1-4.
// On acceptance it registers the session and starts receiving in the
// background; the caller is responsible for replying to the originating
// IQ-Get with si.AcceptResult(method) on success, or a stanza error on
// rejection built from err — errors.Is(err, ErrConflict) for a duplicate
// sid, errors.Is(err, ErrNotAcceptable) for a declined offer.
func (ft *FileTransfer) HandleOffer(from jid.JID, raw []byte) (accept si.IncomingOffer, sink io.WriteCloser, method string, err error) {
	offer, err := si.ParseOffer(raw)
	if err != nil {
		return si.IncomingOffer{}, nil, "", err
	}

	method = ft.chooseMethod(offer.Methods)
	if method == "" {
		return offer, nil, "", fmt.Errorf("filetransfer: no common byte-stream method")
	}

	ft.mu.Lock()
	_, exists := ft.sessions[offer.SID]
	ft.mu.Unlock()
	if exists {
		return offer, nil, "", fmt.Errorf("%w: sid %q", ErrConflict, offer.SID)
	}

	if ft.onAccept == nil {
		return offer, nil, "", fmt.Errorf("%w: no accept handler registered", ErrNotAcceptable)
	}
	w := ft.onAccept(from, offer.File)
	if w == nil {
		return offer, nil, "", fmt.Errorf("%w: rejected by accept handler", ErrNotAcceptable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{SID: offer.SID, Direction: Receiving, From: from, To: ft.sess.Sess.LocalAddr(), File: offer.File, Method: method, cancel: cancel}
	if !ft.add(s) {
		cancel()
		w.Close()
		return offer, nil, "", fmt.Errorf("%w: sid %q", ErrConflict, offer.SID)
	}

	go ft.receive(ctx, s, w, method)
	return offer, w, method, nil
}

func (ft *FileTransfer) receive(ctx context.Context, s *Session, w io.WriteCloser, method string) {
	defer w.Close()
	var conn ioConn
	var err error
	switch method {
	case bytestreams.NSIBB:
		if ft.ibb == nil {
			err = errors.New("filetransfer: no ibb transport loaded")
		} else {
			conn = ft.ibb.Accept(s.From, s.SID)
		}
	default:
		err = fmt.Errorf("filetransfer: %q is negotiated out of band", method)
	}
	if err != nil {
		ft.reportAborted(s, err)
		return
	}
	defer conn.Close()

	if err := ft.pump(ctx, s, conn, nil, w); err != nil {
		ft.reportAborted(s, err)
		return
	}
	ft.reportCompleted(s)
}

// chooseMethod picks SOCKS5 over IBB per spec.md §4.6 step 1, filtered to
// the methods offered and the transports this side actually has loaded.
func (ft *FileTransfer) chooseMethod(offered []string) string {
	has := make(map[string]bool, len(offered))
	for _, m := range offered {
		has[m] = true
	}
	if !ft.forceInBand && has[bytestreams.NSSOCKS5] {
		return bytestreams.NSSOCKS5
	}
	if has[bytestreams.NSIBB] && ft.ibb != nil {
		return bytestreams.NSIBB
	}
	return ""
}
