package xmpp

import (
	"sync"

	"codeberg.org/xmppgo/client/stanza"
)

// iqResult is delivered on a waiter's channel exactly once: either a
// successfully correlated response or a terminal error (ErrConnectionLost,
// ErrCancelled).
type iqResult struct {
	iq  stanza.IQ
	raw []byte
	err error
}

type iqWaiter struct {
	ch chan iqResult
}

// pendingTable is the session's map of in-flight IQ ids to waiters,
// satisfying spec.md §3's Pending IQ invariants: every outgoing Get/Set is
// registered before bytes leave the socket, and every matching Result/
// Error releases exactly one pending record.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]*iqWaiter
}

func newPendingTable() pendingTable {
	return pendingTable{waiters: make(map[string]*iqWaiter)}
}

func (t *pendingTable) register(id string) *iqWaiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := &iqWaiter{ch: make(chan iqResult, 1)}
	t.waiters[id] = w
	return w
}

// resolve delivers a response to the waiter registered under id, if any,
// and removes it. It reports whether a waiter was found so the caller
// (Session.dispatchIQCorrelation) knows whether to fall through to the
// general handler.
func (t *pendingTable) resolve(id string, iq stanza.IQ, raw []byte, err error) bool {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- iqResult{iq: iq, raw: raw, err: err}
	return true
}

// cancel removes the waiter for id without resolving it, used when a
// SendIQ call returns via timeout or context cancellation so the table
// does not leak an entry for a response that will never be correlated
// again to anything useful.
func (t *pendingTable) cancel(id string) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

// closeAll resolves every outstanding waiter with err, used on connection
// loss and on Close.
func (t *pendingTable) closeAll(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[string]*iqWaiter)
	t.mu.Unlock()
	for _, w := range waiters {
		select {
		case w.ch <- iqResult{err: err}:
		default:
		}
	}
}
