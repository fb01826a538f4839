// Package xmpp implements the StreamCore component of the spec: the
// session state machine from TCP connect through authenticated, bound,
// ready, SASL negotiation, resource binding, IQ request/response
// correlation and stanza dispatch. Reconnection is not implemented.
//
// The state machine, SASL negotiation shape, and stream feature
// abstraction are grounded on mellium.im/xmpp's session.go, sasl.go,
// bind.go and features.go; the element-at-a-time transport they sit on
// top of is this module's stream package rather than a shared
// xml.Token stream.
package xmpp

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the StreamCore component, corresponding to
// spec.md §7's error kinds. Wrap these with fmt.Errorf("%s: %w", ...) when
// additional context (a condition, a reason string) needs to travel with
// the error.
var (
	ErrNotConnected           = errors.New("xmpp: not connected")
	ErrNotAuthenticated       = errors.New("xmpp: not authenticated")
	ErrAlreadyDisposed        = errors.New("xmpp: session already closed")
	ErrTimeout                = errors.New("xmpp: request timed out")
	ErrCancelled              = errors.New("xmpp: request cancelled")
	ErrConnectionLost         = errors.New("xmpp: connection lost")
	ErrTLSRequiredByServer    = errors.New("xmpp: server requires TLS")
	ErrFeatureNotSupported    = errors.New("xmpp: feature not supported by peer")
	ErrAuthenticationFailed   = errors.New("xmpp: authentication failed")
	ErrNoMatchingSASLMech     = fmt.Errorf("xmpp: no matching SASL mechanism: %w", ErrAuthenticationFailed)
	ErrProtocolViolation      = errors.New("xmpp: protocol violation")
)

// StanzaError wraps a stanza.Error received in response to a request,
// satisfying spec.md §7's XmppStanzaError kind. Callers that need the raw
// condition/type should use errors.As.
type StanzaError struct {
	Err error // the underlying stanza.Error
}

func (e *StanzaError) Error() string { return e.Err.Error() }
func (e *StanzaError) Unwrap() error { return e.Err }
