package xmpp

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"

	"codeberg.org/xmppgo/client/jid"
)

// DefaultTimeout is used when a Config does not specify one explicitly.
const DefaultTimeout = 30 * time.Second

// Config carries the parameters needed to negotiate a session, mirroring
// the teacher's Dialer/StreamConfig split but collapsed into one options
// struct the way mellium.im/xmpp/dial.go's Dialer fields are set directly.
type Config struct {
	Origin jid.JID
	Password string

	Lang string

	// TLSConfig is used for the STARTTLS upgrade. A nil value uses a default
	// config with ServerName set to Origin's domainpart.
	TLSConfig *tls.Config

	// CertValidator, when non-nil, is consulted after the TLS handshake in
	// place of the default chain verification, matching spec.md §6's
	// caller-supplied certificate predicate.
	CertValidator func(chain []*x509.Certificate) error

	// NoTLS disables STARTTLS negotiation entirely.
	NoTLS bool

	// DefaultTimeout bounds blocking IQ round trips that do not specify
	// their own timeout. A negative value means no default (wait forever).
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

// Option mutates a Config, following the functional-options idiom the
// teacher uses throughout (xmpp.Dialer, mux.Option, history.Option).
type Option func(*Config)

// WithOrigin sets the client's JID and the resourcepart it will request on
// bind (empty resourcepart requests a server-generated one).
func WithOrigin(j jid.JID) Option {
	return func(c *Config) { c.Origin = j }
}

// WithPassword sets the SASL credential.
func WithPassword(password string) Option {
	return func(c *Config) { c.Password = password }
}

// WithLang sets the default xml:lang advertised on the stream header.
func WithLang(lang string) Option {
	return func(c *Config) { c.Lang = lang }
}

// WithTLSConfig overrides the TLS configuration used for STARTTLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = cfg }
}

// WithCertValidator installs a caller-supplied certificate chain predicate,
// consulted in place of the default verification.
func WithCertValidator(fn func(chain []*x509.Certificate) error) Option {
	return func(c *Config) { c.CertValidator = fn }
}

// WithoutTLS disables STARTTLS negotiation, for use against test servers or
// trusted private networks only.
func WithoutTLS() Option {
	return func(c *Config) { c.NoTLS = true }
}

// WithDefaultTimeout sets the default IQ round-trip timeout. A negative
// duration disables the default (IQs wait forever unless given an explicit
// timeout).
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultTimeout = d }
}

// WithLogger installs a structured logger. The zero Config defaults to
// slog.Default() the first time it is needed.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func newConfig(opts ...Option) *Config {
	c := &Config{
		DefaultTimeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
