package xmpp

import (
	"context"

	"codeberg.org/xmppgo/client/jid"
)

// DialClient connects to port 5222 of addr's domainpart on the named network
// (normally "tcp"; no DNS SRV lookup is made) and negotiates a client-to-server session as addr, per
// spec.md §4.1's open(host, port, starttls) operation plus §4.2's full
// negotiation sequence. h handles every inbound stanza not claimed by a
// pending IQ response.
func DialClient(ctx context.Context, network string, addr jid.JID, h Handler, opts ...Option) (*Session, error) {
	opts = append([]Option{WithOrigin(addr)}, opts...)
	conf := newConfig(opts...)

	port := "5222"
	return Dial(ctx, network, addr.Domainpart()+":"+port, h, withConfig(conf))
}

// withConfig installs an already-built Config wholesale, used internally by
// DialClient so option defaults (like Origin) are applied exactly once.
func withConfig(built *Config) Option {
	return func(c *Config) { *c = *built }
}
