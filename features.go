package xmpp

import (
	"bytes"
	"context"
	"encoding/xml"

	"codeberg.org/xmppgo/client/internal/ns"
)

// StreamFeature describes one client-side negotiable stream feature (SASL,
// STARTTLS, resource binding). It is the client-only half of the teacher's
// StreamFeature type: the List callback (server advertisement) is dropped
// since this module implements a client only.
type StreamFeature struct {
	// Name is the qualified element name as it appears inside
	// <stream:features>.
	Name xml.Name

	// Necessary and Prohibited gate whether this feature should be
	// attempted given the session's current state bitmask.
	Necessary  SessionState
	Prohibited SessionState

	// Parse decodes the feature's announcement sub-element (e.g.
	// <mechanisms/>, <starttls/>, <bind/>) into feature-specific data
	// handed to Negotiate.
	Parse func(ctx context.Context, raw []byte) (required bool, data interface{}, err error)

	// Negotiate runs the feature's wire protocol against the session. It
	// returns the state bits to OR into the session state, and whether the
	// stream must be restarted afterward (true after STARTTLS and after
	// SASL success, per RFC 6120 §5.4.3.3 and §6.4.6).
	Negotiate func(ctx context.Context, s *Session, data interface{}) (mask SessionState, restart bool, err error)
}

// clientFeatures lists the features this module negotiates, in priority
// order: STARTTLS must run before SASL (SASL may require Secure), and bind
// runs last. This mirrors the order mellium.im/xmpp registers
// StartTLS/SASL/BindResource in xmpp.NewClientSession examples.
func (s *Session) clientFeatures() []StreamFeature {
	var feats []StreamFeature
	if !s.conf.NoTLS {
		feats = append(feats, startTLSFeature(s.conf))
	}
	if s.conf.Password != "" {
		feats = append(feats, saslFeature(s.conf))
	}
	feats = append(feats, bindFeature())
	return feats
}

// negotiateFeatures drives the negotiation loop described in spec.md
// §4.2's state machine: repeatedly read <stream:features>, negotiate the
// best-ranked available feature, and restart the stream when the feature
// requires it, until resource binding has completed.
func (s *Session) negotiateFeatures(ctx context.Context) error {
	feats := s.clientFeatures()

	for {
		elem, err := s.conn.ReadElement()
		if err != nil {
			return err
		}
		if elem.Start.Name.Local != "features" || elem.Start.Name.Space != ns.Stream {
			return ErrProtocolViolation
		}
		advertised, err := parseAdvertisedFeatures(elem.Raw)
		if err != nil {
			return err
		}

		if s.State()&Bind != 0 {
			return nil
		}

		progressed := false
		for _, feat := range feats {
			if s.State()&feat.Necessary != feat.Necessary {
				continue
			}
			if s.State()&feat.Prohibited != 0 {
				continue
			}
			raw, ok := advertised[feat.Name]
			if !ok {
				continue
			}
			_, data, err := feat.Parse(ctx, raw)
			if err != nil {
				return err
			}
			mask, restart, err := feat.Negotiate(ctx, s, data)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.state |= mask
			s.mu.Unlock()
			progressed = true

			if restart {
				if _, err := s.conn.Restart(ctx, s.conf.Origin.Domain(), s.conf.Origin, s.conf.Lang); err != nil {
					return err
				}
			}
			break
		}

		if s.State()&Bind != 0 {
			return nil
		}
		if !progressed {
			// Nothing in advertised matched a feature we can run given the
			// current state; if TLS is required but unavailable, surface
			// that distinctly, otherwise it's a stuck negotiation.
			if _, ok := advertised[xml.Name{Space: ns.StartTLS, Local: "starttls"}]; ok && s.State()&Secure == 0 && s.conf.NoTLS {
				return ErrTLSRequiredByServer
			}
			return ErrProtocolViolation
		}
	}
}

func parseAdvertisedFeatures(raw []byte) (map[xml.Name][]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, ErrProtocolViolation
	}

	out := make(map[xml.Name][]byte)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name == start.Name {
				return out, nil
			}
		case xml.StartElement:
			var buf bytes.Buffer
			enc := xml.NewEncoder(&buf)
			elStart := t.Copy()
			if err := enc.EncodeToken(elStart); err != nil {
				return nil, err
			}
			depth := 1
			for depth > 0 {
				inner, err := dec.Token()
				if err != nil {
					return nil, err
				}
				if err := enc.EncodeToken(inner); err != nil {
					return nil, err
				}
				switch inner.(type) {
				case xml.StartElement:
					depth++
				case xml.EndElement:
					depth--
				}
			}
			if err := enc.Flush(); err != nil {
				return nil, err
			}
			out[elStart.Name] = buf.Bytes()
		}
	}
}
