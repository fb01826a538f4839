package xmpp

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"mellium.im/sasl"
	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/stream"
)

// b64 encodes a SASL payload for the wire, per RFC 6120 §6.4.2: an empty
// payload is transmitted as a single "=" rather than as empty base64.
func b64(payload []byte) string {
	if len(payload) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(payload)
}

// saslMechanismOrder is the client's preferred mechanism order per
// spec.md §4.2: SCRAM-SHA-1, DIGEST-MD5, PLAIN. mellium.im/sasl does not
// implement the legacy DIGEST-MD5 mechanism (RFC 6331 deprecated it well
// before this library was written), so only SCRAM-SHA-1 and PLAIN are
// wired; see DESIGN.md for this Open Question decision.
func saslMechanismOrder(allowPlain bool) []sasl.Mechanism {
	mechs := []sasl.Mechanism{sasl.ScramSha1}
	if allowPlain {
		mechs = append(mechs, sasl.Plain)
	}
	return mechs
}

// saslFeature returns the StreamFeature that negotiates SASL
// authentication, grounded on mellium.im/xmpp's sasl.go Config-struct
// shape but adapted to this module's per-element Conn.ReadElement loop in
// place of a shared xml.Decoder threaded through StreamFeature.Negotiate.
func saslFeature(conf *Config) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Prohibited: Authn,
		Parse: func(ctx context.Context, raw []byte) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
				List    []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
			}{}
			if err := xml.Unmarshal(raw, &parsed); err != nil {
				return false, nil, err
			}
			return true, parsed.List, nil
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, bool, error) {
			remote, _ := data.([]string)

			// PLAIN is only offered once the channel is already secured; an
			// unencrypted channel only gets it if the caller explicitly
			// opted into plaintext via WithoutTLS.
			allowPlain := s.State()&Secure == Secure || s.conf.NoTLS
			candidates := saslMechanismOrder(allowPlain)

			var selected sasl.Mechanism
		selectMech:
			for _, m := range candidates {
				for _, name := range remote {
					if name == m.Name {
						selected = m
						break selectMech
					}
				}
			}
			if selected.Name == "" {
				return 0, false, ErrNoMatchingSASLMech
			}

			opts := []sasl.Option{
				sasl.RemoteMechanisms(remote...),
				sasl.Credentials(func() (Username, Password, Identity []byte) {
					return []byte(s.conf.Origin.Localpart()), []byte(s.conf.Password), nil
				}),
			}
			if state, ok := s.conn.ConnectionState(); ok {
				opts = append(opts, sasl.TLSState(state))
			}

			client := sasl.NewClient(selected, opts...)

			more, resp, err := client.Step(nil)
			if err != nil {
				return 0, false, fmt.Errorf("xmpp: sasl: %w", err)
			}

			authElem := xmlstream.Wrap(
				xmlstream.Token(xml.CharData([]byte(b64(resp)))),
				xml.StartElement{
					Name: xml.Name{Space: ns.SASL, Local: "auth"},
					Attr: []xml.Attr{{Name: xml.Name{Local: "mechanism"}, Value: selected.Name}},
				},
			)
			if err := s.Send(authElem); err != nil {
				return 0, false, err
			}

			for {
				elem, err := s.conn.ReadElement()
				if err != nil {
					return 0, false, err
				}
				challenge, success, failed, err := decodeSASLStep(elem)
				if err != nil {
					return 0, false, err
				}
				if failed != "" {
					return 0, false, fmt.Errorf("%w: %s", ErrAuthenticationFailed, failed)
				}
				if success {
					return Authn, true, nil
				}

				more, resp, err = client.Step(challenge)
				if err != nil {
					return 0, false, fmt.Errorf("xmpp: sasl: %w", err)
				}
				if !more {
					continue
				}
				respElem := xmlstream.Wrap(
					xmlstream.Token(xml.CharData([]byte(b64(resp)))),
					xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "response"}},
				)
				if err := s.Send(respElem); err != nil {
					return 0, false, err
				}
			}
		},
	}
}

// decodeSASLStep decodes one challenge/success/failure element received
// during SASL negotiation.
func decodeSASLStep(elem stream.Element) (challenge []byte, success bool, failure string, err error) {
	switch elem.Start.Name {
	case xml.Name{Space: ns.SASL, Local: "challenge"}, xml.Name{Space: ns.SASL, Local: "success"}:
		decoded := struct {
			Data string `xml:",chardata"`
		}{}
		if err := xml.Unmarshal(elem.Raw, &decoded); err != nil {
			return nil, false, "", err
		}
		if decoded.Data == "" || decoded.Data == "=" {
			return nil, elem.Start.Name.Local == "success", "", nil
		}
		payload, err := base64.StdEncoding.DecodeString(decoded.Data)
		if err != nil {
			return nil, false, "", err
		}
		return payload, elem.Start.Name.Local == "success", "", nil
	case xml.Name{Space: ns.SASL, Local: "failure"}:
		decoded := struct {
			XMLName   xml.Name
			Condition struct {
				XMLName xml.Name
			} `xml:",any"`
		}{}
		if err := xml.Unmarshal(elem.Raw, &decoded); err != nil {
			return nil, false, "", err
		}
		cond := decoded.Condition.XMLName.Local
		if cond == "" {
			cond = "not-authorized"
		}
		return nil, false, cond, nil
	default:
		return nil, false, "", ErrProtocolViolation
	}
}
