package xmpp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"

	"mellium.im/xmlstream"

	"codeberg.org/xmppgo/client/internal/ns"
)

// startTLSFeature returns the StreamFeature for negotiating STARTTLS,
// grounded on mellium.im/xmpp's starttls.go but adapted to this module's
// Conn.StartTLS/Expect primitives instead of a shared token decoder.
func startTLSFeature(conf *Config) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.StartTLS, Local: "starttls"},
		Prohibited: Secure,
		Parse: func(ctx context.Context, raw []byte) (bool, interface{}, error) {
			parsed := struct {
				XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
				Required struct {
					XMLName xml.Name
				} `xml:"urn:ietf:params:xml:ns:xmpp-tls required"`
			}{}
			if err := xml.Unmarshal(raw, &parsed); err != nil {
				return false, nil, err
			}
			return parsed.Required.XMLName.Local == "required", nil, nil
		},
		Negotiate: func(ctx context.Context, s *Session, _ interface{}) (SessionState, bool, error) {
			if err := s.Send(xmlstream.Wrap(nil, xml.StartElement{
				Name: xml.Name{Space: ns.StartTLS, Local: "starttls"},
			})); err != nil {
				return 0, false, err
			}

			elem, err := s.conn.ReadElement()
			if err != nil {
				return 0, false, err
			}
			if elem.Start.Name.Local != "proceed" || elem.Start.Name.Space != ns.StartTLS {
				return 0, false, ErrProtocolViolation
			}

			cfg := conf.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{ServerName: conf.Origin.Domainpart()}
			}
			if conf.CertValidator != nil {
				cfg = cloneTLSConfigWithValidator(cfg, conf.CertValidator)
			}
			if err := s.conn.StartTLS(ctx, cfg); err != nil {
				return 0, false, err
			}
			return Secure, true, nil
		},
	}
}

// cloneTLSConfigWithValidator installs a caller-supplied certificate chain
// predicate in place of Go's default verification, matching spec.md §6's
// "certificate validation delegated to a caller-supplied predicate" clause.
func cloneTLSConfigWithValidator(cfg *tls.Config, validate func([]*x509.Certificate) error) *tls.Config {
	out := cfg.Clone()
	out.InsecureSkipVerify = true
	out.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		}
		return validate(certs)
	}
	return out
}
