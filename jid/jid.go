// Package jid implements parsing, comparison, and manipulation of XMPP
// addresses (Jabber IDs) as defined by RFC 7622.
//
// A JID has the form localpart@domainpart/resourcepart, where the localpart
// and resourcepart are optional. Parsing normalizes each part (IDNA for the
// domain, the relevant PRECIS profile for local/resource) so that comparison
// between two parsed JIDs can be done byte-for-byte.
package jid

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// ErrInvalidAddress is wrapped by every error returned from Parse/New when
// the supplied string or parts cannot form a valid address.
var ErrInvalidAddress = errors.New("jid: invalid address")

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart. All parts are guaranteed valid UTF-8 and are stored in their
// canonical form, which gives comparison the best chance of succeeding.
//
// The zero value is not a valid JID; always construct one with Parse or New.
type JID struct {
	locallen  int
	domainlen int
	data      []byte
}

// Parse constructs a new JID from its string representation
// (localpart@domainpart/resourcepart).
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the address cannot be parsed. It
// simplifies safe initialization of JIDs from constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart, normalizing and validating each.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, errWrap("address contains invalid UTF-8")
	}

	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, errWrap(err.Error())
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, errWrap("domainpart contains invalid UTF-8")
	}

	var lenlocal int
	data := make([]byte, 0, len(localpart)+len(domainpart)+len(resourcepart))

	if localpart != "" {
		data, err = precis.UsernameCaseMapped.Append(data, []byte(localpart))
		if err != nil {
			return JID{}, errWrap(err.Error())
		}
		lenlocal = len(data)
	}

	data = append(data, []byte(domainpart)...)

	if resourcepart != "" {
		data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
		if err != nil {
			return JID{}, errWrap(err.Error())
		}
	}

	if err := commonChecks(data[:lenlocal], domainpart, data[lenlocal+len(domainpart):]); err != nil {
		return JID{}, err
	}

	return JID{
		locallen:  lenlocal,
		domainlen: len(domainpart),
		data:      data,
	}, nil
}

// WithResource returns a copy of j with a new resourcepart. It elides
// re-validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	n := j.Bare()
	data := make([]byte, len(n.data), len(n.data)+len(resourcepart))
	copy(data, n.data)
	if resourcepart == "" {
		n.data = data
		return n, nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, errWrap("resourcepart contains invalid UTF-8")
	}
	var err error
	data, err = precis.OpaqueString.Append(data, []byte(resourcepart))
	if err != nil {
		return JID{}, errWrap(err.Error())
	}
	n.data = data
	return n, nil
}

// Bare returns a copy of j without its resourcepart.
func (j JID) Bare() JID {
	return JID{
		locallen:  j.locallen,
		domainlen: j.domainlen,
		data:      j.data[:j.domainlen+j.locallen],
	}
}

// Domain returns a copy of j without its localpart or resourcepart.
func (j JID) Domain() JID {
	return JID{
		domainlen: j.domainlen,
		data:      j.data[j.locallen : j.domainlen+j.locallen],
	}
}

// Localpart returns the localpart of j (e.g. "alice").
func (j JID) Localpart() string {
	return string(j.data[:j.locallen])
}

// Domainpart returns the domainpart of j (e.g. "example.net").
func (j JID) Domainpart() string {
	return string(j.data[j.locallen : j.locallen+j.domainlen])
}

// Resourcepart returns the resourcepart of j (e.g. "phone").
func (j JID) Resourcepart() string {
	return string(j.data[j.locallen+j.domainlen:])
}

// IsZero reports whether j is the zero value, which is never a parseable
// address.
func (j JID) IsZero() bool {
	return j.data == nil
}

// Network satisfies the net.Addr interface by returning "xmpp".
func (JID) Network() string { return "xmpp" }

// String returns the canonical string form of j.
func (j JID) String() string {
	s := j.Domainpart()
	if j.locallen > 0 {
		s = j.Localpart() + "@" + s
	}
	if r := j.Resourcepart(); r != "" {
		s += "/" + r
	}
	return s
}

// Equal performs an octet-for-octet comparison of j and j2.
func (j JID) Equal(j2 JID) bool {
	return j.locallen == j2.locallen &&
		j.domainlen == j2.domainlen &&
		bytes.Equal(j.data, j2.data)
}

// MarshalXML satisfies xml.Marshaler, encoding j as character data.
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML satisfies xml.Unmarshaler, decoding j from character data.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	if data.CharData == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(a xml.Attr) error {
	if a.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(a.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// SplitString splits s into its localpart, domainpart, and resourcepart
// without validating or normalizing any of them.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", errWrap("resourcepart must be larger than 0 bytes")
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", errWrap("localpart must be larger than 0 bytes")
	default:
		localpart = s[:sep]
		domainpart = s[sep+1:]
	}

	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func checkIP6String(domainpart string) error {
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") && strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return errWrap("domainpart is not a valid IPv6 address")
		}
	}
	return nil
}

func commonChecks(localpart []byte, domainpart string, resourcepart []byte) error {
	if len(localpart) > 1023 {
		return errWrap("localpart must be smaller than 1024 bytes")
	}
	if bytes.ContainsAny(localpart, `"&'/:<>@`) {
		return errWrap("localpart contains forbidden characters")
	}
	if len(resourcepart) > 1023 {
		return errWrap("resourcepart must be smaller than 1024 bytes")
	}
	if l := len(domainpart); l < 1 || l > 1023 {
		return errWrap("domainpart must be between 1 and 1023 bytes")
	}
	return checkIP6String(domainpart)
}

func errWrap(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInvalidAddress)
}
