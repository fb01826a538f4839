package disco

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"sort"
	"strings"
	"sync"

	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/stanza"
)

// Caps is the content of a presence's entity-capabilities <c/> element, per
// XEP-0115 §4.
type Caps struct {
	Hash string
	Node string
	Ver  string
}

type capsXML struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/caps c"`
	Hash    string   `xml:"hash,attr"`
	Node    string   `xml:"node,attr"`
	Ver     string   `xml:"ver,attr"`
}

// Verify computes the XEP-0115 §5.1 verification string for info and
// reports whether it equals ver (the Ver advertised in a <c/> element).
// Only the "sha-1" hash algorithm is supported; any other advertised hash
// never verifies and callers fall back to direct discovery.
func Verify(info Info, hash, ver string) bool {
	if hash != "sha-1" {
		return false
	}
	return computeVer(info) == ver
}

func computeVer(info Info) string {
	ids := append([]Identity(nil), info.Identities...)
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Category != ids[j].Category {
			return ids[i].Category < ids[j].Category
		}
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].Name < ids[j].Name
	})
	feats := append([]string(nil), info.Features...)
	sort.Strings(feats)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.Category)
		b.WriteByte('/')
		b.WriteString(id.Type)
		b.WriteString("//")
		b.WriteString(id.Name)
		b.WriteByte('<')
	}
	for _, f := range feats {
		b.WriteString(f)
		b.WriteByte('<')
	}
	sum := sha1.Sum([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Cache wraps disco#info discovery with a session-local cache keyed by
// capability-hash, per spec.md §4.4: two peers announcing the same hash
// share cached features, and disco#info is queried for a hash only until a
// result that verifies against that hash has been cached.
type Cache struct {
	sess *im.Session

	mu       sync.Mutex
	byHash   map[string]Info
	peerHash map[string]string // bare JID -> last observed hash
}

// NewCache builds a Cache bound to sess and installs an input filter that
// observes every inbound presence's <c/> element.
func NewCache(sess *im.Session) *Cache {
	c := &Cache{sess: sess, byHash: make(map[string]Info), peerHash: make(map[string]string)}
	sess.Filters.AddInput(func(in *im.Incoming, s *im.Session) bool {
		if in.Kind != im.KindPresence {
			return false
		}
		p, err := stanza.PresenceFromStartElement(in.Elem.Start)
		if err != nil || p.From.IsZero() {
			return false
		}
		caps, ok := parseCaps(in.Elem.Raw)
		if !ok {
			return false
		}
		c.mu.Lock()
		c.peerHash[p.From.Bare().String()] = caps.Ver
		c.mu.Unlock()
		return false
	})
	return c
}

// Supports resolves whether peer advertises extension, per spec.md §4.4's
// "resolves by hash lookup then, if unknown, by direct discovery": if
// peer's last-observed capability-hash has a cached Info, that is
// consulted; otherwise a fresh disco#info query is issued and, when peer
// did advertise a hash and the result verifies against it as a sha-1
// verification string, the result is cached under that hash for reuse by
// any other peer announcing the same one.
func (c *Cache) Supports(ctx context.Context, peer jid.JID, extension string) (bool, error) {
	c.mu.Lock()
	hash, haveHash := c.peerHash[peer.Bare().String()]
	var info Info
	var cached bool
	if haveHash {
		info, cached = c.byHash[hash]
	}
	c.mu.Unlock()
	if cached {
		return info.Supports(extension), nil
	}

	info, err := QueryInfo(ctx, c.sess, peer, "")
	if err != nil {
		return false, err
	}
	if haveHash && Verify(info, "sha-1", hash) {
		c.mu.Lock()
		c.byHash[hash] = info
		c.mu.Unlock()
	}
	return info.Supports(extension), nil
}

// parseCaps parses a presence stanza's raw bytes for a <c/> child, if any.
func parseCaps(raw []byte) (Caps, bool) {
	var body struct {
		C *capsXML `xml:"http://jabber.org/protocol/caps c"`
	}
	if err := xml.Unmarshal(raw, &body); err != nil || body.C == nil {
		return Caps{}, false
	}
	return Caps{Hash: body.C.Hash, Node: body.C.Node, Ver: body.C.Ver}, true
}
