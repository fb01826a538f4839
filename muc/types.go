// Package muc implements Multi-User Chat (XEP-0045): room discovery, join
// and leave, affiliation and role administration, invites, subject edits,
// and voice requests.
//
// Unlike the teacher's own muc package this one does not try to be
// stateless about room membership — it has no blocking Channel.join/depart
// channels at all, because this module's *im.Session presence classifier
// already fans out every inbound MUC presence as an event (spec.md §4.5:
// "Presence with occupant item... fans out a GroupPresenceChanged event").
// Join is therefore fire-and-forget, like every other send helper in this
// module; callers that need to know the room was entered listen for
// GroupPresenceChanged the way scenario 4 of spec.md §8 describes.
package muc

import "encoding/xml"

// Namespaces used by this package, per spec.md §6.
const (
	NS      = "http://jabber.org/protocol/muc"
	NSUser  = "http://jabber.org/protocol/muc#user"
	NSAdmin = "http://jabber.org/protocol/muc#admin"
	NSOwner = "http://jabber.org/protocol/muc#owner"
	// NSConf is the legacy direct-invitation namespace.
	NSConf = "jabber:x:conference"
)

// Affiliation is a occupant's long-lived relationship to a room,
// independent of whether they are currently present.
type Affiliation string

// The five affiliations defined by XEP-0045 §5.2.
const (
	AffiliationOwner   Affiliation = "owner"
	AffiliationAdmin   Affiliation = "admin"
	AffiliationMember  Affiliation = "member"
	AffiliationNone    Affiliation = "none"
	AffiliationOutcast Affiliation = "outcast"
)

// Role is an occupant's short-lived standing within the room for as long
// as they remain present.
type Role string

// The four roles defined by XEP-0045 §5.1.
const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

// StatusCodes is a set of XEP-0045 §17 numeric status codes attached to a
// MUC presence, modeled as spec.md §9 suggests: a bit-set-like set type
// with cheap membership tests, backed here by a map since the code space
// (100-999) is sparse.
type StatusCodes map[int]struct{}

// Has reports whether code is present in the set.
func (s StatusCodes) Has(code int) bool {
	_, ok := s[code]
	return ok
}

func statusCodesFromXML(codes []statusXML) StatusCodes {
	if len(codes) == 0 {
		return nil
	}
	out := make(StatusCodes, len(codes))
	for _, c := range codes {
		out[c.Code] = struct{}{}
	}
	return out
}

type statusXML struct {
	Code int `xml:"code,attr"`
}

type itemXML struct {
	Affiliation Affiliation `xml:"affiliation,attr,omitempty"`
	Role        Role        `xml:"role,attr,omitempty"`
	Nick        string      `xml:"nick,attr,omitempty"`
	JID         string      `xml:"jid,attr,omitempty"`
	Reason      string      `xml:"reason,omitempty"`
	Actor       *struct {
		Nick string `xml:"nick,attr,omitempty"`
		JID  string `xml:"jid,attr,omitempty"`
	} `xml:"actor,omitempty"`
}

type userXML struct {
	XMLName xml.Name    `xml:"http://jabber.org/protocol/muc#user x"`
	Item    *itemXML    `xml:"item"`
	Status  []statusXML `xml:"status"`
	Invite  *inviteXML  `xml:"invite"`
	Decline *declineXML `xml:"decline"`
	Destroy *destroyXML `xml:"destroy"`
}

type inviteXML struct {
	From   string `xml:"from,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}

type declineXML struct {
	From   string `xml:"from,attr,omitempty"`
	To     string `xml:"to,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}

type destroyXML struct {
	JID    string `xml:"jid,attr,omitempty"`
	Reason string `xml:"reason,omitempty"`
}
