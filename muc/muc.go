package muc

import (
	"bytes"
	"context"
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/disco"
	"codeberg.org/xmppgo/client/form"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Occupant describes a room participant as reported in a MUC presence's
// <item/>, per spec.md §3's "MUC occupant" data model.
type Occupant struct {
	Room        jid.JID
	Nick        string
	RealJID     jid.JID
	Affiliation Affiliation
	Role        Role
}

// GroupPresence is the event raised for an inbound MUC presence, per
// spec.md §4.5.
type GroupPresence struct {
	From      jid.JID
	Available bool
	Occupant  Occupant
	Codes     StatusCodes
}

// Invite is a mediated or direct room invitation.
type Invite struct {
	Room   jid.JID
	From   jid.JID
	To     jid.JID
	Reason string
	Direct bool
}

// Decline is a mediated invitation's decline notice.
type Decline struct {
	Room   jid.JID
	From   jid.JID
	Reason string
}

// MucError is a MUC-contextualized stanza error, per spec.md §4.5.
type MucError struct {
	Room jid.JID
	From jid.JID
	Type stanza.ErrorType
	Cond stanza.Condition
}

type (
	PresenceFunc func(GroupPresence)
	SubjectFunc  func(room jid.JID, from jid.JID, subject string)
	InviteFunc   func(Invite)
	DeclineFunc  func(Decline)
	ErrorFunc    func(MucError)
)

// MUC is the im.Extension for Multi-User Chat. Loading it through an
// im.Registry wires its presence/message handlers into the session and
// advertises the four MUC namespaces in disco#info, per spec.md §4.5.
type MUC struct {
	sess *im.Session

	onPresence []PresenceFunc
	onSubject  []SubjectFunc
	onInvite   []InviteFunc
	onDecline  []DeclineFunc
	onError    []ErrorFunc
}

// New builds a MUC bound to sess and registers its handlers. It is meant
// to be registered as an im.Factory tag (see Register) rather than called
// directly by most callers, but is exported for tests and callers that
// don't use the registry.
func New(sess *im.Session) *MUC {
	m := &MUC{sess: sess}
	sess.Handle(
		mux.PresenceFunc(stanza.AvailablePresence, xml.Name{Space: NSUser, Local: "x"}, m.handlePresence),
		mux.PresenceFunc(stanza.UnavailablePresence, xml.Name{Space: NSUser, Local: "x"}, m.handlePresence),
		mux.PresenceFunc(stanza.ErrorPresence, xml.Name{}, m.handlePresenceError),
		mux.MessageFunc(stanza.GroupchatMessage, xml.Name{Space: NSUser, Local: "x"}, m.handleGroupchatUser),
		mux.MessageFunc(stanza.GroupchatMessage, xml.Name{}, m.handleSubject),
		mux.MessageFunc(stanza.ErrorMessage, xml.Name{}, m.handleMessageError),
		mux.MessageFunc(stanza.NormalMessage, xml.Name{Space: NSUser, Local: "x"}, m.handleMediatedInvite),
		mux.MessageFunc(stanza.NormalMessage, xml.Name{Space: NSConf, Local: "x"}, m.handleDirectInvite),
	)
	return m
}

// Register declares the "muc" tag with an im.Registry, depending on
// "disco" so MUC's namespaces are always advertised alongside disco's own,
// per spec.md §4.1's extension-dependency-resolution contract.
func Register(reg *im.Registry) {
	reg.Register("muc", []string{"disco"}, func(sess *im.Session, load func(string) (im.Extension, error)) (im.Extension, error) {
		d, err := load("disco")
		if err != nil {
			return nil, err
		}
		if dd, ok := d.(*disco.Disco); ok {
			dd.AddIdentity(disco.Identity{Category: "conference", Type: "text"})
		}
		return New(sess), nil
	})
}

// Namespaces satisfies im.Extension.
func (m *MUC) Namespaces() []string { return []string{NS, NSUser, NSAdmin, NSOwner} }

// OnPresence registers f to be called for every inbound MUC occupant
// presence.
func (m *MUC) OnPresence(f PresenceFunc) { m.onPresence = append(m.onPresence, f) }

// OnSubject registers f for every groupchat message carrying a subject
// change and no body.
func (m *MUC) OnSubject(f SubjectFunc) { m.onSubject = append(m.onSubject, f) }

// OnInvite registers f for mediated and direct invitations.
func (m *MUC) OnInvite(f InviteFunc) { m.onInvite = append(m.onInvite, f) }

// OnDecline registers f for mediated invitation declines.
func (m *MUC) OnDecline(f DeclineFunc) { m.onDecline = append(m.onDecline, f) }

// OnError registers f for MUC-contextualized stanza errors.
func (m *MUC) OnError(f ErrorFunc) { m.onError = append(m.onError, f) }

func decodeUserX(raw []byte) (userXML, error) {
	var wrapper struct {
		XMLName xml.Name
		X       userXML `xml:"http://jabber.org/protocol/muc#user x"`
	}
	err := xml.Unmarshal(raw, &wrapper)
	return wrapper.X, err
}

func (m *MUC) handlePresence(p stanza.Presence, elem stream.Element, s *xmpp.Session) error {
	x, err := decodeUserX(elem.Raw)
	if err != nil {
		return err
	}
	occ := Occupant{Room: p.From.Bare(), Nick: p.From.Resourcepart()}
	if x.Item != nil {
		occ.Affiliation = x.Item.Affiliation
		occ.Role = x.Item.Role
		if x.Item.Nick != "" {
			occ.Nick = x.Item.Nick
		}
		if x.Item.JID != "" {
			if real, err := jid.Parse(x.Item.JID); err == nil {
				occ.RealJID = real
			}
		}
	}
	ev := GroupPresence{
		From:      p.From,
		Available: p.Type == stanza.AvailablePresence,
		Occupant:  occ,
		Codes:     statusCodesFromXML(x.Status),
	}
	for _, f := range m.onPresence {
		f(ev)
	}
	return nil
}

func (m *MUC) handlePresenceError(p stanza.Presence, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Error   *stanza.Error `xml:"error"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil || wrapper.Error == nil {
		return nil
	}
	for _, f := range m.onError {
		f(MucError{Room: p.From.Bare(), From: p.From, Type: wrapper.Error.Type, Cond: wrapper.Error.Condition})
	}
	return nil
}

func (m *MUC) handleMessageError(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Error   *stanza.Error `xml:"error"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil || wrapper.Error == nil {
		return nil
	}
	for _, f := range m.onError {
		f(MucError{Room: msg.From.Bare(), From: msg.From, Type: wrapper.Error.Type, Cond: wrapper.Error.Condition})
	}
	return nil
}

// handleGroupchatUser handles groupchat messages that also carry a
// muc#user x (declines arrive this way).
func (m *MUC) handleGroupchatUser(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	x, err := decodeUserX(elem.Raw)
	if err != nil {
		return err
	}
	if x.Decline != nil {
		from := msg.From.Bare()
		if x.Decline.From != "" {
			if j, err := jid.Parse(x.Decline.From); err == nil {
				from = j
			}
		}
		for _, f := range m.onDecline {
			f(Decline{Room: msg.From.Bare(), From: from, Reason: x.Decline.Reason})
		}
	}
	return m.handleSubject(msg, elem, s)
}

// handleSubject implements spec.md §4.5's "subject-only message fans out
// to GroupChatSubjectChanged": a groupchat message with a <subject/> and
// no <body/>.
func (m *MUC) handleSubject(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	if len(msg.Body) != 0 || len(msg.Subject) == 0 {
		return nil
	}
	subj := msg.Subject[""]
	for _, f := range m.onSubject {
		f(msg.From.Bare(), msg.From, subj)
	}
	return nil
}

func (m *MUC) handleMediatedInvite(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	x, err := decodeUserX(elem.Raw)
	if err != nil {
		return err
	}
	if x.Invite == nil {
		return nil
	}
	var to jid.JID
	if x.Invite.To != "" {
		to, _ = jid.Parse(x.Invite.To)
	}
	for _, f := range m.onInvite {
		f(Invite{Room: msg.From.Bare(), From: msg.From, To: to, Reason: x.Invite.Reason})
	}
	return nil
}

type directInviteXML struct {
	XMLName  xml.Name `xml:"jabber:x:conference x"`
	JID      string   `xml:"jid,attr"`
	Password string   `xml:"password,attr,omitempty"`
	Reason   string   `xml:"reason,attr,omitempty"`
}

func (m *MUC) handleDirectInvite(msg stanza.Message, elem stream.Element, s *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		X       directInviteXML `xml:"jabber:x:conference x"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	room, err := jid.Parse(wrapper.X.JID)
	if err != nil {
		return nil
	}
	for _, f := range m.onInvite {
		f(Invite{Room: room, From: msg.From, Reason: wrapper.X.Reason, Direct: true})
	}
	return nil
}

// DiscoverRooms lists the rooms hosted by a MUC service, per spec.md
// §4.5's "discover rooms in a service domain".
func DiscoverRooms(ctx context.Context, sess *im.Session, service jid.JID) ([]disco.Item, error) {
	return disco.QueryItems(ctx, sess, service, "")
}

// RoomInfo is a room's identity, features, and extended config fields
// advertised via disco#info, per spec.md §4.5.
type RoomInfo struct {
	disco.Info
	Fields form.Data
}

// GetRoomInfo fetches room's identities and features. The extended data
// form of the disco#info response is not parsed, so Fields is left empty.
func GetRoomInfo(ctx context.Context, sess *im.Session, room jid.JID) (RoomInfo, error) {
	info, err := disco.QueryInfo(ctx, sess, room, "")
	if err != nil {
		return RoomInfo{}, err
	}
	return RoomInfo{Info: info}, nil
}

// JoinOptions configures Join, grounded on the teacher's muc/options.go
// history/password/nick configuration knobs.
type JoinOptions struct {
	Password    string
	MaxHistory  uint64
	MaxChars    uint64
	HistorySecs uint64
}

func (o JoinOptions) tokenReader() xml.TokenReader {
	var hist []xml.Attr
	if o.MaxHistory > 0 {
		hist = append(hist, xml.Attr{Name: xml.Name{Local: "maxstanzas"}, Value: itoa(o.MaxHistory)})
	}
	if o.MaxChars > 0 {
		hist = append(hist, xml.Attr{Name: xml.Name{Local: "maxchars"}, Value: itoa(o.MaxChars)})
	}
	if o.HistorySecs > 0 {
		hist = append(hist, xml.Attr{Name: xml.Name{Local: "seconds"}, Value: itoa(o.HistorySecs)})
	}
	var parts []xml.TokenReader
	if hist != nil {
		parts = append(parts, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "history"}, Attr: hist}))
	}
	if o.Password != "" {
		parts = append(parts, xmlstream.Wrap(xmlstream.Token(xml.CharData(o.Password)), xml.StartElement{Name: xml.Name{Local: "password"}}))
	}
	return xmlstream.Wrap(xmlstream.MultiReader(parts...), xml.StartElement{Name: xml.Name{Space: NS, Local: "x"}})
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Join sends an available presence to room (whose resourcepart is the
// desired nickname) with the muc x envelope, per spec.md §4.5's join
// operation. It does not block for the occupant presence the server sends
// back; register an OnPresence callback for that.
func Join(sess *im.Session, room jid.JID, opt JoinOptions) error {
	p := stanza.Presence{To: room, ID: attr.RandomID()}
	return sess.Sess.Send(p.Wrap(opt.tokenReader()))
}

// Leave sends an unavailable presence to room, per spec.md §4.5's leave
// operation.
func Leave(sess *im.Session, room jid.JID, status string) error {
	p := stanza.Presence{To: room, Type: stanza.UnavailablePresence, ID: attr.RandomID()}
	var inner xml.TokenReader
	if status != "" {
		inner = xmlstream.Wrap(xmlstream.Token(xml.CharData(status)), xml.StartElement{Name: xml.Name{Local: "status"}})
	}
	return sess.Sess.Send(p.Wrap(inner))
}

// EditSubject sends a groupchat message carrying only a subject change,
// per spec.md §4.5.
func EditSubject(sess *im.Session, room jid.JID, subject string) error {
	msg := stanza.Message{To: room, Type: stanza.GroupchatMessage, ID: attr.RandomID(), Subject: map[string]string{"": subject}}
	return sess.Sess.Send(msg.TokenReader())
}

func setItem(ctx context.Context, sess *im.Session, room jid.JID, it itemXML) error {
	iq := stanza.IQ{Type: stanza.SetIQ, To: room}
	payload := xmlstream.Wrap(marshalItem(it), xml.StartElement{Name: xml.Name{Space: NSAdmin, Local: "query"}})
	_, _, err := sess.SendIQ(ctx, iq, payload)
	return err
}

func marshalItem(it itemXML) xml.TokenReader {
	b, err := xml.Marshal(struct {
		XMLName xml.Name `xml:"item"`
		itemXML
	}{itemXML: it})
	if err != nil {
		return xml.NewDecoder(bytes.NewReader(nil))
	}
	return xml.NewDecoder(bytes.NewReader(b))
}

// SetAffiliation changes real's affiliation to a in room, per spec.md
// §4.5's "set affiliation/role" operation.
func SetAffiliation(ctx context.Context, sess *im.Session, room jid.JID, real jid.JID, a Affiliation, reason string) error {
	return setItem(ctx, sess, room, itemXML{Affiliation: a, JID: real.Bare().String(), Reason: reason})
}

// SetRole changes nick's role to r in room, used for Kick
// (RoleNone)/voice grant-revoke (RoleParticipant/RoleVisitor).
func SetRole(ctx context.Context, sess *im.Session, room jid.JID, nick string, r Role, reason string) error {
	return setItem(ctx, sess, room, itemXML{Role: r, Nick: nick, Reason: reason})
}

// Kick removes nick from room by setting their role to RoleNone.
func Kick(ctx context.Context, sess *im.Session, room jid.JID, nick string, reason string) error {
	return SetRole(ctx, sess, room, nick, RoleNone, reason)
}

// Ban sets real's affiliation to AffiliationOutcast in room.
func Ban(ctx context.Context, sess *im.Session, room jid.JID, real jid.JID, reason string) error {
	return SetAffiliation(ctx, sess, room, real, AffiliationOutcast, reason)
}

// GrantVoice sets nick's role to RoleParticipant.
func GrantVoice(ctx context.Context, sess *im.Session, room jid.JID, nick string) error {
	return SetRole(ctx, sess, room, nick, RoleParticipant, "")
}

// RevokeVoice sets nick's role to RoleVisitor.
func RevokeVoice(ctx context.Context, sess *im.Session, room jid.JID, nick string) error {
	return SetRole(ctx, sess, room, nick, RoleVisitor, "")
}

// RequestVoice sends a moderated voice request to room, per spec.md §4.5's
// "request/join voice" operation: a message carrying a data-form
// submission with FORM_TYPE http://jabber.org/protocol/muc#request and a
// requested role of participant.
func RequestVoice(sess *im.Session, room jid.JID) error {
	f := form.Data{Type: form.TypeSubmit, Fields: []form.Field{
		{Var: "FORM_TYPE", Type: "hidden", Values: []string{"http://jabber.org/protocol/muc#request"}},
		{Var: "muc#role", Type: "text-single", Values: []string{string(RoleParticipant)}},
	}}
	msg := stanza.Message{To: room, ID: attr.RandomID()}
	return sess.Sess.Send(msg.Wrap(f.TokenReader()))
}

// SendInvite sends a mediated invitation from room to to, per spec.md §4.5.
func SendInvite(sess *im.Session, room jid.JID, to jid.JID, reason string) error {
	x := xmlstream.Wrap(
		xmlstream.Wrap(
			strReader("reason", reason),
			xml.StartElement{Name: xml.Name{Local: "invite"}, Attr: []xml.Attr{{Name: xml.Name{Local: "to"}, Value: to.String()}}},
		),
		xml.StartElement{Name: xml.Name{Space: NSUser, Local: "x"}},
	)
	msg := stanza.Message{To: room, ID: attr.RandomID()}
	return sess.Sess.Send(msg.Wrap(x))
}

// DirectInvite sends a direct invitation (bypassing the room) from this
// session to to, for a room the caller has not yet joined.
func DirectInvite(sess *im.Session, to jid.JID, room jid.JID, password, reason string) error {
	x := directInviteXML{JID: room.String(), Password: password, Reason: reason}
	b, err := xml.Marshal(x)
	if err != nil {
		return err
	}
	msg := stanza.Message{To: to, ID: attr.RandomID()}
	return sess.Sess.Send(msg.Wrap(xml.NewDecoder(bytes.NewReader(b))))
}

// DeclineInvite declines a mediated invitation to room, telling the room
// to forward the decline to from.
func DeclineInvite(sess *im.Session, room jid.JID, to jid.JID, reason string) error {
	x := xmlstream.Wrap(
		xmlstream.Wrap(
			strReader("reason", reason),
			xml.StartElement{Name: xml.Name{Local: "decline"}, Attr: []xml.Attr{{Name: xml.Name{Local: "to"}, Value: to.String()}}},
		),
		xml.StartElement{Name: xml.Name{Space: NSUser, Local: "x"}},
	)
	msg := stanza.Message{To: room, ID: attr.RandomID()}
	return sess.Sess.Send(msg.Wrap(x))
}

func strReader(local, val string) xml.TokenReader {
	if val == "" {
		return nil
	}
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(val)), xml.StartElement{Name: xml.Name{Local: local}})
}

// RequestConfig fetches a room's configuration form, per spec.md §4.5's
// "request configuration" operation: an IQ-Get to the owner namespace
// yielding a data form.
func RequestConfig(ctx context.Context, sess *im.Session, room jid.JID) (form.Data, error) {
	iq := stanza.IQ{Type: stanza.GetIQ, To: room}
	payload := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "query"}})
	_, raw, err := sess.SendIQ(ctx, iq, payload)
	if err != nil {
		return form.Data{}, err
	}
	var wrapper struct {
		XMLName xml.Name
		Query   struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"http://jabber.org/protocol/muc#owner query"`
	}
	if err := xml.Unmarshal(raw, &wrapper); err != nil {
		return form.Data{}, err
	}
	return form.Unmarshal(wrapper.Query.Inner)
}

// SubmitConfig completes room's configuration with a filled-in form (from
// RequestConfig, with values set), per spec.md §4.5.
func SubmitConfig(ctx context.Context, sess *im.Session, room jid.JID, f form.Data) error {
	f.Type = form.TypeSubmit
	iq := stanza.IQ{Type: stanza.SetIQ, To: room}
	payload := xmlstream.Wrap(f.TokenReader(), xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "query"}})
	_, _, err := sess.SendIQ(ctx, iq, payload)
	return err
}

// RequestInstantRoom accepts a newly created room's default configuration
// immediately, per spec.md §4.5's "request instant room" operation: an
// empty form submission.
func RequestInstantRoom(ctx context.Context, sess *im.Session, room jid.JID) error {
	return SubmitConfig(ctx, sess, room, form.Data{})
}

// Destroy destroys room, optionally redirecting occupants to alternate and
// recording reason.
func Destroy(ctx context.Context, sess *im.Session, room jid.JID, alternate jid.JID, reason string) error {
	d := destroyXML{Reason: reason}
	if !alternate.IsZero() {
		d.JID = alternate.String()
	}
	payload := xmlstream.Wrap(
		marshalDestroy(d),
		xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "query"}},
	)
	iq := stanza.IQ{Type: stanza.SetIQ, To: room}
	_, _, err := sess.SendIQ(ctx, iq, payload)
	return err
}

func marshalDestroy(d destroyXML) xml.TokenReader {
	b, err := xml.Marshal(struct {
		XMLName xml.Name `xml:"destroy"`
		destroyXML
	}{destroyXML: d})
	if err != nil {
		return xml.NewDecoder(bytes.NewReader(nil))
	}
	return xml.NewDecoder(bytes.NewReader(b))
}
