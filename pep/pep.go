// Package pep implements the Personal Eventing Protocol: publish to one of
// the user's own pubsub nodes, and typed dispatch of the Mood, Activity,
// and Tune payloads inbound as pubsub event notifications, per spec.md
// §6's PEP namespace list and §9's generic-eventing design note.
package pep

import (
	"context"
	"encoding/xml"

	xmpp "codeberg.org/xmppgo/client"
	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/internal/attr"
	"codeberg.org/xmppgo/client/internal/ns"
	"codeberg.org/xmppgo/client/jid"
	"codeberg.org/xmppgo/client/mux"
	"codeberg.org/xmppgo/client/stanza"
	"codeberg.org/xmppgo/client/stream"
	"mellium.im/xmlstream"
)

// Publish publishes item to node on the user's own PEP service (the bare
// JID), returning the item id the server assigned. This is the teacher's
// internal/pubsub.Publish request shape, generalized to PEP's "publish to
// myself" usage and rehomed onto *im.Session.
func Publish(ctx context.Context, s *im.Session, node, id string, item xml.TokenReader) (string, error) {
	start, err := item.Token()
	if err != nil {
		return "", err
	}
	itemAttrs := []xml.Attr{}
	if id != "" {
		itemAttrs = append(itemAttrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: id})
	}
	payload := xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.Wrap(
				xmlstream.MultiReader(xmlstream.Token(start), xmlstream.InnerElement(item)),
				xml.StartElement{Name: xml.Name{Local: "item"}, Attr: itemAttrs},
			),
			xml.StartElement{Name: xml.Name{Local: "publish"}, Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: node}}},
		),
		xml.StartElement{Name: xml.Name{Space: ns.PubSub, Local: "pubsub"}},
	)

	iq := stanza.IQ{Type: stanza.SetIQ}
	_, raw, err := s.SendIQ(ctx, iq, payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		XMLName xml.Name
		Publish struct {
			Item struct {
				ID string `xml:"id,attr"`
			} `xml:"item"`
		} `xml:"http://jabber.org/protocol/pubsub publish"`
	}
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Publish.Item.ID == "" {
		return id, nil
	}
	return resp.Publish.Item.ID, nil
}

// Mood is a single mood notification, per XEP-0107.
type Mood struct {
	From jid.JID
	Mood string
	Text string
}

// Activity is a single activity notification, per XEP-0108. General and
// Specific are the activity and sub-activity element names (for example
// "relaxing" and "gaming").
type Activity struct {
	From     jid.JID
	General  string
	Specific string
}

// Tune is a single tune notification's fields, per XEP-0118.
type Tune struct {
	From   jid.JID
	Artist string
	Title  string
	Source string
	Track  string
	URI    string
}

// MoodFunc, ActivityFunc, and TuneFunc receive inbound PEP notifications.
type (
	MoodFunc     func(Mood)
	ActivityFunc func(Activity)
	TuneFunc     func(Tune)
)

// PEP dispatches typed mood/activity/tune notifications delivered as
// pubsub#event messages, and publishes this user's own mood/activity/tune.
// It implements im.Extension so it can be resolved through an im.Registry.
type PEP struct {
	sess *im.Session

	onMood     []MoodFunc
	onActivity []ActivityFunc
	onTune     []TuneFunc
}

// New builds a PEP bound to sess and registers its inbound event handler.
func New(sess *im.Session) *PEP {
	p := &PEP{sess: sess}
	sess.Handle(mux.MessageFunc(stanza.HeadlineMessage, xml.Name{Space: ns.PubSubEvent, Local: "event"}, p.handleEvent))
	return p
}

// Namespaces reports the three PEP payload namespaces this package
// understands, satisfying im.Extension.
func (p *PEP) Namespaces() []string { return []string{ns.Mood, ns.Activity, ns.Tune} }

// OnMood, OnActivity, and OnTune register callbacks for inbound
// notifications of each kind.
func (p *PEP) OnMood(f MoodFunc)         { p.onMood = append(p.onMood, f) }
func (p *PEP) OnActivity(f ActivityFunc) { p.onActivity = append(p.onActivity, f) }
func (p *PEP) OnTune(f TuneFunc)         { p.onTune = append(p.onTune, f) }

type anyElem struct {
	XMLName xml.Name
	Inner   []anyElem `xml:",any"`
	Data    string    `xml:",chardata"`
}

type eventItemXML struct {
	Mood *struct {
		Inner []anyElem `xml:",any"`
		Text  string    `xml:"text"`
	} `xml:"http://jabber.org/protocol/mood mood"`
	Activity *struct {
		Inner []anyElem `xml:",any"`
	} `xml:"http://jabber.org/protocol/activity activity"`
	Tune *struct {
		Artist string `xml:"artist"`
		Title  string `xml:"title"`
		Source string `xml:"source"`
		Track  string `xml:"track"`
		URI    string `xml:"uri"`
	} `xml:"http://jabber.org/protocol/tune tune"`
}

type eventXML struct {
	Items struct {
		Node string         `xml:"node,attr"`
		Item []eventItemXML `xml:"item"`
	} `xml:"items"`
}

func (p *PEP) handleEvent(msg stanza.Message, elem stream.Element, sess *xmpp.Session) error {
	var wrapper struct {
		XMLName xml.Name
		Event   eventXML `xml:"http://jabber.org/protocol/pubsub#event event"`
	}
	if err := xml.Unmarshal(elem.Raw, &wrapper); err != nil {
		return err
	}
	for _, item := range wrapper.Event.Items.Item {
		switch {
		case item.Mood != nil:
			m := Mood{From: msg.From, Text: item.Mood.Text}
			if len(item.Mood.Inner) > 0 {
				m.Mood = item.Mood.Inner[0].XMLName.Local
			}
			for _, f := range p.onMood {
				f(m)
			}
		case item.Activity != nil:
			a := Activity{From: msg.From}
			if len(item.Activity.Inner) > 0 {
				a.General = item.Activity.Inner[0].XMLName.Local
				if len(item.Activity.Inner[0].Inner) > 0 {
					a.Specific = item.Activity.Inner[0].Inner[0].XMLName.Local
				}
			}
			for _, f := range p.onActivity {
				f(a)
			}
		case item.Tune != nil:
			t := Tune{
				From:   msg.From,
				Artist: item.Tune.Artist,
				Title:  item.Tune.Title,
				Source: item.Tune.Source,
				Track:  item.Tune.Track,
				URI:    item.Tune.URI,
			}
			for _, f := range p.onTune {
				f(t)
			}
		}
	}
	return nil
}

// SetMood publishes a new mood to this user's mood node. mood is the
// XEP-0107 mood element name (for example "happy"); text is an optional
// natural-language elaboration.
func (p *PEP) SetMood(ctx context.Context, mood, text string) error {
	var parts []xml.TokenReader
	parts = append(parts, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: mood}}))
	if text != "" {
		parts = append(parts, xmlstream.Wrap(xmlstream.Token(xml.CharData(text)), xml.StartElement{Name: xml.Name{Local: "text"}}))
	}
	body := xmlstream.Wrap(xmlstream.MultiReader(parts...), xml.StartElement{Name: xml.Name{Space: ns.Mood, Local: "mood"}})
	_, err := Publish(ctx, p.sess, ns.Mood, attr.RandomID(), body)
	return err
}

// SetActivity publishes a new activity to this user's activity node.
// general is the XEP-0108 activity element name; specific is an optional
// sub-activity element name, and may be empty.
func (p *PEP) SetActivity(ctx context.Context, general, specific string) error {
	genStart := xml.StartElement{Name: xml.Name{Local: general}}
	var inner xml.TokenReader
	if specific != "" {
		inner = xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: specific}})
	}
	body := xmlstream.Wrap(xmlstream.Wrap(inner, genStart), xml.StartElement{Name: xml.Name{Space: ns.Activity, Local: "activity"}})
	_, err := Publish(ctx, p.sess, ns.Activity, attr.RandomID(), body)
	return err
}

// SetTune publishes a new tune to this user's tune node.
func (p *PEP) SetTune(ctx context.Context, t Tune) error {
	var parts []xml.TokenReader
	add := func(local, val string) {
		if val == "" {
			return
		}
		parts = append(parts, xmlstream.Wrap(xmlstream.Token(xml.CharData(val)), xml.StartElement{Name: xml.Name{Local: local}}))
	}
	add("artist", t.Artist)
	add("title", t.Title)
	add("source", t.Source)
	add("track", t.Track)
	add("uri", t.URI)
	body := xmlstream.Wrap(xmlstream.MultiReader(parts...), xml.StartElement{Name: xml.Name{Space: ns.Tune, Local: "tune"}})
	_, err := Publish(ctx, p.sess, ns.Tune, attr.RandomID(), body)
	return err
}
