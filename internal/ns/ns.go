// Package ns provides XML namespace constants shared across packages in
// this module.
package ns

// Core stream-level namespaces.
const (
	Client   = "jabber:client"
	Server   = "jabber:server"
	Stream   = "http://etherx.jabber.org/streams"
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	XML      = "http://www.w3.org/XML/1998/namespace"
)

// Extension namespaces named in spec.md §6.
const (
	Roster      = "jabber:iq:roster"
	Privacy     = "jabber:iq:privacy"
	DiscoInfo   = "http://jabber.org/protocol/disco#info"
	DiscoItems  = "http://jabber.org/protocol/disco#items"
	Caps        = "http://jabber.org/protocol/caps"
	MUC         = "http://jabber.org/protocol/muc"
	MUCUser     = "http://jabber.org/protocol/muc#user"
	MUCAdmin    = "http://jabber.org/protocol/muc#admin"
	MUCOwner    = "http://jabber.org/protocol/muc#owner"
	MUCConf     = "jabber:x:conference"
	SI          = "http://jabber.org/protocol/si"
	SIFile      = "http://jabber.org/protocol/si/profile/file-transfer"
	ByteStreams = "http://jabber.org/protocol/bytestreams"
	IBB         = "http://jabber.org/protocol/ibb"
	MAM         = "urn:xmpp:mam:2"
	Carbons     = "urn:xmpp:carbons:2"
	Forward     = "urn:xmpp:forward:0"
	Delay       = "urn:xmpp:delay"
	Search      = "jabber:iq:search"
	Register    = "jabber:iq:register"
	Ping        = "urn:xmpp:ping"
	Time        = "urn:xmpp:time"
	Version     = "jabber:iq:version"
	Attention   = "urn:xmpp:attention:0"
	ChatStates  = "http://jabber.org/protocol/chatstates"
	Mood        = "http://jabber.org/protocol/mood"
	Tune        = "http://jabber.org/protocol/tune"
	Activity    = "http://jabber.org/protocol/activity"
	VCard       = "vcard-temp"
	VCardUpdate = "vcard-temp:x:update"
	HTTPUpload  = "urn:xmpp:http:upload:0"
	PubSub      = "http://jabber.org/protocol/pubsub"
	PubSubEvent = "http://jabber.org/protocol/pubsub#event"
	DataForm    = "jabber:x:data"
	RSM         = "http://jabber.org/protocol/rsm"
	Blocking    = "urn:xmpp:blocking"
)
