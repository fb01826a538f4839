package im_test

import (
	"testing"

	"codeberg.org/xmppgo/client/im"
	"codeberg.org/xmppgo/client/stanza"
)

func TestOnMessageFiresForChatMessage(t *testing.T) {
	imSess, _ := newTestIMSession(t)

	var got stanza.Message
	var n int
	imSess.OnMessage(func(msg stanza.Message, s *im.Session) {
		got = msg
		n++
	})

	elem := elemFromXML(t, `<message from="nurse@example.com" type="chat"><body>hello</body></message>`)
	if err := imSess.HandleXMPP(elem, imSess.Sess); err != nil {
		t.Fatalf("HandleXMPP: %v", err)
	}
	if n != 1 {
		t.Fatalf("OnMessage called %d times, want 1", n)
	}
	if got.Body[""] != "hello" {
		t.Fatalf("Body = %q, want %q", got.Body[""], "hello")
	}
}
