package xmpp

import (
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	in := `<body & "quotes" 'apos'> ünïcödé`
	out := escape(in)
	if strings.ContainsAny(out, "<>\"'") {
		t.Errorf("escape left raw markup characters: %q", out)
	}
	if !strings.Contains(out, "&amp;") || !strings.Contains(out, "&lt;") {
		t.Errorf("escape missing entities: %q", out)
	}
	if !strings.Contains(out, "ünïcödé") {
		t.Errorf("escape mangled unicode: %q", out)
	}
}

func TestBuildMessageBundlesActiveState(t *testing.T) {
	xml := BuildMessage("", "user@example.com", "Hello", TypeChat, "abc-123")
	for _, want := range []string{
		"to='user@example.com'",
		"type='chat'",
		"id='abc-123'",
		"<body>Hello</body>",
		"<active xmlns='http://jabber.org/protocol/chatstates'/>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("BuildMessage missing %q in %s", want, xml)
		}
	}
	if strings.Contains(xml, "from=") {
		t.Errorf("C2S message must not carry from: %s", xml)
	}
}

func TestBuildMessageComponentFrom(t *testing.T) {
	xml := BuildMessage("agent.example.com", "user@example.com", "Hi", TypeChat, "")
	if !strings.Contains(xml, "from='agent.example.com'") {
		t.Errorf("component message missing from: %s", xml)
	}
	if strings.Contains(xml, "id=") {
		t.Errorf("empty id must be omitted: %s", xml)
	}
}

func TestBuildMessageEscapesBody(t *testing.T) {
	xml := BuildMessage("", "user@example.com", `a < b & c > "d"`, TypeChat, "")
	if strings.Contains(xml, `a < b`) {
		t.Errorf("body not escaped: %s", xml)
	}
	if !strings.Contains(xml, "a &lt; b &amp; c &gt; &quot;d&quot;") {
		t.Errorf("unexpected escaping: %s", xml)
	}
}

func TestBuildChatState(t *testing.T) {
	xml := BuildChatState("", "user@example.com", StateComposing, TypeChat)
	if !strings.Contains(xml, "<composing xmlns='http://jabber.org/protocol/chatstates'/>") {
		t.Errorf("missing composing child: %s", xml)
	}
	if !strings.Contains(xml, "<no-store xmlns='urn:xmpp:hints'/>") {
		t.Errorf("missing no-store hint: %s", xml)
	}
	if strings.Contains(xml, "<body") {
		t.Errorf("chat state must not carry a body: %s", xml)
	}

	xml = BuildChatState("agent.example.com", "room@muc.example.com", StatePaused, TypeGroupChat)
	if !strings.Contains(xml, "type='groupchat'") || !strings.Contains(xml, "<paused ") {
		t.Errorf("groupchat paused state wrong: %s", xml)
	}
}

func TestBuildMUCJoin(t *testing.T) {
	xml := BuildMUCJoin("", "lobby@conference.example.com", "FluuxBot")
	if !strings.Contains(xml, "to='lobby@conference.example.com/FluuxBot'") {
		t.Errorf("join target wrong: %s", xml)
	}
	if !strings.Contains(xml, "<x xmlns='http://jabber.org/protocol/muc'>") {
		t.Errorf("missing muc x element: %s", xml)
	}
	if !strings.Contains(xml, "<history maxstanzas='0'/>") {
		t.Errorf("history replay must be disabled: %s", xml)
	}
}

func TestBuildPresenceSubscriptions(t *testing.T) {
	if xml := BuildPresenceSubscribe("a@b"); xml != "<presence to='a@b' type='subscribe'/>" {
		t.Errorf("subscribe = %s", xml)
	}
	if xml := BuildPresenceSubscribed("a@b"); xml != "<presence to='a@b' type='subscribed'/>" {
		t.Errorf("subscribed = %s", xml)
	}
}

func TestComponentHandshake(t *testing.T) {
	// hex(SHA1("abc123" || "s3cr3t"))
	got := ComponentHandshake("abc123", "s3cr3t")
	want := "49fc1ea83a54123ae5a273341bed522fe7d4b91c"
	if got != want {
		t.Errorf("ComponentHandshake = %s, want %s", got, want)
	}
	if xml := BuildHandshake(got); xml != "<handshake>"+want+"</handshake>" {
		t.Errorf("BuildHandshake = %s", xml)
	}
}

func TestBuildStreamOpens(t *testing.T) {
	comp := BuildComponentStreamOpen("agent.example.com")
	if !strings.Contains(comp, "xmlns='jabber:component:accept'") || !strings.Contains(comp, "to='agent.example.com'") {
		t.Errorf("component prolog wrong: %s", comp)
	}
	client := BuildClientStreamOpen("example.com")
	for _, want := range []string{"xmlns='jabber:client'", "version='1.0'", "to='example.com'"} {
		if !strings.Contains(client, want) {
			t.Errorf("client prolog missing %q: %s", want, client)
		}
	}
}

func TestBuildBindRequest(t *testing.T) {
	xml := BuildBindRequest("fluux-agent")
	if !strings.Contains(xml, "<resource>fluux-agent</resource>") {
		t.Errorf("bind request wrong: %s", xml)
	}
	if !strings.Contains(xml, "urn:ietf:params:xml:ns:xmpp-bind") {
		t.Errorf("bind namespace missing: %s", xml)
	}
}
