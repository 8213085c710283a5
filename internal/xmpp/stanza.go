package xmpp

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// XML namespaces used across the protocol surface.
const (
	nsComponent  = "jabber:component:accept"
	nsClient     = "jabber:client"
	nsStream     = "http://etherx.jabber.org/streams"
	nsTLS        = "urn:ietf:params:xml:ns:xmpp-tls"
	nsSASL       = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind       = "urn:ietf:params:xml:ns:xmpp-bind"
	nsRoster     = "jabber:iq:roster"
	nsMUC        = "http://jabber.org/protocol/muc"
	nsChatStates = "http://jabber.org/protocol/chatstates"
	nsHints      = "urn:xmpp:hints"
	nsOOB        = "jabber:x:oob"
	nsReactions  = "urn:xmpp:reactions:0"
	nsPing       = "urn:xmpp:ping"
	nsStanzas    = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

// MessageType distinguishes 1:1 chat from MUC groupchat.
type MessageType string

const (
	TypeChat      MessageType = "chat"
	TypeGroupChat MessageType = "groupchat"
)

// ChatState is an XEP-0085 typing-awareness annotation.
type ChatState string

const (
	StateActive    ChatState = "active"
	StateComposing ChatState = "composing"
	StatePaused    ChatState = "paused"
	StateInactive  ChatState = "inactive"
	StateGone      ChatState = "gone"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// escape makes a string safe for use both as element text and as an
// attribute value (attributes are always single-quoted here).
func escape(s string) string {
	return xmlEscaper.Replace(s)
}

func fromAttr(from string) string {
	if from == "" {
		return ""
	}
	return " from='" + escape(from) + "'"
}

// BuildMessage builds an outgoing message stanza with the reply body and a
// bundled <active/> chat state, which clears the "typing..." indicator on
// the receiving client. `from` is the component domain in component mode
// and empty in C2S mode (the server stamps it).
func BuildMessage(from, to, body string, mtype MessageType, id string) string {
	idAttr := ""
	if id != "" {
		idAttr = " id='" + escape(id) + "'"
	}
	return fmt.Sprintf(
		"<message%s to='%s' type='%s'%s><body>%s</body><active xmlns='%s'/></message>",
		fromAttr(from), escape(to), mtype, idAttr, escape(body), nsChatStates)
}

// BuildChatState builds a standalone chat state notification (XEP-0085)
// with a no-store processing hint (XEP-0334): typing indicators are
// ephemeral and must not land in server archives.
func BuildChatState(from, to string, state ChatState, mtype MessageType) string {
	return fmt.Sprintf(
		"<message%s to='%s' type='%s'><%s xmlns='%s'/><no-store xmlns='%s'/></message>",
		fromAttr(from), escape(to), mtype, state, nsChatStates, nsHints)
}

// BuildMUCJoin builds a MUC join presence (XEP-0045). History replay is
// disabled: messages are persisted locally, and a server-side replay on
// every reconnect would duplicate them in the session store.
func BuildMUCJoin(from, roomJID, nick string) string {
	return fmt.Sprintf(
		"<presence%s to='%s/%s'><x xmlns='%s'><history maxstanzas='0'/></x></presence>",
		fromAttr(from), escape(roomJID), escape(nick), nsMUC)
}

// BuildPresenceSubscribe asks to see the contact's presence.
func BuildPresenceSubscribe(to string) string {
	return fmt.Sprintf("<presence to='%s' type='subscribe'/>", escape(to))
}

// BuildPresenceSubscribed approves an incoming subscription request.
func BuildPresenceSubscribed(to string) string {
	return fmt.Sprintf("<presence to='%s' type='subscribed'/>", escape(to))
}

// BuildInitialPresence announces availability after a successful bind.
func BuildInitialPresence() string {
	return "<presence/>"
}

// ── Stream prologs ───────────────────────────────────────

// BuildComponentStreamOpen builds the stream prolog for XEP-0114.
func BuildComponentStreamOpen(domain string) string {
	return fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' to='%s'>",
		nsComponent, nsStream, escape(domain))
}

// BuildClientStreamOpen builds the stream prolog for C2S (RFC 6120).
func BuildClientStreamOpen(domain string) string {
	return fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' to='%s' version='1.0' xml:lang='en'>",
		nsClient, nsStream, escape(domain))
}

// ── Component handshake (XEP-0114) ───────────────────────

// ComponentHandshake computes the XEP-0114 handshake digest:
// hex(SHA1(streamID || secret)).
func ComponentHandshake(streamID, secret string) string {
	sum := sha1.Sum([]byte(streamID + secret))
	return hex.EncodeToString(sum[:])
}

// BuildHandshake wraps the digest in its handshake element.
func BuildHandshake(digest string) string {
	return "<handshake>" + digest + "</handshake>"
}

// ── C2S negotiation elements ─────────────────────────────

// BuildStartTLS requests a TLS upgrade.
func BuildStartTLS() string {
	return "<starttls xmlns='" + nsTLS + "'/>"
}

// BuildSASLAuth builds an <auth/> element for the given mechanism with a
// base64 initial response.
func BuildSASLAuth(mechanism, initialB64 string) string {
	return fmt.Sprintf("<auth xmlns='%s' mechanism='%s'>%s</auth>", nsSASL, mechanism, initialB64)
}

// BuildSASLResponse builds a <response/> element for a SASL challenge.
func BuildSASLResponse(payloadB64 string) string {
	return fmt.Sprintf("<response xmlns='%s'>%s</response>", nsSASL, payloadB64)
}

// BuildBindRequest builds the resource binding IQ.
func BuildBindRequest(resource string) string {
	return fmt.Sprintf(
		"<iq type='set' id='bind1'><bind xmlns='%s'><resource>%s</resource></bind></iq>",
		nsBind, escape(resource))
}

// BuildRosterGet fetches the contact list (RFC 6121).
func BuildRosterGet() string {
	return "<iq type='get' id='roster1'><query xmlns='" + nsRoster + "'/></iq>"
}

// BuildPingResult answers an incoming XEP-0199 ping.
func BuildPingResult(from, to, id string) string {
	return fmt.Sprintf("<iq%s to='%s' id='%s' type='result'/>", fromAttr(from), escape(to), escape(id))
}

// BuildIQError answers an unhandled IQ get/set with service-unavailable.
func BuildIQError(from, to, id string) string {
	return fmt.Sprintf(
		"<iq%s to='%s' id='%s' type='error'><error type='cancel'><service-unavailable xmlns='%s'/></error></iq>",
		fromAttr(from), escape(to), escape(id), nsStanzas)
}
