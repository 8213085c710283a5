package xmpp

import "strings"

// OOBData is an out-of-band attachment reference (XEP-0066/0363).
type OOBData struct {
	URL         string
	Description string
}

// Reaction is an inbound XEP-0444 reaction. Raw emojis and the target
// message id are preserved as received even though no outbound reaction
// path exists yet.
type Reaction struct {
	TargetID string
	Emojis   []string
}

// Message is a fully decoded <message> stanza.
type Message struct {
	From string
	To   string
	ID   string
	Type MessageType

	// Body is the decoded, trimmed text. Blank when the stanza only
	// carried a chat state, a reaction, or an OOB URL echoed as
	// fallback body text.
	Body      string
	OOB       []OOBData
	ChatState ChatState
	Reaction  *Reaction
	NoStore   bool
}

// IsError reports whether this is a bounce the engine must drop.
func (m *Message) IsError() bool { return m.Type == "error" }

// IsChatStateOnly reports whether the stanza carries no payload beyond a
// typing notification. Such events never trigger an LLM round.
func (m *Message) IsChatStateOnly() bool {
	return m.Body == "" && len(m.OOB) == 0 && m.Reaction == nil && m.ChatState != ""
}

// ParseMessage decodes a <message> subtree: body text, OOB children,
// reactions, the first chat-state child, and XEP-0334 hints. The body is
// normalized per the fallback-strip rule: trailing whitespace trimmed,
// and blanked when it duplicates an attached OOB URL.
func ParseMessage(n *Node) *Message {
	m := &Message{
		From: n.Attr("from"),
		To:   n.Attr("to"),
		ID:   n.Attr("id"),
		Type: MessageType(n.Attr("type")),
	}
	if m.Type == "" {
		m.Type = "normal"
	}

	for _, c := range n.Children {
		switch {
		case c.XMLName.Local == "body":
			m.Body = c.Text
		case c.XMLName.Local == "x" && c.XMLName.Space == nsOOB:
			oob := OOBData{}
			if u := c.Child("url"); u != nil {
				oob.URL = strings.TrimSpace(u.Text)
			}
			if d := c.Child("desc"); d != nil {
				oob.Description = strings.TrimSpace(d.Text)
			}
			if oob.URL != "" {
				m.OOB = append(m.OOB, oob)
			}
		case c.XMLName.Local == "reactions" && c.XMLName.Space == nsReactions:
			r := &Reaction{TargetID: c.Attr("id")}
			for _, rc := range c.Children {
				if rc.XMLName.Local == "reaction" && rc.Text != "" {
					r.Emojis = append(r.Emojis, rc.Text)
				}
			}
			m.Reaction = r
		case c.XMLName.Space == nsChatStates && m.ChatState == "":
			m.ChatState = ChatState(c.XMLName.Local)
		case c.XMLName.Local == "no-store" && c.XMLName.Space == nsHints:
			m.NoStore = true
		}
	}

	m.Body = strings.TrimSpace(m.Body)
	for _, oob := range m.OOB {
		if m.Body == oob.URL {
			m.Body = ""
			break
		}
	}
	return m
}

// PresenceKind classifies an inbound presence stanza.
type PresenceKind string

const (
	PresenceAvailable    PresenceKind = "available"
	PresenceUnavailable  PresenceKind = "unavailable"
	PresenceSubscribe    PresenceKind = "subscribe"
	PresenceSubscribed   PresenceKind = "subscribed"
	PresenceUnsubscribe  PresenceKind = "unsubscribe"
	PresenceUnsubscribed PresenceKind = "unsubscribed"
	PresenceError        PresenceKind = "error"
)

// Presence is a decoded <presence> stanza.
type Presence struct {
	From string
	To   string
	Kind PresenceKind
}

// ParsePresence decodes a <presence> subtree. A missing type attribute
// means available.
func ParsePresence(n *Node) *Presence {
	kind := PresenceKind(n.Attr("type"))
	if kind == "" {
		kind = PresenceAvailable
	}
	return &Presence{From: n.Attr("from"), To: n.Attr("to"), Kind: kind}
}

// IQ is a decoded <iq> stanza. Payload is the first child element.
type IQ struct {
	From    string
	To      string
	ID      string
	Type    string
	Payload *Node
}

// ParseIQ decodes an <iq> subtree.
func ParseIQ(n *Node) *IQ {
	iq := &IQ{
		From: n.Attr("from"),
		To:   n.Attr("to"),
		ID:   n.Attr("id"),
		Type: n.Attr("type"),
	}
	if len(n.Children) > 0 {
		iq.Payload = n.Children[0]
	}
	return iq
}

// IsPing reports whether this is a XEP-0199 ping the engine answers
// itself.
func (iq *IQ) IsPing() bool {
	return iq.Type == "get" && iq.Payload != nil &&
		iq.Payload.XMLName.Local == "ping" && iq.Payload.XMLName.Space == nsPing
}

// RosterJIDs extracts bare JIDs from a roster result (RFC 6121),
// skipping items in the remove state.
func RosterJIDs(n *Node) []string {
	query := n.ChildNS("query", nsRoster)
	if query == nil {
		return nil
	}
	var jids []string
	for _, item := range query.Children {
		if item.XMLName.Local != "item" {
			continue
		}
		if item.Attr("subscription") == "remove" {
			continue
		}
		if jid := item.Attr("jid"); jid != "" {
			jids = append(jids, jid)
		}
	}
	return jids
}
