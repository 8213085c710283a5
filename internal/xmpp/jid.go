package xmpp

import "strings"

// JID is an XMPP address of the form local@domain/resource.
// For MUC rooms the "local@domain" part addresses the room and the
// resource carries the participant nick.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJID splits a JID string into its parts. It never fails: a string
// without '@' is treated as a bare domain (component addresses look like
// that), and a missing resource leaves Resource empty.
func ParseJID(s string) JID {
	var j JID
	rest := s
	if i := strings.Index(rest, "/"); i >= 0 {
		j.Resource = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.Index(rest, "@"); i >= 0 {
		j.Local = rest[:i]
		j.Domain = rest[i+1:]
	} else {
		j.Domain = rest
	}
	return j
}

// Bare returns local@domain without the resource.
func (j JID) Bare() string {
	if j.Local == "" {
		return j.Domain
	}
	return j.Local + "@" + j.Domain
}

// String returns the full JID including the resource when present.
func (j JID) String() string {
	if j.Resource == "" {
		return j.Bare()
	}
	return j.Bare() + "/" + j.Resource
}

// Bare strips the resource from a JID string. Routing keys always
// compare bare JIDs.
func Bare(jid string) string {
	if i := strings.Index(jid, "/"); i >= 0 {
		return jid[:i]
	}
	return jid
}

// DomainOf returns the domain part of a JID string.
func DomainOf(jid string) string {
	bare := Bare(jid)
	if i := strings.Index(bare, "@"); i >= 0 {
		return bare[i+1:]
	}
	return bare
}

// ResourceOf returns the resource part of a JID string, or "".
// In MUC this is the participant nick.
func ResourceOf(jid string) string {
	if i := strings.Index(jid, "/"); i >= 0 {
		return jid[i+1:]
	}
	return ""
}
