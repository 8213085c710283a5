package xmpp

import "testing"

func clientOptions(jids, domains []string) *Options {
	return &Options{
		Mode:           ModeClient,
		JID:            "bot@example.com",
		AllowedJIDs:    jids,
		AllowedDomains: domains,
	}
}

func TestDomainAllowedDefaultsToOwnDomain(t *testing.T) {
	o := clientOptions(nil, nil)
	if !o.DomainAllowed("alice@example.com/res") {
		t.Error("own domain rejected")
	}
	if o.DomainAllowed("alice@evil.org") {
		t.Error("foreign domain admitted with empty allow list")
	}
}

func TestDomainAllowedWildcard(t *testing.T) {
	o := clientOptions(nil, []string{"*"})
	if !o.DomainAllowed("anyone@anywhere.net") {
		t.Error("wildcard did not admit")
	}
}

func TestDomainAllowedExplicitList(t *testing.T) {
	o := clientOptions(nil, []string{"example.com", "partner.org"})
	if !o.DomainAllowed("bob@partner.org/phone") {
		t.Error("listed domain rejected")
	}
	if o.DomainAllowed("mallory@evil.org") {
		t.Error("unlisted domain admitted")
	}
}

func TestJIDAllowedRequiresBothChecks(t *testing.T) {
	o := clientOptions([]string{"admin@example.com"}, nil)
	if !o.JIDAllowed("admin@example.com/Conversations.abc") {
		t.Error("listed JID rejected")
	}
	if o.JIDAllowed("other@example.com") {
		t.Error("unlisted JID admitted")
	}
	// Same local part, different domain: the domain gate fails first.
	if o.JIDAllowed("admin@evil.org") {
		t.Error("listed local on foreign domain admitted")
	}
}

func TestJIDAllowedEmptyListDefersToDomain(t *testing.T) {
	o := clientOptions(nil, nil)
	if !o.JIDAllowed("anyone@example.com") {
		t.Error("same-domain sender rejected with empty jid list")
	}
	if o.JIDAllowed("anyone@evil.org") {
		t.Error("foreign sender admitted with empty jid list")
	}
}

func TestJIDAllowedWildcardEntry(t *testing.T) {
	o := clientOptions([]string{"*"}, []string{"*"})
	if !o.JIDAllowed("anyone@anywhere.net/res") {
		t.Error("wildcard jid list rejected a sender")
	}
}

func TestJIDAllowedWildcardDomainStillFiltersJIDs(t *testing.T) {
	o := clientOptions([]string{"admin@example.com"}, []string{"*"})
	if !o.JIDAllowed("admin@example.com") {
		t.Error("listed JID rejected")
	}
	if o.JIDAllowed("stranger@anywhere.net") {
		t.Error("wildcard domain bypassed the jid list")
	}
}

func TestComponentDomainPolicy(t *testing.T) {
	o := &Options{Mode: ModeComponent, ComponentDomain: "agent.example.com"}
	if !o.DomainAllowed("user@agent.example.com") {
		t.Error("own component domain rejected")
	}
	if o.DomainAllowed("user@example.com") {
		t.Error("parent domain admitted by default in component mode")
	}
}
