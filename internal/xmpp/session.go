package xmpp

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
)

// session is an authenticated connection. localJID is the bound bare JID
// in client mode or the component domain in component mode. from is the
// address stamped on outbound stanzas: the component domain in component
// mode, empty in client mode (the server stamps C2S stanzas).
type session struct {
	transport *Transport
	localJID  string
	from      string
}

// establish dispatches to the mode-specific establisher.
func establish(ctx context.Context, opts *Options) (*session, error) {
	switch opts.Mode {
	case ModeComponent:
		return establishComponent(ctx, opts)
	case ModeClient:
		return establishClient(ctx, opts)
	default:
		return nil, fmt.Errorf("xmpp: unknown connection mode %q", opts.Mode)
	}
}

// establishComponent runs the one-shot XEP-0114 handshake.
func establishComponent(ctx context.Context, opts *Options) (*session, error) {
	t, err := Dial(ctx, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}
	t.KeepaliveInterval = opts.keepaliveInterval()
	t.ReadTimeout = opts.readTimeout()

	if err := t.Send(BuildComponentStreamOpen(opts.ComponentDomain)); err != nil {
		t.Close()
		return nil, err
	}
	header, err := t.ReadStreamHeader()
	if err != nil {
		t.Close()
		return nil, err
	}
	if header.ID == "" {
		t.Close()
		return nil, fmt.Errorf("xmpp: component stream response carries no id")
	}

	digest := ComponentHandshake(header.ID, opts.ComponentSecret)
	if err := t.Send(BuildHandshake(digest)); err != nil {
		t.Close()
		return nil, err
	}
	node, err := t.NextStanza()
	if err != nil {
		t.Close()
		if se, ok := err.(*StreamError); ok {
			return nil, &AuthError{Stage: "handshake", Detail: se.Condition}
		}
		return nil, err
	}
	if node.XMLName.Local != "handshake" {
		t.Close()
		return nil, &AuthError{Stage: "handshake", Detail: "unexpected <" + node.XMLName.Local + "> reply"}
	}

	return &session{
		transport: t,
		localJID:  opts.ComponentDomain,
		from:      opts.ComponentDomain,
	}, nil
}

// establishClient runs the C2S state machine: stream open, STARTTLS,
// SASL, bind, roster fetch, initial presence, and the auto-subscribe
// pass over the allowed JIDs.
func establishClient(ctx context.Context, opts *Options) (*session, error) {
	log := opts.logger()
	jid := ParseJID(opts.JID)
	if jid.Local == "" || jid.Domain == "" {
		return nil, fmt.Errorf("xmpp: invalid client JID %q (want local@domain)", opts.JID)
	}

	t, err := Dial(ctx, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}
	t.KeepaliveInterval = opts.keepaliveInterval()
	t.ReadTimeout = opts.readTimeout()

	fail := func(err error) (*session, error) {
		t.Close()
		return nil, err
	}

	features, err := openStream(t, jid.Domain)
	if err != nil {
		return fail(err)
	}

	// STARTTLS upgrade. Plaintext SASL is refused even when the server
	// does not mark TLS as required.
	if features.ChildNS("starttls", nsTLS) == nil {
		return fail(ErrTLSRequired)
	}
	if err := t.Send(BuildStartTLS()); err != nil {
		return fail(err)
	}
	node, err := t.NextStanza()
	if err != nil {
		return fail(err)
	}
	if node.XMLName.Local != "proceed" {
		return fail(fmt.Errorf("xmpp: starttls refused: <%s>", node.XMLName.Local))
	}
	tlsCfg := &tls.Config{
		ServerName:         jid.Domain,
		InsecureSkipVerify: !opts.TLSVerify,
	}
	if err := t.StartTLS(tlsCfg); err != nil {
		return fail(err)
	}
	log.Debug("tls established", "server", jid.Domain)

	features, err = openStream(t, jid.Domain)
	if err != nil {
		return fail(err)
	}

	// SASL: prefer SCRAM-SHA-1, fall back to PLAIN only when offered.
	mechanisms := saslMechanisms(features)
	switch {
	case contains(mechanisms, MechScramSHA1):
		err = authenticateScramSHA1(t, jid.Local, opts.Password)
	case contains(mechanisms, MechPlain):
		err = authenticatePlain(t, jid.Local, opts.Password)
	default:
		err = &AuthError{Stage: "sasl", Detail: "no supported mechanism offered (have: " + strings.Join(mechanisms, ", ") + ")"}
	}
	if err != nil {
		return fail(err)
	}
	log.Debug("sasl authentication successful", "mechanisms", mechanisms)

	// Post-SASL stream restart.
	t.RestartStream()
	if _, err = openStream(t, jid.Domain); err != nil {
		return fail(err)
	}

	// Resource binding.
	if err := t.Send(BuildBindRequest(opts.Resource)); err != nil {
		return fail(err)
	}
	node, err = t.NextStanza()
	if err != nil {
		return fail(err)
	}
	boundJID := boundJIDFromResult(node)
	if boundJID == "" {
		return fail(&AuthError{Stage: "bind", Detail: "no jid in bind result"})
	}
	log.Info("bound", "jid", boundJID)

	// Roster fetch: the auto-subscribe pass skips contacts already
	// present.
	var rosterJIDs []string
	if err := t.Send(BuildRosterGet()); err != nil {
		return fail(err)
	}
	if node, err = t.NextStanza(); err != nil {
		return fail(err)
	}
	if node.XMLName.Local == "iq" && node.Attr("type") == "result" {
		rosterJIDs = RosterJIDs(node)
	}

	if err := t.Send(BuildInitialPresence()); err != nil {
		return fail(err)
	}

	subscribed := 0
	for _, allowed := range opts.AllowedJIDs {
		if allowed == "*" || contains(rosterJIDs, allowed) {
			continue
		}
		if err := t.Send(BuildPresenceSubscribe(allowed)); err != nil {
			return fail(err)
		}
		subscribed++
	}
	if subscribed > 0 {
		log.Info("sent presence subscriptions", "count", subscribed)
	}

	return &session{
		transport: t,
		localJID:  Bare(boundJID),
	}, nil
}

// openStream sends a client stream prolog and reads the header plus the
// features element.
func openStream(t *Transport, domain string) (*Node, error) {
	if err := t.Send(BuildClientStreamOpen(domain)); err != nil {
		return nil, err
	}
	if _, err := t.ReadStreamHeader(); err != nil {
		return nil, err
	}
	features, err := t.NextStanza()
	if err != nil {
		return nil, err
	}
	if features.XMLName.Local != "features" {
		return nil, fmt.Errorf("xmpp: expected stream features, got <%s>", features.XMLName.Local)
	}
	return features, nil
}

func saslMechanisms(features *Node) []string {
	mechs := features.ChildNS("mechanisms", nsSASL)
	if mechs == nil {
		return nil
	}
	var out []string
	for _, m := range mechs.Children {
		if m.XMLName.Local == "mechanism" && m.Text != "" {
			out = append(out, strings.TrimSpace(m.Text))
		}
	}
	return out
}

func boundJIDFromResult(node *Node) string {
	if node.XMLName.Local != "iq" || node.Attr("type") != "result" {
		return ""
	}
	bind := node.ChildNS("bind", nsBind)
	if bind == nil {
		return ""
	}
	if j := bind.Child("jid"); j != nil {
		return strings.TrimSpace(j.Text)
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
