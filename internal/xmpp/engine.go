package xmpp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/processone/fluux-agent/internal/backoff"
)

// Event is anything the engine surfaces to the runtime.
type Event interface{ event() }

// Connected fires once per established session with the bound local
// address (bare JID in client mode, component domain in component mode).
type Connected struct{ JID string }

// Disconnected fires when a session dies; the engine reconnects with
// backoff unless the error is permanent.
type Disconnected struct{ Err error }

// DirectMessage is an admitted 1:1 message.
type DirectMessage struct {
	FromFull string
	FromBare string
	ID       string
	Body     string
	OOB      []OOBData
	Reaction *Reaction
}

// GroupMessage is an admitted MUC message.
type GroupMessage struct {
	Room       string
	SenderNick string
	ID         string
	Body       string
	OOB        []OOBData
	Reaction   *Reaction
	IsMention  bool
}

// ChatStateOnly is a pure typing notification. Surfaced for suppression;
// it never triggers an LLM round.
type ChatStateOnly struct {
	From  string
	State ChatState
}

// PresenceEvent is a decoded presence change from a peer.
type PresenceEvent struct {
	From string
	Kind PresenceKind
}

// SubscriptionRequest is an admitted presence subscription request. The
// engine has already replied <subscribed/> before surfacing it.
type SubscriptionRequest struct{ FromBare string }

// IQRequest is an IQ get/set the core does not answer itself.
type IQRequest struct {
	From    string
	ID      string
	Kind    string
	Payload *Node
}

func (Connected) event()           {}
func (Disconnected) event()        {}
func (DirectMessage) event()       {}
func (GroupMessage) event()        {}
func (ChatStateOnly) event()       {}
func (PresenceEvent) event()       {}
func (SubscriptionRequest) event() {}
func (IQRequest) event()           {}

// command is one outbound unit; the writer encodes it with the session's
// from address so component and client modes share the same flow.
type command struct {
	encode func(from string) string
}

// Reconnection parameters (spec: base 1s, cap 60s, jitter 0.2; the
// attempt counter resets after 120s of stable operation).
const (
	reconnectBase        = time.Second
	reconnectCap         = 60 * time.Second
	reconnectJitter      = 0.2
	stableDuration       = 120 * time.Second
	maxReconnectAttempts = 20
	maxNickRetries       = 3
	outboundQueueSize    = 64
)

// Engine is the protocol brain: it owns the connection lifecycle, parses
// and filters inbound stanzas into typed events, and serializes outbound
// traffic through a single writer.
type Engine struct {
	opts *Options

	events chan Event
	cmds   chan command

	// roomNicks tracks the effective nick per room, which may diverge
	// from the configured one after a collision retry.
	roomNicks    map[string]string
	nickAttempts map[string]int

	localJID string
}

// NewEngine builds an engine from connection options. Events must be
// drained by exactly one consumer.
func NewEngine(opts *Options) *Engine {
	e := &Engine{
		opts:         opts,
		events:       make(chan Event, 100),
		cmds:         make(chan command, outboundQueueSize),
		roomNicks:    make(map[string]string),
		nickAttempts: make(map[string]int),
	}
	for _, r := range opts.Rooms {
		e.roomNicks[r.JID] = r.Nick
	}
	return e
}

// Events returns the inbound event stream.
func (e *Engine) Events() <-chan Event { return e.events }

// SendMessage queues an outbound message with a bundled <active/> state.
// Blocks when the writer is congested, throttling the caller.
func (e *Engine) SendMessage(to, body string, mtype MessageType, id string) {
	e.cmds <- command{encode: func(from string) string {
		return BuildMessage(from, to, body, mtype, id)
	}}
}

// SendChatState queues a standalone typing notification.
func (e *Engine) SendChatState(to string, state ChatState, mtype MessageType) {
	e.cmds <- command{encode: func(from string) string {
		return BuildChatState(from, to, state, mtype)
	}}
}

// SendRaw queues a prebuilt fragment.
func (e *Engine) SendRaw(fragment string) {
	e.cmds <- command{encode: func(string) string { return fragment }}
}

// Run drives the connect/serve/reconnect cycle until ctx is cancelled or
// a permanent error occurs. Transient failures back off exponentially
// with jitter; the backoff resets once a connection proves stable.
func (e *Engine) Run(ctx context.Context) error {
	log := e.opts.logger()
	bo := backoff.New(reconnectBase, reconnectCap, 2, reconnectJitter)

	for {
		log.Info("connecting", "host", e.opts.Host, "port", e.opts.Port, "mode", string(e.opts.Mode), "attempt", bo.Attempt()+1)
		sess, err := establish(ctx, e.opts)
		if err == nil {
			metricReconnects.Inc()
			connectedAt := time.Now()
			err = e.serve(ctx, sess)
			if ctx.Err() != nil {
				return nil
			}
			e.emit(Disconnected{Err: err})
			if !IsRetryable(err) {
				return err
			}
			if time.Since(connectedAt) >= stableDuration {
				bo.Reset()
				log.Debug("connection was stable, backoff reset")
			}
			log.Warn("connection lost, reconnecting", "error", err)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			if !IsRetryable(err) {
				return err
			}
			if bo.ExceededMaxAttempts(maxReconnectAttempts) {
				return fmt.Errorf("xmpp: giving up after %d reconnect attempts: %w", maxReconnectAttempts, err)
			}
			log.Warn("connection failed", "error", err)
		}

		delay := bo.NextDelay()
		log.Info("reconnecting", "delay", delay.Round(time.Millisecond))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

// serve runs one established session to completion: joins rooms, pumps
// the reader, serializes the writer, and keeps the stream alive.
func (e *Engine) serve(ctx context.Context, sess *session) error {
	log := e.opts.logger()
	e.localJID = sess.localJID

	for room, nick := range e.roomNicks {
		if err := sess.transport.Send(BuildMUCJoin(sess.from, room, nick)); err != nil {
			sess.transport.Close()
			return err
		}
		log.Info("joining room", "room", room, "nick", nick)
	}

	e.emit(Connected{JID: sess.localJID})

	readErr := make(chan error, 1)
	go func() { readErr <- e.readLoop(sess) }()

	keepalive := time.NewTicker(sess.transport.KeepaliveInterval / 2)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			e.flush(sess)
			sess.transport.Close()
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			sess.transport.Close()
			return err
		case <-keepalive.C:
			if err := sess.transport.Keepalive(); err != nil {
				sess.transport.Close()
				<-readErr
				return err
			}
		case cmd := <-e.cmds:
			metricStanzasOut.Inc()
			if err := sess.transport.Send(cmd.encode(sess.from)); err != nil {
				sess.transport.Close()
				<-readErr
				return err
			}
		}
	}
}

// flush drains queued outbound stanzas on shutdown, bounded by a short
// grace window.
func (e *Engine) flush(sess *session) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case cmd := <-e.cmds:
			if err := sess.transport.Send(cmd.encode(sess.from)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readLoop pumps stanzas until the stream dies or a stanza surfaces a
// fatal condition of its own (an exhausted room join).
func (e *Engine) readLoop(sess *session) error {
	for {
		node, err := sess.transport.NextStanza()
		if err != nil {
			return err
		}
		metricStanzasIn.Inc()
		if err := e.dispatch(sess, node); err != nil {
			return err
		}
	}
}

// dispatch routes one parsed stanza through the inbound pipeline.
func (e *Engine) dispatch(sess *session, node *Node) error {
	log := e.opts.logger()
	switch node.XMLName.Local {
	case "message":
		if ev, ok := e.finalizeMessage(node); ok {
			e.emit(ev)
		}
	case "presence":
		return e.handlePresence(sess, ParsePresence(node), node)
	case "iq":
		iq := ParseIQ(node)
		switch {
		case iq.IsPing():
			e.SendRaw(BuildPingResult(sess.from, iq.From, iq.ID))
		case iq.Type == "get" || iq.Type == "set":
			e.emit(IQRequest{From: iq.From, ID: iq.ID, Kind: iq.Type, Payload: iq.Payload})
			e.SendRaw(BuildIQError(sess.from, iq.From, iq.ID))
		default:
			log.Debug("ignoring iq", "type", iq.Type, "from", iq.From)
		}
	default:
		log.Debug("ignoring stanza", "name", node.XMLName.Local)
	}
	return nil
}

// finalizeMessage applies the inbound pipeline: decode, normalize, drop
// filters, typed event production.
func (e *Engine) finalizeMessage(node *Node) (Event, bool) {
	log := e.opts.logger()
	msg := ParseMessage(node)
	if msg.From == "" || msg.IsError() {
		metricDrops.Inc()
		return nil, false
	}

	if msg.Type == TypeGroupChat {
		room := Bare(msg.From)
		opts := e.opts.FindRoom(room)
		if opts == nil {
			metricDrops.Inc()
			log.Debug("dropping groupchat from unconfigured room", "room", room)
			return nil, false
		}
		nick := e.roomNicks[room]
		sender := ResourceOf(msg.From)
		if sender == "" || sender == nick {
			// Reflection of our own transmission.
			metricDrops.Inc()
			return nil, false
		}
		if msg.IsChatStateOnly() {
			return ChatStateOnly{From: msg.From, State: msg.ChatState}, true
		}
		if msg.Body == "" && len(msg.OOB) == 0 && msg.Reaction == nil {
			metricDrops.Inc()
			return nil, false
		}
		return GroupMessage{
			Room:       room,
			SenderNick: sender,
			ID:         msg.ID,
			Body:       msg.Body,
			OOB:        msg.OOB,
			Reaction:   msg.Reaction,
			IsMention:  IsMention(msg.Body, nick, opts.MentionPatterns),
		}, true
	}

	// Direct message path.
	if !e.opts.JIDAllowed(msg.From) {
		metricDrops.Inc()
		log.Warn("dropping message from disallowed sender", "from", Bare(msg.From))
		return nil, false
	}
	if msg.IsChatStateOnly() {
		return ChatStateOnly{From: msg.From, State: msg.ChatState}, true
	}
	if msg.Body == "" && len(msg.OOB) == 0 && msg.Reaction == nil {
		metricDrops.Inc()
		return nil, false
	}
	return DirectMessage{
		FromFull: msg.From,
		FromBare: Bare(msg.From),
		ID:       msg.ID,
		Body:     msg.Body,
		OOB:      msg.OOB,
		Reaction: msg.Reaction,
	}, true
}

// handlePresence runs the subscription state machine and the MUC nick
// collision retry. The returned error is non-nil only for the fatal
// exhausted-rejoin case and tears the session down.
func (e *Engine) handlePresence(sess *session, pres *Presence, node *Node) error {
	log := e.opts.logger()
	bare := Bare(pres.From)

	switch pres.Kind {
	case PresenceSubscribe:
		if e.opts.JIDAllowed(pres.From) {
			log.Info("auto-accepting subscription", "from", bare)
			e.SendRaw(BuildPresenceSubscribed(bare))
			e.emit(SubscriptionRequest{FromBare: bare})
		} else {
			log.Warn("ignoring subscription request", "from", bare)
		}
	case PresenceError:
		handled, err := e.retryNickConflict(sess, bare, node)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		e.emit(PresenceEvent{From: pres.From, Kind: pres.Kind})
	default:
		e.emit(PresenceEvent{From: pres.From, Kind: pres.Kind})
	}
	return nil
}

// retryNickConflict handles a MUC join bounce: on <conflict/> it rejoins
// with a suffixed nick, a bounded number of times. Past the bound it
// returns a RoomJoinError, which IsRetryable rejects — every candidate
// nick is taken and rejoining after a reconnect would bounce the same
// way, so the failure goes to the operator.
func (e *Engine) retryNickConflict(sess *session, room string, node *Node) (bool, error) {
	opts := e.opts.FindRoom(room)
	if opts == nil {
		return false, nil
	}
	errEl := node.Child("error")
	if errEl == nil || errEl.Child("conflict") == nil {
		return false, nil
	}
	e.nickAttempts[room]++
	attempt := e.nickAttempts[room]
	log := e.opts.logger()
	if attempt > maxNickRetries {
		log.Error("giving up on room after nick conflicts", "room", room, "attempts", attempt)
		return true, &RoomJoinError{Room: room, Attempts: attempt}
	}
	retry := fmt.Sprintf("%s-%d", opts.Nick, attempt)
	e.roomNicks[room] = retry
	log.Warn("nick conflict, rejoining with suffix", "room", room, "nick", retry)
	e.SendRaw(BuildMUCJoin(sess.from, room, retry))
	return true, nil
}

// RoomNick returns the effective nick for a room (post collision retry).
func (e *Engine) RoomNick(room string) string { return e.roomNicks[room] }

// PendingOutbound drains and encodes the queued outbound stanzas
// without a live session. During normal operation the serving writer
// consumes the queue itself; this accessor exists for diagnostics and
// tests. Component-mode from stamping only applies on a live session.
func (e *Engine) PendingOutbound() []string {
	var out []string
	for {
		select {
		case cmd := <-e.cmds:
			out = append(out, cmd.encode(""))
		default:
			return out
		}
	}
}

// LocalJID returns the bound local address of the current session.
func (e *Engine) LocalJID() string { return e.localJID }

func (e *Engine) emit(ev Event) {
	e.events <- ev
}

// IsMention reports whether a group message addresses the given nick.
// Checks are case-insensitive: leading "{nick}:" or "@{nick}", an inline
// " @{nick}" or " {nick}:", an extra configured pattern, or a whole-word
// occurrence of the nick.
func IsMention(body, nick string, patterns []string) bool {
	if body == "" || nick == "" {
		return false
	}
	lower := strings.ToLower(body)
	ln := strings.ToLower(nick)

	if strings.HasPrefix(lower, ln+":") || strings.HasPrefix(lower, "@"+ln) {
		return true
	}
	if strings.Contains(lower, " @"+ln) || strings.Contains(lower, " "+ln+":") {
		return true
	}
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return containsWord(lower, ln)
}

// containsWord reports a whole-word, case-folded occurrence of w in s.
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		beforeOK := start == 0 || isWordBoundary(s[start-1])
		afterOK := end == len(s) || isWordBoundary(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordBoundary(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '-':
		return false
	}
	return true
}
