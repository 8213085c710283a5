// Package agent binds peer identities to LLM sessions: it consumes the
// engine's event stream, intercepts slash commands, drives the
// agentic tool-use loop, and emits replies with proper chat-state
// framing.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/processone/fluux-agent/internal/commands"
	"github.com/processone/fluux-agent/internal/config"
	"github.com/processone/fluux-agent/internal/files"
	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/memory"
	"github.com/processone/fluux-agent/internal/skills"
	"github.com/processone/fluux-agent/internal/xmpp"
)

// Runtime consumes the engine's events and produces replies.
type Runtime struct {
	cfg       *config.Config
	opts      *xmpp.Options
	engine    *xmpp.Engine
	llm       llm.Client
	workspace *memory.Workspace
	skills    *skills.Registry
	commands  *commands.Registry
	files     *files.Downloader
	log       *slog.Logger
	startTime time.Time
}

// New wires the runtime together and installs the built-in commands.
func New(cfg *config.Config, opts *xmpp.Options, engine *xmpp.Engine, client llm.Client,
	ws *memory.Workspace, reg *skills.Registry, dl *files.Downloader, log *slog.Logger) (*Runtime, error) {

	if log == nil {
		log = slog.Default()
	}
	r := &Runtime{
		cfg:       cfg,
		opts:      opts,
		engine:    engine,
		llm:       client,
		workspace: ws,
		skills:    reg,
		commands:  commands.NewRegistry(),
		files:     dl,
		log:       log,
		startTime: time.Now(),
	}
	err := commands.RegisterBuiltins(r.commands, &commands.Deps{
		Workspace:       ws,
		AgentName:       cfg.Agent.Name,
		ModeDescription: opts.ModeDescription(),
		LLMDescription:  client.Description(),
		StartTime:       r.startTime,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Run consumes events until the context is cancelled or the event
// channel closes. Events from one peer are processed in arrival order;
// the loop is single-threaded by design, so per-peer ordering holds
// trivially and outbound stanzas leave in production order.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("agent runtime started, waiting for messages")
	events := r.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, ev)
		}
	}
}

func (r *Runtime) handleEvent(ctx context.Context, ev xmpp.Event) {
	switch e := ev.(type) {
	case xmpp.Connected:
		r.log.Info("agent online", "jid", e.JID)
	case xmpp.Disconnected:
		r.log.Warn("connection lost", "error", e.Err)
	case xmpp.DirectMessage:
		r.handleDirect(ctx, e)
	case xmpp.GroupMessage:
		r.handleGroup(ctx, e)
	case xmpp.ChatStateOnly:
		r.log.Debug("chat state", "from", e.From, "state", string(e.State))
	case xmpp.SubscriptionRequest:
		r.log.Info("subscription accepted", "from", e.FromBare)
	case xmpp.PresenceEvent:
		r.log.Debug("presence", "from", e.From, "kind", string(e.Kind))
	case xmpp.IQRequest:
		r.log.Debug("unhandled iq", "from", e.From, "kind", e.Kind)
	}
}

// turn is one inbound conversational event, normalized across direct
// and group chat.
type turn struct {
	// peerJID keys the workspace: the sender's bare JID in 1:1, the
	// room's bare JID in MUC.
	peerJID string
	// replyTo is the stanza destination for responses.
	replyTo string
	// sender labels the user entry: the bare JID in 1:1,
	// "{nick}@{room}" in MUC.
	sender   string
	body     string
	stanzaID string
	mtype    xmpp.MessageType
	oob      []xmpp.OOBData
	reaction *xmpp.Reaction
	// respond is false for stored-but-silent events (group messages
	// without a mention, bare reactions).
	respond bool
}

func (r *Runtime) handleDirect(ctx context.Context, e xmpp.DirectMessage) {
	r.process(ctx, &turn{
		peerJID:  e.FromBare,
		replyTo:  e.FromFull,
		sender:   e.FromBare,
		body:     e.Body,
		stanzaID: e.ID,
		mtype:    xmpp.TypeChat,
		oob:      e.OOB,
		reaction: e.Reaction,
		respond:  e.Body != "",
	})
}

func (r *Runtime) handleGroup(ctx context.Context, e xmpp.GroupMessage) {
	r.process(ctx, &turn{
		peerJID:  e.Room,
		replyTo:  e.Room,
		sender:   e.SenderNick + "@" + e.Room,
		body:     e.Body,
		stanzaID: e.ID,
		mtype:    xmpp.TypeGroupChat,
		oob:      e.OOB,
		reaction: e.Reaction,
		respond:  e.IsMention && e.Body != "",
	})
}

// process runs the full inbound pipeline for one turn: idle-session
// check, attachment downloads, storage, then command dispatch or the
// agentic loop.
func (r *Runtime) process(ctx context.Context, t *turn) {
	metricTurns.Inc()

	idleTimeout := time.Duration(r.cfg.Session.IdleTimeoutMins) * time.Minute
	if _, err := r.workspace.CheckFreshness(t.peerJID, idleTimeout); err != nil {
		r.log.Error("idle-session check failed", "peer", t.peerJID, "error", err)
	}

	attachments := r.downloadAttachments(ctx, t)

	entry := memory.Entry{
		Role:        "user",
		Content:     t.body,
		MsgID:       t.stanzaID,
		Sender:      t.sender,
		Attachments: attachments,
	}
	if t.reaction != nil {
		entry.Reaction = &memory.Reaction{MessageID: t.reaction.TargetID, Emojis: t.reaction.Emojis}
	}
	if err := r.workspace.StoreMessage(t.peerJID, entry); err != nil {
		r.log.Error("history write failed", "peer", t.peerJID, "error", err)
		r.reply(t, "Sorry, I could not persist your message. Please try again.")
		return
	}

	if commands.IsCommand(t.body) {
		r.runCommand(ctx, t)
		return
	}
	if !t.respond {
		return
	}
	r.runTurn(ctx, t)
}

// runCommand answers a slash command synchronously: no LLM call, no
// typing indicator, but the exchange is still recorded.
func (r *Runtime) runCommand(ctx context.Context, t *turn) {
	r.log.Info("slash command", "peer", t.peerJID, "command", t.body)
	reply, err := r.commands.Dispatch(ctx, t.peerJID, t.body)
	if err != nil {
		r.log.Error("command failed", "peer", t.peerJID, "error", err)
		reply = "Command failed: " + err.Error()
	}
	r.reply(t, reply)
}

// runTurn drives one LLM turn with chat-state framing: exactly one
// <composing/> up front, <paused/> before an error reply, and the
// final reply stanza bundling <active/>.
func (r *Runtime) runTurn(ctx context.Context, t *turn) {
	r.engine.SendChatState(t.replyTo, xmpp.StateComposing, t.mtype)

	isRoom := t.mtype == xmpp.TypeGroupChat
	system := buildSystemPrompt(r.workspace, r.cfg.Agent.Name, t.peerJID, time.Now())

	entries, err := r.workspace.History(t.peerJID, r.cfg.Session.HistoryLimit)
	if err != nil {
		r.log.Error("history read failed", "peer", t.peerJID, "error", err)
	}
	// The inbound message is already stored, so the tail of the
	// history is the new user message.
	transcript := historyToMessages(entries, isRoom)

	reply, err := r.runToolLoop(ctx, t.peerJID, system, transcript)
	if err != nil {
		r.log.Error("llm turn failed", "peer", t.peerJID, "error", err)
		r.engine.SendChatState(t.replyTo, xmpp.StatePaused, t.mtype)
		r.engine.SendMessage(t.replyTo, "(LLM error: "+err.Error()+")", t.mtype, uuid.New().String())
		return
	}
	r.reply(t, reply)
}

// reply stores the assistant entry and emits the stanza. Outbound
// assistant messages always carry a fresh UUID stanza id.
func (r *Runtime) reply(t *turn, text string) {
	id := uuid.New().String()
	err := r.workspace.StoreMessage(t.peerJID, memory.Entry{
		Role:    "assistant",
		Content: text,
		MsgID:   id,
	})
	if err != nil {
		r.log.Error("history write failed", "peer", t.peerJID, "error", err)
	}
	r.engine.SendMessage(t.replyTo, text, t.mtype, id)
}

// downloadAttachments fetches each OOB URL into the peer's files
// directory. A failed download degrades to metadata-only: the message
// turn proceeds either way.
func (r *Runtime) downloadAttachments(ctx context.Context, t *turn) []memory.Attachment {
	if len(t.oob) == 0 {
		return nil
	}
	dir, err := r.workspace.FilesDir(t.peerJID)
	if err != nil {
		r.log.Error("files dir unavailable", "peer", t.peerJID, "error", err)
		dir = ""
	}
	var out []memory.Attachment
	for _, oob := range t.oob {
		if dir != "" {
			if dl, err := r.files.Download(ctx, oob.URL, dir); err == nil {
				out = append(out, memory.Attachment{
					Filename: dl.Filename,
					MimeType: dl.MimeType,
					Size:     dl.HumanSize(),
				})
				continue
			} else {
				r.log.Warn("attachment download failed", "url", oob.URL, "error", err)
			}
		}
		out = append(out, attachmentFromURL(oob))
	}
	return out
}

// attachmentFromURL derives best-effort metadata when the content
// itself could not be fetched.
func attachmentFromURL(oob xmpp.OOBData) memory.Attachment {
	name := oob.URL
	if i := lastSlash(name); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "file"
	}
	return memory.Attachment{Filename: name, MimeType: "application/octet-stream", Size: "unknown"}
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
