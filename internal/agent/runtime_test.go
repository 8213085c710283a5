package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/processone/fluux-agent/internal/config"
	"github.com/processone/fluux-agent/internal/files"
	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/memory"
	"github.com/processone/fluux-agent/internal/skills"
	"github.com/processone/fluux-agent/internal/xmpp"
)

// failingLLM fails the test if the runtime calls it.
type failingLLM struct{ t *testing.T }

func (f *failingLLM) Description() string { return "stub (never)" }
func (f *failingLLM) Complete(context.Context, string, []llm.Message, []llm.ToolDefinition) (*llm.Response, error) {
	f.t.Error("LLM called for a deterministic command")
	return nil, errors.New("unexpected")
}

func fullRuntime(t *testing.T, client llm.Client) (*Runtime, *xmpp.Engine) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Agent.Name = "Test Agent"
	cfg.Session.HistoryLimit = 20
	opts := &xmpp.Options{
		Mode:        xmpp.ModeClient,
		JID:         "bot@example.com",
		AllowedJIDs: []string{"admin@example.com"},
		Rooms:       []xmpp.RoomOptions{{JID: "lobby@muc.example.com", Nick: "FluuxBot"}},
	}
	engine := xmpp.NewEngine(opts)
	ws, err := memory.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := skills.NewRegistry(nil)
	dl := files.NewDownloader(1, true, nil)
	r, err := New(cfg, opts, engine, client, ws, reg, dl, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return r, engine
}

// drainOutbound collects queued outbound stanzas from the engine.
func drainOutbound(e *xmpp.Engine) []string {
	return e.PendingOutbound()
}

// agePeerHistory backdates a peer's history file mtime.
func agePeerHistory(t *testing.T, ws *memory.Workspace, jid string, age time.Duration) {
	t.Helper()
	path := filepath.Join(ws.BasePath(), jid, "history.jsonl")
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestSlashCommandFlow(t *testing.T) {
	// Spec scenario: "/ping" answers "pong", history records one user
	// and one assistant entry, the LLM is never called.
	r, engine := fullRuntime(t, &failingLLM{t: t})

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: "admin@example.com/mobile",
		FromBare: "admin@example.com",
		ID:       "m1",
		Body:     "/ping",
	})

	stanzas := drainOutbound(engine)
	if len(stanzas) != 1 {
		t.Fatalf("outbound stanzas = %d: %v", len(stanzas), stanzas)
	}
	if !strings.Contains(stanzas[0], "<body>pong</body>") {
		t.Errorf("reply = %s", stanzas[0])
	}
	if !strings.Contains(stanzas[0], "to='admin@example.com/mobile'") {
		t.Errorf("reply target = %s", stanzas[0])
	}

	entries, _ := r.workspace.History("admin@example.com", 0)
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want user + assistant", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Content != "/ping" || entries[0].MsgID != "m1" {
		t.Errorf("user entry = %+v", entries[0])
	}
	if entries[1].Role != "assistant" || entries[1].Content != "pong" {
		t.Errorf("assistant entry = %+v", entries[1])
	}
	if entries[1].MsgID == "" || entries[1].MsgID == "m1" {
		t.Errorf("assistant entry must carry a fresh id, got %q", entries[1].MsgID)
	}
}

func TestLLMTurnFraming(t *testing.T) {
	// A conversational turn sends composing first and bundles <active/>
	// into the final reply.
	stub := &stubLLM{toolRounds: 0, finalText: "hello back"}
	r, engine := fullRuntime(t, stub)

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: "admin@example.com/mobile",
		FromBare: "admin@example.com",
		ID:       "m2",
		Body:     "hello there",
	})

	stanzas := drainOutbound(engine)
	if len(stanzas) != 2 {
		t.Fatalf("outbound stanzas = %d: %v", len(stanzas), stanzas)
	}
	if !strings.Contains(stanzas[0], "<composing ") {
		t.Errorf("first stanza must be composing: %s", stanzas[0])
	}
	if !strings.Contains(stanzas[1], "<body>hello back</body>") || !strings.Contains(stanzas[1], "<active ") {
		t.Errorf("reply stanza = %s", stanzas[1])
	}
}

func TestLLMFailureFraming(t *testing.T) {
	// On LLM failure: <paused/> then a visible "(LLM error: …)" reply.
	stub := &stubLLM{err: errors.New("rate limited")}
	r, engine := fullRuntime(t, stub)

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: "admin@example.com",
		FromBare: "admin@example.com",
		Body:     "hi",
	})

	stanzas := drainOutbound(engine)
	if len(stanzas) != 3 {
		t.Fatalf("outbound stanzas = %d: %v", len(stanzas), stanzas)
	}
	if !strings.Contains(stanzas[1], "<paused ") {
		t.Errorf("paused state missing before error reply: %s", stanzas[1])
	}
	if !strings.Contains(stanzas[2], "(LLM error: rate limited)") {
		t.Errorf("error reply = %s", stanzas[2])
	}
}

func TestGroupMessageStoredWithoutMentionNoReply(t *testing.T) {
	r, engine := fullRuntime(t, &failingLLM{t: t})

	r.handleGroup(context.Background(), xmpp.GroupMessage{
		Room:       "lobby@muc.example.com",
		SenderNick: "alice",
		Body:       "hello world",
		IsMention:  false,
	})

	if stanzas := drainOutbound(engine); len(stanzas) != 0 {
		t.Errorf("non-mention produced output: %v", stanzas)
	}
	entries, _ := r.workspace.History("lobby@muc.example.com", 0)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want stored message", len(entries))
	}
	if entries[0].Sender != "alice@lobby@muc.example.com" {
		t.Errorf("sender label = %q", entries[0].Sender)
	}
}

func TestGroupMentionAnswersIntoRoom(t *testing.T) {
	stub := &stubLLM{toolRounds: 0, finalText: "status is green"}
	r, engine := fullRuntime(t, stub)

	r.handleGroup(context.Background(), xmpp.GroupMessage{
		Room:       "lobby@muc.example.com",
		SenderNick: "alice",
		Body:       "@FluuxBot what is the status?",
		IsMention:  true,
	})

	stanzas := drainOutbound(engine)
	if len(stanzas) != 2 {
		t.Fatalf("stanzas = %d: %v", len(stanzas), stanzas)
	}
	for _, s := range stanzas {
		if !strings.Contains(s, "type='groupchat'") || !strings.Contains(s, "to='lobby@muc.example.com'") {
			t.Errorf("stanza not addressed to the room: %s", s)
		}
	}
}

func TestReactionStoredWithoutLLMTurn(t *testing.T) {
	r, engine := fullRuntime(t, &failingLLM{t: t})

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: "admin@example.com",
		FromBare: "admin@example.com",
		Body:     "",
		Reaction: &xmpp.Reaction{TargetID: "m9", Emojis: []string{"👍"}},
	})

	if stanzas := drainOutbound(engine); len(stanzas) != 0 {
		t.Errorf("bare reaction produced output: %v", stanzas)
	}
	entries, _ := r.workspace.History("admin@example.com", 0)
	if len(entries) != 1 || entries[0].Reaction == nil || entries[0].Content != "" {
		t.Errorf("reaction entry = %+v", entries)
	}
}

func TestOOBAttachmentStoredAsMetadata(t *testing.T) {
	// Fallback-stripped upload: blank body, one OOB URL. The download
	// fails (plain HTTP to a remote host), so the entry degrades to
	// metadata-only; the turn itself is unaffected.
	r, engine := fullRuntime(t, &failingLLM{t: t})

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: "admin@example.com",
		FromBare: "admin@example.com",
		ID:       "m5",
		Body:     "",
		OOB:      []xmpp.OOBData{{URL: "http://files.example.com/x.png"}},
	})

	if stanzas := drainOutbound(engine); len(stanzas) != 0 {
		t.Errorf("attachment-only message produced output: %v", stanzas)
	}
	entries, _ := r.workspace.History("admin@example.com", 0)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Content != "" {
		t.Errorf("content = %q, want blank after fallback strip", e.Content)
	}
	if len(e.Attachments) != 1 || e.Attachments[0].Filename != "x.png" {
		t.Errorf("attachments = %+v", e.Attachments)
	}
}

func TestIdleSessionArchivedBeforeAppend(t *testing.T) {
	stub := &stubLLM{toolRounds: 0, finalText: "fresh start"}
	r, _ := fullRuntime(t, stub)
	r.cfg.Session.IdleTimeoutMins = 60

	jid := "admin@example.com"
	r.workspace.StoreMessage(jid, memory.Entry{Role: "user", Content: "old talk"})
	agePeerHistory(t, r.workspace, jid, 2*time.Hour)

	r.handleDirect(context.Background(), xmpp.DirectMessage{
		FromFull: jid, FromBare: jid, Body: "hello again",
	})

	if r.workspace.SessionCount(jid) != 1 {
		t.Error("idle session not archived on next event")
	}
	entries, _ := r.workspace.History(jid, 0)
	for _, e := range entries {
		if e.Content == "old talk" {
			t.Error("stale entry leaked into the fresh session")
		}
	}
}
