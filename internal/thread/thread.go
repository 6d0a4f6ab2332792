// ABOUTME: Thread state shared by live streaming and history replay
// ABOUTME: Classifies parsed events and dispatches them to the assembler, multiplexer and queue coordinator

package thread

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/2389/coven-chat/internal/assembler"
	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/queue"
	"github.com/2389/coven-chat/internal/subagent"
)

// ErrEmptyMessage is returned by BeginTurn for empty content.
var ErrEmptyMessage = errors.New("empty message")

// Options configures a Thread.
type Options struct {
	Assembler assembler.Config
	Markers   event.Markers
	Phrases   Phrases
	Logger    *slog.Logger
}

// DefaultOptions returns the gateway conventions.
func DefaultOptions() Options {
	return Options{
		Assembler: assembler.DefaultConfig(),
		Markers:   event.DefaultMarkers(),
		Phrases:   DefaultPhrases(),
	}
}

// withDefaults fills zero-valued sections from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Assembler == (assembler.Config{}) {
		o.Assembler = def.Assembler
	}
	if o.Markers == (event.Markers{}) {
		o.Markers = def.Markers
	}
	p := o.Phrases
	if len(p.Answered)+len(p.Skipped)+len(p.Approved)+len(p.Rejected) == 0 {
		o.Phrases = def.Phrases
	}
	return o
}

// Outcome reports what an applied event did, for callers that react to
// turn, task and interrupt transitions.
type Outcome struct {
	Class       event.Class
	TaskKey     string
	Effect      assembler.Effect
	Task        *document.SubagentTask
	TaskAction  event.TaskAction
	TurnStarted *document.Turn
	TurnClosed  bool
	Queued      *document.Message
	Injected    *document.Turn
	Resolved    []*document.Interrupt
	Error       *event.ErrorNotice
	ReplayDone  bool
	Dropped     bool
}

// Thread owns the document of one conversation and the main-stream
// assembly context. It is not safe for concurrent use.
type Thread struct {
	doc     *document.Document
	asm     *assembler.Assembler
	mux     *subagent.Multiplexer
	queue   *queue.Coordinator
	markers event.Markers
	logger  *slog.Logger

	main     *assembler.TaskContext
	echoes   []string
	resolver resolver
}

// New creates an empty thread.
func New(threadID string, opts Options) *Thread {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	doc := document.New(threadID)
	asm := assembler.New(doc, opts.Assembler, logger)
	t := &Thread{
		doc:      doc,
		asm:      asm,
		mux:      subagent.New(doc, asm, opts.Markers, logger),
		markers:  opts.Markers,
		logger:   logger.With("component", "thread", "thread_id", threadID),
		resolver: resolver{phrases: opts.Phrases},
	}
	t.queue = queue.New(t, logger)
	return t
}

// Document returns the live document. Callers outside the owning goroutine
// must use Document().Clone().
func (t *Thread) Document() *document.Document {
	return t.doc
}

// Markers returns the agent markers used for classification.
func (t *Thread) Markers() event.Markers {
	return t.markers
}

// Multiplexer returns the subagent multiplexer.
func (t *Thread) Multiplexer() *subagent.Multiplexer {
	return t.mux
}

// Queue returns the message queue coordinator.
func (t *Thread) Queue() *queue.Coordinator {
	return t.queue
}

// IsOpen reports whether the newest turn is still open.
func (t *Thread) IsOpen() bool {
	cur := t.doc.CurrentTurn()
	return cur != nil && cur.Open
}

// Main returns the open turn's assembly context, or nil when no turn is open.
func (t *Thread) Main() *assembler.TaskContext {
	if !t.IsOpen() {
		return nil
	}
	return t.main
}

// BeginTurn accepts a user message and opens a turn for it. Empty content
// never opens a turn.
func (t *Thread) BeginTurn(content string) (*document.Turn, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	user := document.NewTextMessage(t.doc.NextID(document.PrefixMessage), document.RoleUser, content)
	return t.OpenTurnWith(user), nil
}

// OpenTurnWith closes the current turn and opens a new one. A nil user
// message opens an assistant-only turn.
func (t *Thread) OpenTurnWith(user *document.Message) *document.Turn {
	t.closeTurn()
	asst := t.doc.NewMessage(document.RoleAssistant)
	asst.Streaming = true

	var turn *document.Turn
	if user != nil {
		turn = t.doc.AppendTurn(user, asst)
	} else {
		turn = t.doc.AppendTurn(asst)
	}
	t.main = assembler.NewTaskContext(asst)
	t.logger.Debug("turn opened", "turn", turn.Index)
	return turn
}

// ExpectEcho registers content the server will echo back as a user_message
// for a message this client already applied locally.
func (t *Thread) ExpectEcho(content string) {
	if content != "" {
		t.echoes = append(t.echoes, content)
	}
}

// CancelEcho withdraws an expectation registered by ExpectEcho, used when
// the message never reached the server.
func (t *Thread) CancelEcho(content string) {
	if i := slices.Index(t.echoes, content); i >= 0 {
		t.echoes = slices.Delete(t.echoes, i, i+1)
	}
}

func (t *Thread) closeTurn() bool {
	cur := t.doc.CurrentTurn()
	if cur == nil || !cur.Open {
		return false
	}
	for _, m := range cur.Messages {
		m.Streaming = false
	}
	cur.Open = false
	return true
}

// Finalize ends the open turn, closing every in-flight entry of its newest
// assistant message. It reports whether a turn was open.
func (t *Thread) Finalize() bool {
	if !t.IsOpen() {
		return false
	}
	if t.main != nil && t.main.Message != nil {
		t.main.Message.Finalize()
	}
	return t.closeTurn()
}

// AbortTurn marks the open turn as failed. An assistant message that
// received no content is removed; one with partial content is kept and
// flagged. The user message carries the error otherwise.
func (t *Thread) AbortTurn(detail string) {
	cur := t.doc.CurrentTurn()
	if cur == nil {
		return
	}
	flagged := false
	cur.Messages = slices.DeleteFunc(cur.Messages, func(m *document.Message) bool {
		return m.Role == document.RoleAssistant && len(m.Segments) == 0
	})
	if asst := cur.Assistant(); asst != nil {
		asst.Finalize()
		asst.Error = true
		asst.ErrorDetail = detail
		flagged = true
	}
	if u := cur.User(); u != nil && !flagged {
		u.Error = true
		u.ErrorDetail = detail
	}
	t.closeTurn()
}

// Apply feeds one parsed event through classification and assembly.
func (t *Thread) Apply(ev *event.Event) (Outcome, error) {
	switch p := ev.Payload.(type) {
	case event.TaskUpdate:
		return t.task(p), nil
	case event.ReplayDone:
		return Outcome{Class: event.Control, ReplayDone: true}, nil
	case event.FileOperation:
		t.logger.Debug("file operation", "operation", p.Operation, "path", p.Path)
		return Outcome{Dropped: true}, nil
	}

	switch event.Classify(ev.Envelope, t.markers) {
	case event.Control:
		return t.control(ev), nil

	case event.SubagentContent:
		key, eff, err := t.mux.Route(ev.Envelope, ev.Payload)
		out := Outcome{Class: event.SubagentContent, TaskKey: key, Effect: eff, Dropped: eff.Dropped}
		if errors.Is(err, subagent.ErrStaleTask) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if len(eff.Interrupts) > 0 {
			t.resolver.track(eff.Interrupts)
		}
		return out, nil
	}

	if u, ok := ev.Payload.(event.UserMessage); ok {
		return t.userMessage(u.Content), nil
	}
	return t.content(ev)
}

func (t *Thread) userMessage(content string) Outcome {
	resolved, consumed := t.resolver.userMessage(content)
	if consumed {
		return Outcome{Resolved: resolved}
	}
	if content == "" {
		return Outcome{Resolved: resolved, Dropped: len(resolved) == 0}
	}
	if len(t.echoes) > 0 && t.echoes[0] == content {
		t.echoes = t.echoes[1:]
		return Outcome{Dropped: true}
	}
	if cur := t.doc.CurrentTurn(); cur != nil && cur.Open {
		if u := cur.User(); u != nil && u.Delivered && u.Content == content {
			// the injected queued message, already placed by the queue
			return Outcome{Dropped: true}
		}
	}
	turn, _ := t.BeginTurn(content)
	return Outcome{TurnStarted: turn}
}

func (t *Thread) content(ev *event.Event) (Outcome, error) {
	p := ev.Payload
	out := Outcome{Class: event.MainContent}

	if _, ok := p.(event.TodoUpdate); ok && ev.Envelope.TurnIndex != nil {
		if tc := t.contextForTurn(*ev.Envelope.TurnIndex); tc != nil {
			eff, err := t.asm.Apply(tc, p)
			out.Effect = eff
			return out, err
		}
	}

	if assembler.OpensContent(p) {
		switch {
		case t.doc.CurrentTurn() == nil || t.main == nil:
			out.TurnStarted = t.OpenTurnWith(nil)
		case !t.IsOpen():
			t.doc.CurrentTurn().Open = true
			t.continuation()
		case !t.main.Message.Streaming:
			t.continuation()
		}
	}
	if t.main == nil {
		out.Dropped = true
		return out, nil
	}

	eff, err := t.asm.Apply(t.main, p)
	if err != nil {
		return out, err
	}
	out.Effect = eff
	out.Dropped = eff.Dropped
	if eff.Finished {
		out.TurnClosed = t.closeTurn()
	}
	t.observe(&out, p)
	return out, nil
}

// observe feeds new interrupts and main-stream tool results to the
// resolver. Subagent results never settle the main conversation's interrupts.
func (t *Thread) observe(out *Outcome, p event.Payload) {
	if len(out.Effect.Interrupts) > 0 {
		t.resolver.track(out.Effect.Interrupts)
	}
	if r, ok := p.(event.ToolResult); ok && out.Effect.Completed != nil {
		out.Resolved = append(out.Resolved, t.resolver.toolResult(r.Content)...)
	}
}

// continuation opens a new assistant message in the current turn, used when
// content resumes after an interrupt or a finish signal.
func (t *Thread) continuation() {
	cur := t.doc.CurrentTurn()
	msg := t.doc.NewMessage(document.RoleAssistant)
	msg.Streaming = true
	cur.Messages = append(cur.Messages, msg)
	t.main.Start(msg)
}

// contextForTurn returns an assembly context positioned after the last
// segment of an earlier turn's assistant message, or nil when the index is
// the current turn or unknown.
func (t *Thread) contextForTurn(index int) *assembler.TaskContext {
	cur := t.doc.CurrentTurn()
	if cur == nil || cur.Index == index {
		return nil
	}
	turn := t.doc.Turn(index)
	if turn == nil {
		return nil
	}
	m := turn.Assistant()
	if m == nil {
		return nil
	}
	tc := assembler.NewTaskContext(m)
	tc.Seq.Seek(m.LastOrder())
	return tc
}

func (t *Thread) task(u event.TaskUpdate) Outcome {
	var task *document.SubagentTask
	switch u.Action {
	case event.TaskSpawned:
		task = t.mux.Spawn(u)
	case event.TaskResumed:
		task = t.mux.Resume(u)
	case event.TaskCompleted:
		task = t.mux.Complete(u)
	}

	toolCallID := u.ToolCallID
	if toolCallID == "" {
		toolCallID = task.ToolCallID
	}
	if ref := t.doc.FindSubagentRef(toolCallID); ref != nil && toolCallID != "" {
		if bound, ok := t.mux.TaskForToolCall(toolCallID); ok && bound == task.Key {
			ref.TaskKey = task.Key
			if ref.Description == "" {
				ref.Description = task.Description
			}
			if ref.Category == "" {
				ref.Category = task.Category
			}
			ref.Status = document.SubagentRunning
			if task.Status == document.TaskCompleted {
				ref.Status = document.SubagentCompleted
			}
		}
	}

	return Outcome{
		Class:      event.MainContent,
		TaskKey:    task.Key,
		Task:       task,
		TaskAction: u.Action,
	}
}

func (t *Thread) control(ev *event.Event) Outcome {
	out := Outcome{Class: event.Control}
	switch p := ev.Payload.(type) {
	case event.TokenUsage:
		t.doc.Usage.InputTokens += p.Usage.InputTokens
		t.doc.Usage.OutputTokens += p.Usage.OutputTokens
		total := p.Usage.TotalTokens
		if total == 0 {
			total = p.Usage.InputTokens + p.Usage.OutputTokens
		}
		t.doc.Usage.TotalTokens += total

	case event.WorkspaceStatus:
		t.doc.WorkspaceStatus = p.Status

	case event.MessageQueued:
		out.Queued = t.queue.Acknowledge(p.Content)

	case event.QueuedMessageInjected:
		turn, err := t.queue.Inject(p.Content)
		if err != nil {
			t.logger.Warn("ignoring injection", "error", err)
			out.Dropped = true
			break
		}
		out.Injected = turn
		out.TurnStarted = turn

	case event.ErrorNotice:
		t.fail(p)
		out.Error = &p
		out.TurnClosed = true

	default:
		out.Dropped = true
	}
	return out
}

// fail records a server error: the open assistant message keeps its partial
// content and is flagged, and a notification message carries the text.
func (t *Thread) fail(n event.ErrorNotice) {
	notice := document.NewTextMessage(t.doc.NextID(document.PrefixMessage), document.RoleNotification, n.Message)
	notice.Error = true
	notice.ErrorDetail = n.Code

	cur := t.doc.CurrentTurn()
	if cur == nil {
		t.doc.Notices = append(t.doc.Notices, notice)
		return
	}
	if t.IsOpen() && t.main != nil && t.main.Message != nil {
		t.main.Message.Finalize()
		t.main.Message.Error = true
		t.main.Message.ErrorDetail = n.Message
	}
	cur.Messages = append(cur.Messages, notice)
	t.closeTurn()
}
