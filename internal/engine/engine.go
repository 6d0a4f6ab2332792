// ABOUTME: Single-goroutine conversation engine: history attach, live stream merge and snapshot fan-out
// ABOUTME: All document mutation happens in Run; subscriptions and callers talk to it through one inbox

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/interrupt"
	"github.com/2389/coven-chat/internal/reconnect"
	"github.com/2389/coven-chat/internal/replay"
	"github.com/2389/coven-chat/internal/thread"
	"github.com/2389/coven-chat/internal/transport"
)

var (
	// ErrNoThread is returned by New without a thread id.
	ErrNoThread = errors.New("thread id is required")
	// ErrNotRunning is returned by callbacks after Run has exited.
	ErrNotRunning = errors.New("engine is not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrOffline is returned by callbacks that need a gateway collaborator
	// the engine was built without.
	ErrOffline = errors.New("engine has no gateway connection")
	// ErrUnknownTask is returned by OpenTask for a key not in the document.
	ErrUnknownTask = errors.New("unknown task")
)

// Transport opens live event streams. source is reconnect.MainSource or a
// task key; cursor is the last event id already applied.
type Transport interface {
	Subscribe(ctx context.Context, threadID, source, cursor string) (event.Stream, error)
}

// Sender submits a user message and returns its response stream.
type Sender interface {
	Send(ctx context.Context, threadID, content, idempotencyKey string) (event.Stream, error)
}

// ResumeSink delivers a completed decision batch and returns the
// continuation stream.
type ResumeSink interface {
	Resolve(ctx context.Context, threadID string, resume *interrupt.Resume) (event.Stream, error)
}

// Recorder persists live envelopes as they are applied.
type Recorder interface {
	Record(ctx context.Context, threadID string, env *event.Envelope) error
}

// Config wires an engine to its collaborators. Every collaborator is
// optional; a nil History starts from an empty document and a nil Status
// attaches offline.
type Config struct {
	ThreadID   string
	Thread     thread.Options
	Reconnect  reconnect.Options
	DedupeSize int

	Transport Transport
	History   replay.HistorySource
	Status    reconnect.StatusQuery
	Sender    Sender
	Resume    ResumeSink
	Recorder  Recorder

	Broadcaster *Broadcaster
	Logger      *slog.Logger
}

// Engine owns one thread's document. Run must be running for callbacks to
// take effect; Snapshot and Subscribe are safe from any goroutine.
type Engine struct {
	cfg    Config
	th     *thread.Thread
	hitl   *interrupt.Coordinator
	recon  *reconnect.Controller
	seen   *dedupe.Window
	bc     *Broadcaster
	ownBC  bool
	logger *slog.Logger

	inbox   chan any
	done    chan struct{}
	started atomic.Bool
	ctx     context.Context

	subs     map[string]*subscription
	openTask string
	lastErr  error
	version  uint64
	snap     atomic.Pointer[Snapshot]
}

// New creates an engine for cfg.ThreadID.
func New(cfg Config) (*Engine, error) {
	if cfg.ThreadID == "" {
		return nil, ErrNoThread
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Thread.Logger == nil {
		cfg.Thread.Logger = logger
	}
	if cfg.Reconnect.Logger == nil {
		cfg.Reconnect.Logger = logger
	}
	if cfg.Reconnect.Unavailable == nil {
		cfg.Reconnect.Unavailable = func(err error) bool {
			return errors.Is(err, transport.ErrWorkflowUnavailable)
		}
	}
	bc := cfg.Broadcaster
	if bc == nil {
		bc = NewBroadcaster(logger)
	}

	e := &Engine{
		cfg:    cfg,
		th:     thread.New(cfg.ThreadID, cfg.Thread),
		hitl:   interrupt.New(logger),
		seen:   dedupe.New(cfg.DedupeSize),
		bc:     bc,
		ownBC:  cfg.Broadcaster == nil,
		logger: logger.With("component", "engine", "thread_id", cfg.ThreadID),
		inbox:  make(chan any, 256),
		done:   make(chan struct{}),
		subs:   make(map[string]*subscription),
	}
	if cfg.Status != nil {
		e.recon = reconnect.New(cfg.Status, cfg.Reconnect)
	}
	e.snap.Store(e.snapshot())
	return e, nil
}

// Run attaches to the thread and processes frames and callbacks until ctx
// is cancelled. Attach failures other than a missing history are returned.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)
	if e.ownBC {
		// Subscribers see their channel close once the final snapshot is out.
		defer e.bc.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = ctx

	if err := e.attach(ctx); err != nil {
		e.closeAll()
		return err
	}
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			e.publish()
			return nil
		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Subscribe streams every snapshot published after the call until ctx is
// cancelled.
func (e *Engine) Subscribe(ctx context.Context) (<-chan *Snapshot, string) {
	return e.bc.Subscribe(ctx, e.cfg.ThreadID)
}

// attach replays history, then follows the reconnection plan.
func (e *Engine) attach(ctx context.Context) error {
	var res replay.Result
	if e.cfg.History != nil {
		var err error
		res, err = replay.New(e.th, e.seen, e.logger).Run(ctx, e.cfg.History, e.cfg.ThreadID)
		switch {
		case errors.Is(err, transport.ErrHistoryNotFound):
			e.logger.Debug("no history, starting new thread")
		case err != nil:
			return fmt.Errorf("replay history: %w", err)
		default:
			e.logger.Info("history replayed",
				"events", res.Events,
				"unresolved", len(res.Unresolved),
				"complete", res.Complete)
		}
	}

	if e.recon == nil || e.cfg.Transport == nil {
		e.th.Finalize()
		e.register(res.Unresolved)
		return nil
	}

	plan, err := e.recon.Plan(ctx, e.cfg.ThreadID, res.Unresolved)
	if err != nil {
		e.logger.Warn("status unavailable, attaching without live streams", "error", err)
		plan = reconnect.Plan{Interactive: res.Unresolved}
	}
	if !plan.Resumable {
		e.th.Finalize()
		e.register(plan.Interactive)
		return nil
	}

	for _, source := range plan.Sources {
		stream, err := e.cfg.Transport.Subscribe(ctx, e.cfg.ThreadID, source, e.seen.Last())
		if err != nil {
			e.logger.Warn("subscribe failed", "source", source, "error", err)
			continue
		}
		e.addStream(source, stream)
	}
	if len(e.subs) == 0 {
		e.th.Finalize()
		e.register(plan.AwaitBuffer)
	}
	return nil
}

func (e *Engine) handle(msg any) {
	switch m := msg.(type) {
	case frame:
		e.frame(m)
	case ended:
		e.ended(m)
	case retried:
		e.retried(m)
	case command:
		err := m.fn()
		e.publish()
		m.reply <- err
		return
	}
	e.publish()
}

// frame applies one envelope from a live subscription.
func (e *Engine) frame(m frame) {
	if !m.sub.current(m.stream) {
		return
	}
	if m.err != nil {
		e.logger.Debug("skipping malformed frame", "source", m.sub.source, "error", m.err)
		return
	}
	env := m.env
	if env.EventID != "" && e.seen.Seen(env.EventID) {
		e.logger.Debug("skipping duplicate frame", "event_id", env.EventID)
		return
	}
	if m.sub.source != reconnect.MainSource && env.Agent == "" {
		env.Agent = e.th.Markers().Task + m.sub.source
	}
	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.Record(e.ctx, e.cfg.ThreadID, env); err != nil {
			e.logger.Warn("record envelope failed", "error", err)
		}
	}
	e.apply(env)
}

func (e *Engine) apply(env *event.Envelope) {
	ev, err := event.Parse(env)
	if err != nil {
		e.logger.Debug("skipping malformed event", "error", err)
		return
	}
	if n, ok := ev.Payload.(event.ErrorNotice); ok && transport.IsRateLimitCode(n.Code) {
		e.abort(n.Message)
		e.lastErr = &transport.RateLimitedError{Kind: n.Code, Detail: n.Message}
	}

	out, err := e.th.Apply(ev)
	if err != nil {
		e.logger.Debug("skipping unapplicable event", "event", env.Event, "error", err)
		return
	}

	if len(out.Effect.Interrupts) > 0 {
		e.register(out.Effect.Interrupts)
	}
	if len(out.Resolved) > 0 {
		ids := make([]string, 0, len(out.Resolved))
		for _, in := range out.Resolved {
			ids = append(ids, in.ID)
		}
		if r := e.hitl.Forget(ids...); r != nil {
			go e.release(r)
		}
	}
	if out.TurnStarted != nil {
		e.teardown(out.TurnStarted.Index)
	}
	if out.TurnClosed {
		if cur := e.th.Document().CurrentTurn(); cur != nil {
			e.teardown(cur.Index + 1)
		}
	}
	if out.Task != nil && out.TaskAction == event.TaskCompleted {
		e.closeSource(out.Task.Key)
	}
	if out.Error != nil && e.lastErr == nil {
		e.lastErr = errors.New(out.Error.Message)
	}
}

// register puts a batch in front of the user. From here on only the user's
// decisions settle it.
func (e *Engine) register(batch []*document.Interrupt) {
	e.hitl.Register(batch)
	e.th.Claim(batch...)
}

// abort fails the turn on a rate limit. Its interrupts can no longer be
// resumed, so the pending batch is discarded.
func (e *Engine) abort(detail string) {
	e.th.AbortTurn(detail)
	e.hitl.Reset()
}

// release delivers a batch completed by interrupts resolved in the stream.
func (e *Engine) release(r *interrupt.Resume) {
	if err := e.resolve(e.ctx, r); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("releasing decided batch failed", "error", err)
	}
}

func (e *Engine) publish() {
	snap := e.snapshot()
	e.snap.Store(snap)
	e.bc.Publish(e.cfg.ThreadID, snap)
}

func (e *Engine) snapshot() *Snapshot {
	e.version++
	snap := &Snapshot{
		Version:   e.version,
		ThreadID:  e.cfg.ThreadID,
		Document:  e.th.Document().Clone(),
		Streaming: e.th.IsOpen(),
		Connected: len(e.subs) > 0,
		OpenTask:  e.openTask,
		Interrupts: InterruptState{
			State:            e.hitl.State().String(),
			Awaiting:         e.hitl.Awaiting(),
			AwaitingFeedback: e.hitl.AwaitingFeedback(),
		},
	}
	if e.lastErr != nil {
		snap.Err = e.lastErr.Error()
	}
	return snap
}
