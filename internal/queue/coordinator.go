// ABOUTME: Message queue coordinator for user messages sent while a turn is streaming
// ABOUTME: Records a rollback snapshot at submission and truncates to it when the injection is acknowledged

package queue

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/2389/coven-chat/internal/assembler"
	"github.com/2389/coven-chat/internal/document"
)

var (
	// ErrEmptyMessage is returned when queuing a message with no content.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNoActiveTurn is returned when queuing while no turn is streaming.
	ErrNoActiveTurn = errors.New("no active turn to queue behind")
	// ErrMessageAlreadyQueued is returned when a queued message is still pending.
	ErrMessageAlreadyQueued = errors.New("a message is already queued")
	// ErrNothingQueued is returned when an injection has no message to deliver.
	ErrNothingQueued = errors.New("no queued message")
)

// Turns is the turn lifecycle the coordinator drives.
type Turns interface {
	Document() *document.Document
	// Main returns the open turn's assembly context, or nil.
	Main() *assembler.TaskContext
	// OpenTurnWith closes the current turn and opens a new one whose user
	// message is user and whose assistant message starts at order zero.
	OpenTurnWith(user *document.Message) *document.Turn
}

// Pending is a queued message awaiting injection.
type Pending struct {
	Message      *document.Message
	Target       *document.Message
	Snapshot     int
	Acknowledged bool
}

// Coordinator tracks at most one queued message.
type Coordinator struct {
	turns   Turns
	logger  *slog.Logger
	pending *Pending
}

// New creates a coordinator over turns.
func New(turns Turns, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		turns:  turns,
		logger: logger.With("component", "queue"),
	}
}

// Pending returns the queued message, or nil.
func (c *Coordinator) Pending() *Pending {
	return c.pending
}

// Enqueue appends content as a visually queued message and records the
// open message's last assigned order as the rollback snapshot.
func (c *Coordinator) Enqueue(content string) (*document.Message, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if c.pending != nil {
		return nil, ErrMessageAlreadyQueued
	}
	main := c.turns.Main()
	if main == nil || main.Message == nil {
		return nil, ErrNoActiveTurn
	}
	return c.queue(content, main).Message, nil
}

func (c *Coordinator) queue(content string, main *assembler.TaskContext) *Pending {
	doc := c.turns.Document()
	msg := document.NewTextMessage(doc.NextID(document.PrefixMessage), document.RoleUser, content)
	msg.Queued = true
	doc.Queued = append(doc.Queued, msg)

	p := &Pending{Message: msg, Snapshot: -1}
	if main != nil && main.Message != nil {
		p.Target = main.Message
		p.Snapshot = main.Seq.Last()
	}
	c.pending = p
	c.logger.Debug("message queued", "message", msg.ID, "snapshot", p.Snapshot)
	return p
}

// Acknowledge handles the server's message_queued event. A log replayed
// without a local submission creates the queued message here.
func (c *Coordinator) Acknowledge(content string) *document.Message {
	if c.pending == nil {
		if content == "" {
			return nil
		}
		c.queue(content, c.turns.Main())
	}
	c.pending.Acknowledged = true
	return c.pending.Message
}

// Inject handles queued_message_injected: the pre-injection message keeps
// only segments at or before the snapshot and closes, the queued message is
// delivered, and a new turn opens for subsequent content.
func (c *Coordinator) Inject(content string) (*document.Turn, error) {
	if c.pending == nil {
		if content == "" {
			return nil, ErrNothingQueued
		}
		c.queue(content, c.turns.Main())
	}
	p := c.pending
	c.pending = nil

	if p.Target != nil {
		p.Target.Truncate(p.Snapshot)
		p.Target.Streaming = false
	}
	if main := c.turns.Main(); main != nil && main.Message != nil && main.Message != p.Target {
		// Content after submission landed in a continuation message.
		main.Message.Truncate(-1)
		main.Message.Streaming = false
	}

	doc := c.turns.Document()
	doc.Queued = slices.DeleteFunc(doc.Queued, func(m *document.Message) bool { return m == p.Message })
	p.Message.Queued = false
	p.Message.Delivered = true

	turn := c.turns.OpenTurnWith(p.Message)
	c.logger.Debug("queued message injected", "message", p.Message.ID, "turn", turn.Index, "snapshot", p.Snapshot)
	return turn, nil
}

// Cancel drops the pending message, e.g. after its send failed.
func (c *Coordinator) Cancel() *document.Message {
	if c.pending == nil {
		return nil
	}
	msg := c.pending.Message
	c.pending = nil
	doc := c.turns.Document()
	doc.Queued = slices.DeleteFunc(doc.Queued, func(m *document.Message) bool { return m == msg })
	return msg
}
