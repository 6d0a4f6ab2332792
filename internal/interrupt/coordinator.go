// ABOUTME: Interrupt/resume coordinator for human-in-the-loop approval batches
// ABOUTME: Collects one decision per awaited interrupt and yields exactly one resume for the batch

package interrupt

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/2389/coven-chat/internal/document"
)

var (
	// ErrUnknownInterrupt is returned for a decision on an id not awaited.
	ErrUnknownInterrupt = errors.New("interrupt is not awaiting a decision")
	// ErrAlreadyDecided is returned for a second decision on the same id.
	ErrAlreadyDecided = errors.New("interrupt already decided")
	// ErrInvalidDecision is returned when the decision does not fit the kind.
	ErrInvalidDecision = errors.New("decision does not apply to interrupt kind")
	// ErrNoFeedbackPending is returned by CaptureFeedback outside feedback capture.
	ErrNoFeedbackPending = errors.New("no rejection awaiting feedback")
)

// DecisionType is the user's response to one interrupt.
type DecisionType string

const (
	Approve DecisionType = "approve"
	Reject  DecisionType = "reject"
	Answer  DecisionType = "answer"
	Skip    DecisionType = "skip"
)

// Decision is one collected response.
type Decision struct {
	Type     DecisionType `json:"type"`
	Answer   string       `json:"answer,omitempty"`
	Feedback string       `json:"feedback,omitempty"`
}

// Resume is the batched resume request for every awaited interrupt.
type Resume struct {
	Decisions map[string]Decision
}

// State is the coordinator's position in the pause/resume cycle.
type State int

const (
	StateNone State = iota
	StatePending
	StateAwaitingFeedback
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePending:
		return "pending"
	case StateAwaitingFeedback:
		return "awaiting_feedback"
	default:
		return "unknown"
	}
}

// Coordinator tracks the awaiting set and collected decisions.
type Coordinator struct {
	logger *slog.Logger

	records     map[string]*document.Interrupt
	awaiting    map[string]bool
	collected   map[string]Decision
	feedbackFor string
}

// New creates an idle coordinator.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:    logger.With("component", "interrupt"),
		records:   make(map[string]*document.Interrupt),
		awaiting:  make(map[string]bool),
		collected: make(map[string]Decision),
	}
}

// Register adds a whole batch to the awaiting set and marks each record
// interactive. Already resolved records are skipped.
func (c *Coordinator) Register(batch []*document.Interrupt) {
	for _, in := range batch {
		if in.Status.Resolved() {
			continue
		}
		in.Interactive = true
		c.records[in.ID] = in
		c.awaiting[in.ID] = true
	}
	if len(batch) > 0 {
		c.logger.Debug("interrupts registered", "awaiting", len(c.awaiting))
	}
}

// State reports where the coordinator is in the cycle.
func (c *Coordinator) State() State {
	switch {
	case c.feedbackFor != "":
		return StateAwaitingFeedback
	case len(c.awaiting) > 0:
		return StatePending
	default:
		return StateNone
	}
}

// Awaiting returns the sorted ids still in the batch.
func (c *Coordinator) Awaiting() []string {
	return slices.Sorted(maps.Keys(c.awaiting))
}

// Collected returns a copy of the decisions gathered so far.
func (c *Coordinator) Collected() map[string]Decision {
	return maps.Clone(c.collected)
}

// Approve accepts a plan or workspace proposal.
func (c *Coordinator) Approve(id string) (*Resume, error) {
	in, err := c.decidable(id)
	if err != nil {
		return nil, err
	}
	if in.Kind != document.KindPlanApproval && in.Kind != document.KindCreateWorkspace {
		return nil, fmt.Errorf("approve %s: %w", in.Kind, ErrInvalidDecision)
	}
	in.Resolve(document.StatusApproved)
	return c.collect(id, Decision{Type: Approve})
}

// Reject declines a plan or workspace proposal. Rejecting a plan without
// feedback arms feedback capture: the decision is collected when the next
// user message arrives through CaptureFeedback.
func (c *Coordinator) Reject(id, feedback string) (*Resume, error) {
	in, err := c.decidable(id)
	if err != nil {
		return nil, err
	}
	if in.Kind != document.KindPlanApproval && in.Kind != document.KindCreateWorkspace {
		return nil, fmt.Errorf("reject %s: %w", in.Kind, ErrInvalidDecision)
	}
	in.Resolve(document.StatusRejected)
	if in.Kind == document.KindPlanApproval && feedback == "" {
		c.feedbackFor = id
		c.logger.Debug("awaiting rejection feedback", "interrupt", id)
		return nil, nil
	}
	in.Feedback = feedback
	return c.collect(id, Decision{Type: Reject, Feedback: feedback})
}

// Answer replies to a question interrupt.
func (c *Coordinator) Answer(id, text string) (*Resume, error) {
	in, err := c.decidable(id)
	if err != nil {
		return nil, err
	}
	if !in.Kind.IsQuestion() {
		return nil, fmt.Errorf("answer %s: %w", in.Kind, ErrInvalidDecision)
	}
	in.Resolve(document.StatusAnswered)
	in.Answer = text
	return c.collect(id, Decision{Type: Answer, Answer: text})
}

// Skip dismisses a question or workspace proposal without an answer.
func (c *Coordinator) Skip(id string) (*Resume, error) {
	in, err := c.decidable(id)
	if err != nil {
		return nil, err
	}
	if in.Kind == document.KindPlanApproval {
		return nil, fmt.Errorf("skip %s: %w", in.Kind, ErrInvalidDecision)
	}
	in.Resolve(document.StatusSkipped)
	return c.collect(id, Decision{Type: Skip})
}

// AwaitingFeedback reports whether the next user message is rejection feedback.
func (c *Coordinator) AwaitingFeedback() bool {
	return c.feedbackFor != ""
}

// CaptureFeedback stores text as the feedback of the armed rejection.
func (c *Coordinator) CaptureFeedback(text string) (*Resume, error) {
	id := c.feedbackFor
	if id == "" {
		return nil, ErrNoFeedbackPending
	}
	c.feedbackFor = ""
	if in := c.records[id]; in != nil {
		in.Feedback = text
	}
	return c.collect(id, Decision{Type: Reject, Feedback: text})
}

// Forget drops ids resolved elsewhere, such as by events replayed from a
// live buffer. Decisions already collected for them are discarded too.
// When the ids left in the batch are all decided, the batch resume is
// returned.
func (c *Coordinator) Forget(ids ...string) *Resume {
	for _, id := range ids {
		delete(c.awaiting, id)
		delete(c.collected, id)
		delete(c.records, id)
		if c.feedbackFor == id {
			c.feedbackFor = ""
		}
	}
	if len(c.collected) == 0 || c.feedbackFor != "" {
		return nil
	}
	for awaited := range c.awaiting {
		if _, ok := c.collected[awaited]; !ok {
			return nil
		}
	}
	return c.release()
}

// Reset clears every set without issuing a resume.
func (c *Coordinator) Reset() {
	clear(c.records)
	clear(c.awaiting)
	clear(c.collected)
	c.feedbackFor = ""
}

func (c *Coordinator) decidable(id string) (*document.Interrupt, error) {
	if !c.awaiting[id] {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownInterrupt)
	}
	if _, done := c.collected[id]; done || c.feedbackFor == id {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyDecided)
	}
	return c.records[id], nil
}

// collect stores a decision and, once every awaited id is decided, returns
// the batch resume and clears both sets.
func (c *Coordinator) collect(id string, d Decision) (*Resume, error) {
	c.collected[id] = d
	for awaited := range c.awaiting {
		if _, ok := c.collected[awaited]; !ok {
			return nil, nil
		}
	}
	if c.feedbackFor != "" {
		return nil, nil
	}

	return c.release(), nil
}

// release hands out the collected decisions and clears every set.
func (c *Coordinator) release() *Resume {
	r := &Resume{Decisions: maps.Clone(c.collected)}
	clear(c.awaiting)
	clear(c.collected)
	clear(c.records)
	c.logger.Debug("batch complete", "decisions", len(r.Decisions))
	return r
}
