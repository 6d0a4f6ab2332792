// ABOUTME: Human-in-the-loop interrupt records and their monotonic status machine
// ABOUTME: Resolve only moves a pending interrupt forward; resolved states never regress

package document

import "encoding/json"

// InterruptKind is the type of approval an interrupt asks for.
type InterruptKind string

const (
	KindPlanApproval    InterruptKind = "plan_approval"
	KindUserQuestion    InterruptKind = "user_question"
	KindCreateWorkspace InterruptKind = "create_workspace"
	KindStartQuestion   InterruptKind = "start_question"
)

// Valid reports whether k is a known interrupt kind.
func (k InterruptKind) Valid() bool {
	switch k {
	case KindPlanApproval, KindUserQuestion, KindCreateWorkspace, KindStartQuestion:
		return true
	}
	return false
}

// IsQuestion reports whether the kind is answered with free text.
func (k InterruptKind) IsQuestion() bool {
	return k == KindUserQuestion || k == KindStartQuestion
}

// InterruptStatus is the resolution state of an interrupt.
type InterruptStatus string

const (
	StatusPending  InterruptStatus = "pending"
	StatusApproved InterruptStatus = "approved"
	StatusRejected InterruptStatus = "rejected"
	StatusAnswered InterruptStatus = "answered"
	StatusSkipped  InterruptStatus = "skipped"
)

// Resolved reports whether the status is terminal.
func (s InterruptStatus) Resolved() bool {
	return s != StatusPending && s != ""
}

// Interrupt is one pause point awaiting a human decision.
type Interrupt struct {
	ID          string          `json:"id"`
	Kind        InterruptKind   `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      InterruptStatus `json:"status"`
	Interactive bool            `json:"interactive"`
	Answer      string          `json:"answer,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
}

// Resolve moves a pending interrupt to status. It returns false and leaves
// the record untouched when the interrupt is already resolved or status is
// pending.
func (i *Interrupt) Resolve(status InterruptStatus) bool {
	if i.Status.Resolved() || !status.Resolved() {
		return false
	}
	i.Status = status
	i.Interactive = false
	return true
}
