// ABOUTME: Immutable engine state handed to renderers
// ABOUTME: Each snapshot carries a deep copy of the document so readers never race the update loop

package engine

import "github.com/2389/coven-chat/internal/document"

// Snapshot is a point-in-time view of the engine. Consumers own it.
type Snapshot struct {
	Version  uint64             `json:"version"`
	ThreadID string             `json:"threadId"`
	Document *document.Document `json:"document"`
	// Streaming is set while the newest turn is open.
	Streaming bool `json:"streaming"`
	// Connected is set while at least one live stream is attached.
	Connected bool `json:"connected"`
	// OpenTask is the task key whose transcript the user is viewing.
	OpenTask   string         `json:"openTask,omitempty"`
	Interrupts InterruptState `json:"interrupts"`
	// Err is the last error surfaced to the user, cleared by the next turn.
	Err string `json:"error,omitempty"`
}

// InterruptState summarizes the decision batch in progress.
type InterruptState struct {
	State            string   `json:"state"`
	Awaiting         []string `json:"awaiting,omitempty"`
	AwaitingFeedback bool     `json:"awaitingFeedback,omitempty"`
}
