// Package transport connects the engine to a coven gateway.
//
// Client speaks the gateway's HTTP thread API. Live subscriptions, history,
// message sends and interrupt resumes all answer with Server-Sent Events,
// decoded by SSEStream into event envelopes; status is plain JSON.
// WebSocketTransport is an alternative for live subscriptions only.
//
// Failures map onto a small taxonomy the engine acts on:
// ErrStreamDisconnected is retried, ErrWorkflowUnavailable is cleaned up
// quietly, ErrHistoryNotFound marks a new thread, and RateLimitedError is
// shown to the user.
//
// Bearer tokens come from COVEN_TOKEN or $XDG_CONFIG_HOME/coven/token.
// InspectToken reads a JWT's expiry locally so an expired token fails
// before any request is made.
package transport
