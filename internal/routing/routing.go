// Package routing connects admitted mailbox messages to the Moltbot
// host runtime: resolving an agent route and session for a sender and
// dispatching message content to the agent.
package routing

import "context"

// Route identifies the agent conversation a sender maps to.
type Route struct {
	SessionKey string `json:"session_key"`
	AgentID    string `json:"agent_id"`
}

// Inbound carries one admitted mailbox message into the host runtime.
type Inbound struct {
	AccountID   string
	Sender      string // bare sender address
	SenderLabel string
	ThreadID    string
	MessageID   string
	Subject     string
	Body        string
	Route       Route
}

// Reply is one chunk of agent output delivered back to the channel.
type Reply struct {
	Text string `json:"text"`
}

// DeliverFunc receives agent replies. It may be invoked zero or more
// times per dispatch. An error it returns feeds the collaborator's
// error path; it never aborts the caller's poll cycle.
type DeliverFunc func(Reply) error

// Router is the host-runtime collaborator contract.
type Router interface {
	// ResolveRoute maps a sender identity to an agent route. The same
	// sender keeps the same session key across polls.
	ResolveRoute(ctx context.Context, accountID, sender string) (Route, error)

	// Dispatch hands the inbound content to the routed agent and feeds
	// every reply chunk to deliver. onError is informational only.
	Dispatch(ctx context.Context, in Inbound, deliver DeliverFunc, onError func(error)) error
}
