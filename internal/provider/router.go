package provider

import (
	"context"
	"fmt"

	"github.com/kaiho/agentloop/internal/policy"
)

// Name identifies a backend provider.
type Name string

const (
	NameAnthropic Name = "anthropic"
	NameGrok      Name = "grok"
)

// Router resolves which Client backs a request based on the scheduler's
// purpose and dispatches the call: dev purpose defaults to Anthropic, every
// other purpose defaults to Grok.
type Router struct {
	clients       map[Name]Client
	defaultModels map[Name]string
}

// NewRouter builds an empty Router; clients are added with Register.
func NewRouter() *Router {
	return &Router{
		clients:       make(map[Name]Client),
		defaultModels: make(map[Name]string),
	}
}

// Register wires a concrete Client in under name, along with the model it
// should default to when a request does not specify one.
func (r *Router) Register(name Name, client Client, defaultModel string) {
	r.clients[name] = client
	r.defaultModels[name] = defaultModel
}

// Resolve picks the provider name for a given purpose and an explicit
// override. An empty override defers to the purpose-based default.
func (r *Router) Resolve(purpose policy.Purpose, override Name) Name {
	if override != "" {
		return override
	}
	if purpose == policy.PurposeDev {
		return NameAnthropic
	}
	return NameGrok
}

// Send resolves the provider, synthesizes a placeholder user turn if the
// conversation has no user message yet (some providers reject an all-system
// or all-tool conversation), and dispatches the request.
func (r *Router) Send(ctx context.Context, purpose policy.Purpose, override Name, req Request) (*Response, error) {
	name := r.Resolve(purpose, override)
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider: no client registered for %q", name)
	}
	if req.Model == "" {
		req.Model = r.defaultModels[name]
	}
	req.Messages = withPlaceholderUserTurn(req.Messages)
	return client.Send(ctx, req)
}

// withPlaceholderUserTurn prepends a synthetic user message to the start of
// the conversation when it does not yet contain a user message, so a provider that requires a leading user turn never rejects a
// well-formed but user-message-less request.
func withPlaceholderUserTurn(msgs []Message) []Message {
	for _, m := range msgs {
		if m.Role == "user" {
			return msgs
		}
	}
	placeholder := TextMessage("user", "Hello")
	return append([]Message{placeholder}, msgs...)
}
