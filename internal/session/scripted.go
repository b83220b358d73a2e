package session

import "context"

// ScriptFunc produces a reply for one call.
type ScriptFunc func(agentID, message string, cfg Config) (*Reply, error)

// ScriptedProvider answers from a fixed function. Used by tests and by
// nodes running without an API key.
type ScriptedProvider struct {
	fn ScriptFunc
}

func NewScriptedProvider(fn ScriptFunc) *ScriptedProvider {
	return &ScriptedProvider{fn: fn}
}

// EchoProvider replies with the last user message verbatim.
func EchoProvider() *ScriptedProvider {
	return NewScriptedProvider(func(_, message string, _ Config) (*Reply, error) {
		return &Reply{Text: message}, nil
	})
}

func (p *ScriptedProvider) Complete(ctx context.Context, cfg Config, history []Message) (*Reply, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			last = history[i].Content
			break
		}
	}
	return p.fn("", last, cfg)
}
