package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/recallkit/recall/internal/provider"
)

// ScriptedCompleter is a provider.Completer whose responses are set up
// front. It records every request and counts calls, which lets tests
// assert that the prompt cache kept a request from going out.
type ScriptedCompleter struct {
	// ProviderName defaults to "scripted" when empty.
	ProviderName string

	// Responses maps the last user-message content to a canned reply.
	// Unscripted prompts fall back to Default; with no Default either,
	// Complete fails.
	Responses map[string]string
	Default   string

	// Fail, when set, makes every Complete return this error.
	Fail error

	mu       sync.Mutex
	requests []*provider.Request
	warmed   [][]string
}

// Name implements provider.Completer.
func (s *ScriptedCompleter) Name() string {
	if s.ProviderName == "" {
		return "scripted"
	}
	return s.ProviderName
}

// Complete implements provider.Completer.
func (s *ScriptedCompleter) Complete(_ context.Context, req *provider.Request) (*provider.Completion, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.Fail != nil {
		return nil, s.Fail
	}

	prompt := lastUserMessage(req)
	content, ok := s.Responses[prompt]
	if !ok {
		if s.Default == "" {
			return nil, fmt.Errorf("no scripted response for %q", prompt)
		}
		content = s.Default
	}
	return &provider.Completion{
		Content: content,
		Model:   req.Model,
		Usage: provider.Usage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(content) / 4,
		},
	}, nil
}

// WarmCache implements provider.Completer.
func (s *ScriptedCompleter) WarmCache(_ context.Context, prompts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warmed = append(s.warmed, prompts)
	return nil
}

// Calls returns how many Complete requests were received.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Warmed returns the prompt batches passed to WarmCache.
func (s *ScriptedCompleter) Warmed() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.warmed))
	copy(out, s.warmed)
	return out
}

func lastUserMessage(req *provider.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	if len(req.Messages) > 0 {
		return req.Messages[len(req.Messages)-1].Content
	}
	return ""
}
