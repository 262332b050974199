package hataori

import (
	"context"
	"encoding/json"
)

// ChatMessage is one role-tagged entry of a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatSchema requests structured JSON output from the model.
type ChatSchema struct {
	Name   string
	Schema json.RawMessage
	Strict bool
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	Messages    []ChatMessage
	Schema      *ChatSchema
	Temperature *float32
}

// ChatCompleter submits one completion request and returns the generated
// text. When provided via WithChatCompleter, it replaces the built-in
// OpenAI-compatible transport — use it to plug in another provider or a
// deterministic fake in tests. Implementations must honor ctx cancellation
// and deadlines; the pipeline enforces its per-attempt timeout through ctx.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// ProgressHook receives generation progress events. Hooks registered via
// WithProgressHook observe every run; hooks run on the subscriber goroutine
// and must not block for long — slow hooks cause events to be dropped, not
// the run to stall.
type ProgressHook func(Progress)
