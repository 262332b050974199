// Package testutil provides shared test infrastructure: a scripted chat
// transport standing in for the model backend, a throwaway SQLite store,
// and a quiet logger.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/storage"
)

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenTestDB opens a fresh SQLite database under the test's temp directory.
// The handle is closed automatically when the test finishes.
func OpenTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), Logger())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Responder produces the reply for one matched request.
type Responder func(req llm.Request) (string, error)

type rule struct {
	match   func(req llm.Request) bool
	respond Responder
}

// ScriptedChat is a deterministic chat transport for tests. Rules are
// checked in registration order; the first match responds. Unmatched
// requests fall through to the fallback, or fail with a descriptive error.
//
// The transport also tracks the number of concurrently executing requests,
// so tests can assert the concurrency ceiling holds.
type ScriptedChat struct {
	mu          sync.Mutex
	rules       []rule
	fallback    Responder
	calls       []llm.Request
	inFlight    int
	maxInFlight int
}

// NewScriptedChat creates an empty scripted transport.
func NewScriptedChat() *ScriptedChat {
	return &ScriptedChat{}
}

// Handle registers a rule with an arbitrary matcher.
func (s *ScriptedChat) Handle(match func(req llm.Request) bool, respond Responder) *ScriptedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{match: match, respond: respond})
	return s
}

// HandleContains registers a rule matching any request whose concatenated
// message content contains substr.
func (s *ScriptedChat) HandleContains(substr, reply string) *ScriptedChat {
	return s.Handle(func(req llm.Request) bool {
		return strings.Contains(flatten(req), substr)
	}, func(llm.Request) (string, error) {
		return reply, nil
	})
}

// HandleSchema registers a rule matching structured-output requests by
// schema name.
func (s *ScriptedChat) HandleSchema(name string, respond Responder) *ScriptedChat {
	return s.Handle(func(req llm.Request) bool {
		return req.Schema != nil && req.Schema.Name == name
	}, respond)
}

// Fallback sets the responder for requests no rule matches.
func (s *ScriptedChat) Fallback(respond Responder) *ScriptedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = respond
	return s
}

// Complete implements llm.Transport.
func (s *ScriptedChat) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	var respond Responder
	for _, r := range s.rules {
		if r.match(req) {
			respond = r.respond
			break
		}
	}
	if respond == nil {
		respond = s.fallback
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if respond == nil {
		return "", fmt.Errorf("testutil: no scripted response for request: %.120s", flatten(req))
	}
	return respond(req)
}

// Calls returns a copy of every request seen so far.
func (s *ScriptedChat) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request{}, s.calls...)
}

// CallCount returns how many requests have been issued.
func (s *ScriptedChat) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// MaxInFlight returns the high-water mark of concurrent requests.
func (s *ScriptedChat) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func flatten(req llm.Request) string {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
