package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req Request) (string, error)
}

func (f *fakeTransport) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.respond(call, req)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testCaller(transport Transport) *Caller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCaller(transport, NewLimiter(2), logger).
		WithPolicy(time.Second, 3, time.Millisecond)
}

func TestCompleteTrimsContent(t *testing.T) {
	transport := &fakeTransport{respond: func(int, Request) (string, error) {
		return "  hello\n", nil
	}}
	out, err := testCaller(transport).Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	transport := &fakeTransport{respond: func(call int, _ Request) (string, error) {
		if call < 3 {
			return "", errors.New("provider hiccup")
		}
		return "ok", nil
	}}
	out, err := testCaller(transport).Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, transport.callCount())
}

func TestCompleteEmptyResponseExhaustsRetries(t *testing.T) {
	transport := &fakeTransport{respond: func(int, Request) (string, error) {
		return "   ", nil
	}}
	_, err := testCaller(transport).Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyResponse)
	require.Equal(t, 3, transport.callCount())
}

func TestCompleteTextAddsSystemPrompt(t *testing.T) {
	var got Request
	transport := &fakeTransport{respond: func(_ int, req Request) (string, error) {
		got = req
		return "fine", nil
	}}
	_, err := testCaller(transport).CompleteText(context.Background(), "the prompt", "the system prompt")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "the system prompt", got.Messages[0].Content)
	require.Equal(t, "user", got.Messages[1].Role)
}

func TestCompleteJSONStripsFences(t *testing.T) {
	transport := &fakeTransport{respond: func(int, Request) (string, error) {
		return "```json\n{\"value\": 7}\n```", nil
	}}
	var out struct {
		Value int `json:"value"`
	}
	err := testCaller(transport).CompleteJSON(context.Background(), Request{}, &out)
	require.NoError(t, err)
	require.Equal(t, 7, out.Value)
}

func TestCompleteJSONParseFailureIsNotRetried(t *testing.T) {
	transport := &fakeTransport{respond: func(int, Request) (string, error) {
		return "not json at all", nil
	}}
	var out map[string]any
	err := testCaller(transport).CompleteJSON(context.Background(), Request{}, &out)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyResponse)
	require.Equal(t, 1, transport.callCount())
}
