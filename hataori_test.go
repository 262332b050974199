package hataori

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
)

func strPtr(s string) *string { return &s }

func TestMessageConversionRoundTrip(t *testing.T) {
	in := Message{
		Role:    "assistant",
		Content: strPtr("checking"),
		ToolCalls: []ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: ToolFunction{Name: "lookup", Arguments: `{"q":1}`},
		}},
	}
	require.Equal(t, in, toPublicMessage(toInternalMessage(in)))
}

func TestDataConversionRoundTrip(t *testing.T) {
	in := RecordData{
		Input: RecordInput{
			Messages: []Message{
				{Role: "system", Content: strPtr("sys")},
				{Role: "user", Content: strPtr("hi")},
			},
			Tools: []ToolDef{{
				Type: "function",
				Function: ToolSchema{
					Name:       "lookup",
					Parameters: json.RawMessage(`{"type":"object"}`),
				},
			}},
		},
		Output: RecordOutput{
			Message:      &Message{Role: "assistant", Content: strPtr("done")},
			FinishReason: "stop",
		},
		Attribute: map[string]any{"source": "test"},
	}
	require.Equal(t, in, toPublicData(toInternalData(in)))
}

func TestTopicNodeConversionRoundTrip(t *testing.T) {
	in := []TopicNode{
		{ID: "a", Name: "A", Children: []TopicNode{
			{ID: "b", Name: "B"},
		}},
	}
	require.Equal(t, in, toPublicTopicNodes(toInternalTopicNodes(in)))
}

type recordingCompleter struct {
	got ChatRequest
}

func (r *recordingCompleter) Complete(_ context.Context, req ChatRequest) (string, error) {
	r.got = req
	return "reply", nil
}

func TestCompleterTransportMapsRequests(t *testing.T) {
	rec := &recordingCompleter{}
	transport := completerTransport{c: rec}

	temp := float32(0.5)
	out, err := transport.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "hi"},
		},
		Schema:      &llm.ResponseSchema{Name: "turn", Schema: json.RawMessage(`{}`), Strict: true},
		Temperature: &temp,
	})
	require.NoError(t, err)
	require.Equal(t, "reply", out)

	require.Len(t, rec.got.Messages, 2)
	require.Equal(t, "sys", rec.got.Messages[0].Content)
	require.NotNil(t, rec.got.Schema)
	require.Equal(t, "turn", rec.got.Schema.Name)
	require.True(t, rec.got.Schema.Strict)
	require.NotNil(t, rec.got.Temperature)
}

// staticCompleter answers every model call with the same text.
type staticCompleter struct{}

func (staticCompleter) Complete(context.Context, ChatRequest) (string, error) {
	return "hello", nil
}

func TestGenerateDeliversEachEventToEachHookOnce(t *testing.T) {
	var appHook, reqHook atomic.Int64
	app, err := New(
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithDatabasePath(filepath.Join(t.TempDir(), "hooks.db")),
		WithChatCompleter(staticCompleter{}),
		WithCallPolicy(time.Second, 1, time.Millisecond),
		WithProgressHook(func(Progress) { appHook.Add(1) }),
	)
	require.NoError(t, err)
	ctx := context.Background()
	defer app.Close(ctx)

	dataset, err := app.CreateDataset(ctx, "Hooks", []TopicNode{{ID: "t1", Name: "Topic"}})
	require.NoError(t, err)

	result := app.Generate(ctx, GenerateRequest{
		DatasetID:   dataset.ID,
		Mode:        ModeRFT,
		Count:       1,
		Concurrency: 1,
	}, func(Progress) { reqHook.Add(1) })

	require.True(t, result.Success)
	require.Equal(t, 1, result.CreatedCount)

	// One persisted record means one progress event; each hook sees it once.
	require.Equal(t, int64(1), appHook.Load())
	require.Equal(t, int64(1), reqHook.Load())
}

func TestToPublicRecord(t *testing.T) {
	rec := model.DatasetRecord{
		ID:        "r1",
		DatasetID: "d1",
		Topic:     "refunds",
		Data: model.DataInfo{
			Input: model.RecordInput{Messages: []model.Message{
				{Role: model.RoleUser, Content: strPtr("hi")},
			}},
		},
		Metadata:    map[string]any{"persona": "P"},
		IsGenerated: true,
	}
	pub := toPublicRecord(rec)
	require.Equal(t, "r1", pub.ID)
	require.Equal(t, "refunds", pub.Topic)
	require.True(t, pub.IsGenerated)
	require.Equal(t, "hi", *pub.Data.Input.Messages[0].Content)
}
