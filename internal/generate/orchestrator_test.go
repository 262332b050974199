package generate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hataori-ai/hataori/internal/generate"
	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
	"github.com/hataori-ai/hataori/internal/storage"
	"github.com/hataori-ai/hataori/internal/testutil"
)

func newOrchestrator(db *storage.DB, chat *testutil.ScriptedChat) *generate.Orchestrator {
	orch := generate.NewOrchestrator(db, chat, testutil.Logger())
	orch.SetCallPolicy(time.Second, 1, time.Millisecond)
	return orch
}

func supportDataset(t *testing.T, db *storage.DB) model.Dataset {
	t.Helper()
	dataset, err := db.CreateDataset(context.Background(), model.Dataset{
		Name: "Support Bot",
		TopicHierarchy: []model.TopicNode{
			{ID: "support", Name: "Support", Children: []model.TopicNode{
				{ID: "refunds", Name: "Refunds"},
				{ID: "shipping", Name: "Shipping"},
			}},
		},
	})
	require.NoError(t, err)
	return dataset
}

func TestRunRFTEndToEnd(t *testing.T) {
	db := testutil.OpenTestDB(t)
	dataset := supportDataset(t, db)

	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["The Skeptic", "The Enthusiast"]`).
		HandleContains("write your first message", "An opening question")

	orch := newOrchestrator(db, chat)
	events := orch.Notifier().Subscribe()

	result := orch.Run(context.Background(), generate.Params{
		DatasetID:   dataset.ID,
		Count:       3,
		Concurrency: 2,
		Mode:        generate.ModeRFT,
	})

	require.True(t, result.Success)
	require.Equal(t, "Support Bot", result.DatasetName)
	require.Equal(t, 6, result.CreatedCount)
	require.Empty(t, result.Errors)
	require.Empty(t, result.Error)

	// Every record is stored, generated, and input-only.
	rows, err := db.RecordsByDatasetID(context.Background(), dataset.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	byTopic := map[string]int{}
	for _, row := range rows {
		byTopic[row.Topic]++
		require.True(t, row.IsGenerated)
		require.Nil(t, row.Data.Output.Message)
		require.NotEmpty(t, row.Metadata["persona"])
		for _, m := range row.Data.Input.Messages {
			require.NotEqual(t, model.RoleAssistant, m.Role)
		}
	}
	require.Equal(t, map[string]int{"refunds": 3, "shipping": 3}, byTopic)

	// Progress advanced monotonically to exactly the persisted count.
	var completed []int
	for ev := range events {
		require.Equal(t, 6, ev.Total)
		require.Len(t, ev.Records, 1)
		completed = append(completed, ev.Completed)
	}
	require.Len(t, completed, 6)
	for i := 1; i < len(completed); i++ {
		require.Greater(t, completed[i], completed[i-1])
	}
	require.Equal(t, 6, completed[len(completed)-1])

	// The configured call ceiling held.
	require.LessOrEqual(t, chat.MaxInFlight(), 2)
}

func TestRunUsesConfiguredDefaults(t *testing.T) {
	db := testutil.OpenTestDB(t)
	dataset := supportDataset(t, db)

	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["The Pragmatist"]`).
		HandleContains("write your first message", "An opening question")

	orch := newOrchestrator(db, chat)
	orch.SetDefaults(2, 1, 3)

	// Count, MaxTurns, and Concurrency left unset fall back to the
	// configured defaults, not the package constants.
	result := orch.Run(context.Background(), generate.Params{
		DatasetID: dataset.ID,
		Mode:      generate.ModeRFT,
	})

	require.True(t, result.Success)
	require.Equal(t, 4, result.CreatedCount)
	require.LessOrEqual(t, chat.MaxInFlight(), 3)

	rows, err := db.RecordsByDatasetID(context.Background(), dataset.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 4)
}

func TestRunSFTWithSeedTools(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset, err := db.CreateDataset(ctx, model.Dataset{
		Name: "Billing Bot",
		TopicHierarchy: []model.TopicNode{
			{ID: "invoices", Name: "Invoices"},
		},
	})
	require.NoError(t, err)

	sys := "You are a billing assistant."
	seeds, err := db.AddRecords(ctx, dataset.ID, []model.NewRecord{{
		Topic: "invoices",
		Data: model.DataInfo{
			Input: model.RecordInput{Messages: []model.Message{
				{Role: model.RoleSystem, Content: &sys},
			}},
			Attribute: map[string]any{
				"request": `{"tools":[{"type":"function","function":{"name":"lookup_invoice"}}]}`,
			},
		},
	}})
	require.NoError(t, err)

	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["The Customer"]`).
		HandleContains("write your first message", "Can you check invoice INV-7?").
		HandleSchema("assistant_turn", func(llm.Request) (string, error) {
			return `{"content": "Let me check.", "tool_calls": [{"id": "call_7", "type": "function", "function": {"name": "lookup_invoice", "arguments": "{\"invoice_id\": \"INV-7\"}"}}]}`, nil
		}).
		HandleContains("simulate a realistic and helpful result", `{"status": "paid"}`).
		HandleContains("Provide the next message as the user", "Thanks! [END]")

	orch := newOrchestrator(db, chat)
	result := orch.Run(ctx, generate.Params{
		DatasetID: dataset.ID,
		RecordIDs: []string{seeds[0].ID},
		Count:     1,
		MaxTurns:  2,
		Mode:      generate.ModeSFT,
	})
	require.True(t, result.Success)
	require.Equal(t, 1, result.CreatedCount)

	rows, err := db.RecordsByDatasetID(ctx, dataset.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2) // seed + generated

	var gen *model.DatasetRecord
	for i := range rows {
		if rows[i].IsGenerated {
			gen = &rows[i]
		}
	}
	require.NotNil(t, gen)

	// Seed system prompt carried over; tool catalog extracted from the raw
	// captured request; tool message linked to the assistant call.
	msgs := gen.Data.Input.Messages
	require.GreaterOrEqual(t, len(msgs), 4)
	require.Equal(t, sys, msgs[0].Text())
	require.Equal(t, "lookup_invoice", gen.Data.Input.Tools[0].Function.Name)

	assistant := msgs[2]
	require.Len(t, assistant.ToolCalls, 1)
	toolMsg := msgs[3]
	require.Equal(t, model.RoleTool, toolMsg.Role)
	require.Equal(t, assistant.ToolCalls[0].ID, *toolMsg.ToolCallID)

	require.Equal(t, "tool_calls", gen.Data.Output.FinishReason)
	require.Equal(t, seeds[0].ID, gen.Metadata["seed_record_id"])
}

func TestRunSeedBasedTopics(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset, err := db.CreateDataset(ctx, model.Dataset{Name: "No Hierarchy"})
	require.NoError(t, err)

	refundMsg := "Where is my refund?"
	otherMsg := "Random question"
	seeds, err := db.AddRecords(ctx, dataset.ID, []model.NewRecord{
		{
			Topic: "refunds",
			Data: model.DataInfo{Input: model.RecordInput{Messages: []model.Message{
				{Role: model.RoleUser, Content: &refundMsg},
			}}},
		},
		{
			Data: model.DataInfo{Input: model.RecordInput{Messages: []model.Message{
				{Role: model.RoleUser, Content: &otherMsg},
			}}},
		},
	})
	require.NoError(t, err)

	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["P"]`).
		HandleContains("varied version of a user message", "A reworded question")

	orch := newOrchestrator(db, chat)
	result := orch.Run(ctx, generate.Params{
		DatasetID: dataset.ID,
		RecordIDs: []string{seeds[0].ID, seeds[1].ID},
		Count:     2,
		Mode:      generate.ModeRFT,
	})
	require.True(t, result.Success)
	require.Equal(t, 4, result.CreatedCount)

	rows, err := db.RecordsByDatasetID(ctx, dataset.ID, nil)
	require.NoError(t, err)

	byTopic := map[string][]model.DatasetRecord{}
	for _, row := range rows {
		if row.IsGenerated {
			byTopic[row.Topic] = append(byTopic[row.Topic], row)
		}
	}
	require.Len(t, byTopic["refunds"], 2)
	require.Len(t, byTopic["uncategorized"], 2)

	// Seeds are partitioned per pseudo-topic.
	for _, row := range byTopic["refunds"] {
		require.Equal(t, seeds[0].ID, row.Metadata["seed_record_id"])
	}
	for _, row := range byTopic["uncategorized"] {
		require.Equal(t, seeds[1].ID, row.Metadata["seed_record_id"])
	}
}

func TestRunInputErrorsFailFast(t *testing.T) {
	db := testutil.OpenTestDB(t)
	chat := testutil.NewScriptedChat()
	orch := newOrchestrator(db, chat)

	t.Run("missing dataset id", func(t *testing.T) {
		result := orch.Run(context.Background(), generate.Params{})
		require.False(t, result.Success)
		require.Equal(t, "dataset_id is required", result.Error)
	})

	t.Run("dataset not found", func(t *testing.T) {
		result := newOrchestrator(db, chat).Run(context.Background(),
			generate.Params{DatasetID: "no-such-dataset"})
		require.False(t, result.Success)
		require.Contains(t, result.Error, "not found")
	})

	t.Run("unknown mode", func(t *testing.T) {
		result := newOrchestrator(db, chat).Run(context.Background(),
			generate.Params{DatasetID: "x", Mode: "dpo"})
		require.False(t, result.Success)
		require.Contains(t, result.Error, "unknown generation mode")
	})

	require.Zero(t, chat.CallCount())
}

func TestRunNoTopicsNoSeeds(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset, err := db.CreateDataset(ctx, model.Dataset{Name: "Empty"})
	require.NoError(t, err)

	result := newOrchestrator(db, testutil.NewScriptedChat()).Run(ctx,
		generate.Params{DatasetID: dataset.ID})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "no topics")
}

func TestRunPartialFailureStillSucceeds(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset, err := db.CreateDataset(ctx, model.Dataset{
		Name: "Mixed",
		TopicHierarchy: []model.TopicNode{
			{ID: "good", Name: "Good"},
			{ID: "broken", Name: "Broken"},
		},
	})
	require.NoError(t, err)

	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["P"]`).
		Handle(func(req llm.Request) bool {
			return reqMentions(req, "Broken")
		}, func(llm.Request) (string, error) {
			return "", errors.New("simulated outage")
		}).
		HandleContains("write your first message", "Opening")

	result := newOrchestrator(db, chat).Run(ctx, generate.Params{
		DatasetID: dataset.ID,
		Count:     1,
		Mode:      generate.ModeRFT,
	})

	require.True(t, result.Success)
	require.Equal(t, 1, result.CreatedCount)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "Broken[1]")
	require.Contains(t, result.Error, "1 error(s)")
}

func TestRunTotalFailure(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset := supportDataset(t, db)
	chat := testutil.NewScriptedChat().
		Fallback(func(llm.Request) (string, error) {
			return "", errors.New("provider down")
		})

	result := newOrchestrator(db, chat).Run(ctx, generate.Params{
		DatasetID: dataset.ID,
		Count:     1,
		Mode:      generate.ModeRFT,
	})
	require.False(t, result.Success)
	require.Zero(t, result.CreatedCount)
	require.Len(t, result.Errors, 2)
	require.NotEmpty(t, result.Error)

	rows, err := db.RecordsByDatasetID(ctx, dataset.ID, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRunErrorSummaryTruncates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	dataset := supportDataset(t, db)
	chat := testutil.NewScriptedChat().
		Fallback(func(llm.Request) (string, error) {
			return "", errors.New("down")
		})

	result := newOrchestrator(db, chat).Run(ctx, generate.Params{
		DatasetID: dataset.ID,
		Count:     4, // 8 failures across 2 topics
		Mode:      generate.ModeRFT,
	})
	require.False(t, result.Success)
	require.Len(t, result.Errors, 8)
	require.Contains(t, result.Error, "8 error(s)")
	require.Contains(t, result.Error, "(+3 more)")
}

func reqMentions(req llm.Request, substr string) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}
