package generate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hataori-ai/hataori/internal/generate"
	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
	"github.com/hataori-ai/hataori/internal/persona"
	"github.com/hataori-ai/hataori/internal/testutil"
)

func newGenerator(chat *testutil.ScriptedChat) *generate.Generator {
	caller := llm.NewCaller(chat, llm.NewLimiter(5), testutil.Logger()).
		WithPolicy(time.Second, 1, time.Millisecond)
	return generate.NewGenerator(caller, persona.NewCache(caller, testutil.Logger()), testutil.Logger())
}

func seedRecord(messages []model.Message) *model.DatasetRecord {
	return &model.DatasetRecord{
		ID:   "seed-1",
		Data: model.DataInfo{Input: model.RecordInput{Messages: messages}},
	}
}

func TestGenerateVariationVariesLastUserMessage(t *testing.T) {
	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["The Skeptic"]`).
		HandleContains("varied version of a user message", "Hey, I still haven't seen that refund come through?")

	seed := seedRecord([]model.Message{
		model.TextMessage(model.RoleSystem, "You handle billing."),
		model.TextMessage(model.RoleUser, "What's the refund policy?"),
		model.TextMessage(model.RoleAssistant, "Refunds take 5 days."),
		model.TextMessage(model.RoleUser, "Where is my refund?"),
	})

	rec, err := newGenerator(chat).GenerateVariation(
		context.Background(), []string{"Billing", "Refunds"}, seed, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Validate())
	require.Equal(t, "The Skeptic", rec.Persona)

	// System prompt first, context preserved, varied message replaces the
	// last user turn.
	require.Len(t, rec.Messages, 4)
	require.Equal(t, model.RoleSystem, rec.Messages[0].Role)
	require.Equal(t, "You handle billing.", rec.Messages[0].Text())
	require.Equal(t, model.RoleUser, rec.Messages[1].Role)
	require.Equal(t, "What's the refund policy?", rec.Messages[1].Text())
	require.Equal(t, model.RoleAssistant, rec.Messages[2].Role)
	require.Equal(t, model.RoleUser, rec.Messages[3].Role)
	require.Equal(t, "Hey, I still haven't seen that refund come through?", rec.Messages[3].Text())
}

func TestGenerateVariationWithoutSeedGeneratesOpening(t *testing.T) {
	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["The Enthusiast"]`).
		HandleContains("write your first message", "Tell me everything about refunds!")

	rec, err := newGenerator(chat).GenerateVariation(
		context.Background(), []string{"Billing", "Refunds"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Validate())

	require.Len(t, rec.Messages, 2)
	require.Equal(t, model.RoleSystem, rec.Messages[0].Role)
	require.Contains(t, rec.Messages[0].Text(), "Billing -> Refunds")
	require.Equal(t, model.RoleUser, rec.Messages[1].Role)
	require.Equal(t, "Tell me everything about refunds!", rec.Messages[1].Text())
}

func TestGenerateVariationSeedWithoutUserMessage(t *testing.T) {
	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["P"]`).
		HandleContains("write your first message", "Opening question")

	seed := seedRecord([]model.Message{
		model.TextMessage(model.RoleSystem, "Seed system prompt."),
	})

	rec, err := newGenerator(chat).GenerateVariation(
		context.Background(), []string{"Topic"}, seed, nil)
	require.NoError(t, err)

	require.Len(t, rec.Messages, 2)
	require.Equal(t, "Seed system prompt.", rec.Messages[0].Text())
	require.Equal(t, "Opening question", rec.Messages[1].Text())
}

func TestGenerateVariationSurfacesModelFailure(t *testing.T) {
	chat := testutil.NewScriptedChat().
		HandleContains("user personas", `["P"]`).
		Fallback(func(llm.Request) (string, error) {
			return "", context.DeadlineExceeded
		})

	seed := seedRecord([]model.Message{
		model.TextMessage(model.RoleUser, "original"),
	})

	_, err := newGenerator(chat).GenerateVariation(
		context.Background(), []string{"Topic"}, seed, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "vary user message")
}
