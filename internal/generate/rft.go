package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
	"github.com/hataori-ai/hataori/internal/persona"
)

// Generator turns a topic plus optional seed record into one synthetic
// conversation. The two strategies — variation (RFT) and full simulation
// (SFT) — share the persona cache and the rate-limited caller.
type Generator struct {
	caller   *llm.Caller
	personas *persona.Cache
	logger   *slog.Logger
}

// NewGenerator wires a generator onto a run's caller and persona cache.
func NewGenerator(caller *llm.Caller, personas *persona.Cache, logger *slog.Logger) *Generator {
	return &Generator{caller: caller, personas: personas, logger: logger}
}

func topicContext(topicPath []string) (contextStr, topicKey string) {
	return strings.Join(topicPath, " -> "), strings.Join(topicPath, "/")
}

func fallbackSystemPrompt(contextStr string) string {
	return fmt.Sprintf("You are a helpful assistant specializing in %s.", contextStr)
}

// GenerateVariation produces an RFT-style record: the seed's last user
// message rewritten in a fresh persona's voice, with the preceding context
// preserved and the output intentionally left empty for rollout training.
// Without a usable seed user message it falls back to generating a fresh
// opening message, yielding a two-message record.
func (g *Generator) GenerateVariation(ctx context.Context, topicPath []string, seed *model.DatasetRecord, tools []model.ToolDef) (*model.SyntheticRecord, error) {
	contextStr, topicKey := topicContext(topicPath)

	var seedMessages []model.Message
	if seed != nil {
		seedMessages = seed.SeedMessages()
	}
	seedSystemPrompt := model.SystemPrompt(seedMessages)

	lastUserIdx := -1
	for i := len(seedMessages) - 1; i >= 0; i-- {
		if seedMessages[i].Role == model.RoleUser {
			lastUserIdx = i
			break
		}
	}

	systemPrompt := seedSystemPrompt
	if systemPrompt == "" {
		systemPrompt = fallbackSystemPrompt(contextStr)
	}

	if lastUserIdx == -1 {
		// No user message to vary — generate a fresh opening instead.
		p := g.personas.Ensure(ctx, topicKey, contextStr)
		opening, err := g.caller.CompleteText(ctx, firstUserMessagePrompt(contextStr, systemPrompt, p), "")
		if err != nil {
			return nil, fmt.Errorf("generate: opening user message: %w", err)
		}
		return &model.SyntheticRecord{
			TopicPath: topicPath,
			Persona:   p,
			Messages: []model.Message{
				model.TextMessage(model.RoleSystem, systemPrompt),
				model.TextMessage(model.RoleUser, opening),
			},
		}, nil
	}

	contextMessages := seedMessages[:lastUserIdx]
	original := seedMessages[lastUserIdx].Text()

	p := g.personas.Ensure(ctx, topicKey, contextStr)
	varied, err := g.caller.CompleteText(ctx, variationPrompt(original, contextStr, p), "")
	if err != nil {
		return nil, fmt.Errorf("generate: vary user message: %w", err)
	}

	messages := []model.Message{model.TextMessage(model.RoleSystem, systemPrompt)}
	for _, m := range contextMessages {
		if m.Role == model.RoleSystem {
			continue // already added
		}
		messages = append(messages, m)
	}
	messages = append(messages, model.TextMessage(model.RoleUser, varied))

	g.logger.Debug("generate: variation record built",
		"topic", topicKey, "messages", len(messages))
	return &model.SyntheticRecord{TopicPath: topicPath, Persona: p, Messages: messages}, nil
}
