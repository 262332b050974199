package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
)

// assistantTurn is the structured output of one assistant generation step.
type assistantTurn struct {
	Content   *string       `json:"content"`
	ToolCalls []rawToolCall `json:"tool_calls"`
}

// Simulate drives a full multi-turn conversation: opening user message,
// assistant turns with optional tool calls, simulated tool results, and the
// next simulated user message, until the user emits the end sentinel or
// maxTurns user turns have been produced. maxTurns is a hard bound
// independent of the sentinel, so termination is guaranteed.
func (g *Generator) Simulate(ctx context.Context, topicPath []string, seedSystemPrompt string, tools []model.ToolDef, maxTurns int) (*model.SyntheticRecord, error) {
	contextStr, topicKey := topicContext(topicPath)

	p := g.personas.Ensure(ctx, topicKey, contextStr)

	systemPrompt := seedSystemPrompt
	if systemPrompt == "" {
		systemPrompt = fallbackSystemPrompt(contextStr)
	}

	opening, err := g.caller.CompleteText(ctx, firstUserMessagePrompt(contextStr, systemPrompt, p), "")
	if err != nil {
		return nil, fmt.Errorf("generate: opening user message: %w", err)
	}

	messages := []model.Message{
		model.TextMessage(model.RoleSystem, systemPrompt),
		model.TextMessage(model.RoleUser, opening),
	}

	userTurns := 1
	toolNames := model.ToolNames(tools)
	toolNameByID := make(map[string]string)

	for userTurns < maxTurns {
		turn, err := g.assistantTurn(ctx, messages, systemPrompt, tools, toolNames, toolNameByID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		})

		if len(turn.toolCalls) > 0 {
			toolMsgs, err := g.simulateToolResults(ctx, turn.toolCalls, contextStr)
			if err != nil {
				return nil, err
			}
			for _, tc := range turn.toolCalls {
				toolNameByID[tc.ID] = tc.Function.Name
			}
			messages = append(messages, toolMsgs...)
		}

		reply, err := g.userResponse(ctx, messages, contextStr, opening, p, toolNameByID)
		if err != nil {
			return nil, err
		}
		if reply == "" || strings.Contains(reply, endSentinel) {
			break
		}
		messages = append(messages, model.TextMessage(model.RoleUser, reply))
		userTurns++
	}

	return &model.SyntheticRecord{TopicPath: topicPath, Persona: p, Messages: messages}, nil
}

type validatedTurn struct {
	content   *string
	toolCalls []model.ToolCall
}

// assistantTurn requests one structured assistant step and validates it:
// content must be present, and tool calls are normalized against the
// catalog (unknown tools dropped, object arguments re-encoded).
func (g *Generator) assistantTurn(ctx context.Context, messages []model.Message, systemPrompt string, tools []model.ToolDef, toolNames map[string]bool, toolNameByID map[string]string) (validatedTurn, error) {
	req := llm.Request{
		Messages: append(
			[]llm.Message{{Role: "system", Content: assistantSystemPrompt(systemPrompt, tools)}},
			assistantHistory(messages, toolNameByID)...,
		),
		Schema: &llm.ResponseSchema{Name: "assistant_turn", Schema: assistantTurnSchema, Strict: true},
	}

	var payload map[string]json.RawMessage
	if err := g.caller.CompleteJSON(ctx, req, &payload); err != nil {
		return validatedTurn{}, fmt.Errorf("generate: assistant turn: %w", err)
	}
	if _, ok := payload["records"]; ok {
		return validatedTurn{}, fmt.Errorf("generate: assistant turn returned legacy records payload")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return validatedTurn{}, fmt.Errorf("generate: assistant turn: %w", err)
	}
	var turn assistantTurn
	if err := json.Unmarshal(raw, &turn); err != nil {
		return validatedTurn{}, fmt.Errorf("generate: assistant turn payload: %w", err)
	}
	if turn.Content == nil {
		return validatedTurn{}, fmt.Errorf("generate: assistant turn without content")
	}

	return validatedTurn{
		content:   turn.Content,
		toolCalls: normalizeToolCalls(turn.ToolCalls, toolNames),
	}, nil
}

// simulateToolResults issues one simulation call per tool call, in
// parallel. Each call goes through the shared caller, so the global
// concurrency ceiling still applies. Results are appended in tool-call
// order, each as a tool message referencing its call id.
func (g *Generator) simulateToolResults(ctx context.Context, calls []model.ToolCall, contextStr string) ([]model.Message, error) {
	results := make([]string, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc model.ToolCall) {
			defer wg.Done()
			results[i], errs[i] = g.caller.CompleteText(ctx,
				toolResultPrompt(tc.Function.Name, tc.Function.Arguments, contextStr), "")
		}(i, tc)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("generate: tool result for %s: %w", calls[i].Function.Name, err)
		}
	}

	msgs := make([]model.Message, len(calls))
	for i, tc := range calls {
		id := tc.ID
		msgs[i] = model.Message{
			Role:       model.RoleTool,
			Content:    &results[i],
			ToolCallID: &id,
		}
	}
	return msgs, nil
}

// userResponse asks the simulated user for the next message given the full
// history. A persistently empty reply is treated as the user being done,
// not as a record failure.
func (g *Generator) userResponse(ctx context.Context, messages []model.Message, contextStr, goal, personaDesc string, toolNameByID map[string]string) (string, error) {
	reply, err := g.caller.CompleteText(ctx,
		userHistory(messages, toolNameByID),
		userResponseSystemPrompt(personaDesc, contextStr, goal))
	if errors.Is(err, llm.ErrEmptyResponse) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("generate: user response: %w", err)
	}
	return reply, nil
}

// assistantSystemPrompt extends the conversation system prompt with the
// turn-format instructions and the condensed tool catalog.
func assistantSystemPrompt(systemPrompt string, tools []model.ToolDef) string {
	toolInstruction := ""
	if len(tools) > 0 {
		toolInstruction = "\nYou have available tools where needed to complete the user's request."
	}
	condensed, _ := json.MarshalIndent(condenseTools(tools), "", "  ")
	return fmt.Sprintf("%s%s\n\n%s\n\nAvailable tools:\n%s",
		systemPrompt, toolInstruction, assistantInstructions, condensed)
}
