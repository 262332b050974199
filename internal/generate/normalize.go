package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
)

// rawToolCall is the lenient decode shape for model-emitted tool calls.
// Arguments is kept raw: providers sometimes return an object where a
// JSON-encoded string was requested.
type rawToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// normalizeToolCalls validates model-emitted tool calls against the catalog.
// Calls naming unknown tools are dropped; missing IDs are assigned; object
// arguments are re-encoded as JSON strings. Returns nil when nothing
// survives, so an assistant message never carries an empty tool_calls list.
func normalizeToolCalls(calls []rawToolCall, toolNames map[string]bool) []model.ToolCall {
	if len(calls) == 0 || len(toolNames) == 0 {
		return nil
	}

	var cleaned []model.ToolCall
	for _, tc := range calls {
		name := tc.Function.Name
		if name == "" || !toolNames[name] {
			continue
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		cleaned = append(cleaned, model.ToolCall{
			ID:   id,
			Type: "function",
			Function: model.ToolFunction{
				Name:      name,
				Arguments: argumentsString(tc.Function.Arguments),
			},
		})
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// argumentsString coerces the raw arguments payload into a JSON-encoded
// string: a JSON string is unwrapped, any other value keeps its raw JSON
// text, and absent arguments become an empty object.
func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// toRaw converts catalog-validated tool calls back into the lenient shape,
// for re-normalization of seed context messages.
func toRaw(calls []model.ToolCall) []rawToolCall {
	out := make([]rawToolCall, len(calls))
	for i, tc := range calls {
		out[i].ID = tc.ID
		out[i].Type = tc.Type
		out[i].Function.Name = tc.Function.Name
		out[i].Function.Arguments, _ = json.Marshal(tc.Function.Arguments)
	}
	return out
}

// normalizeMessages enforces the conversation invariants on a finished
// record before it is serialized for the store: user/system messages carry
// no tool fields, assistant tool calls are validated against the catalog,
// and tool messages that do not reference a surviving assistant tool call
// are dropped.
func normalizeMessages(messages []model.Message, toolNames map[string]bool) []model.Message {
	var normalized []model.Message
	validIDs := make(map[string]bool)

	for _, raw := range messages {
		msg := raw

		switch msg.Role {
		case model.RoleUser, model.RoleSystem:
			msg.ToolCalls = nil
			msg.ToolCallID = nil

		case model.RoleAssistant:
			if msg.ToolCalls != nil {
				cleaned := normalizeToolCalls(toRaw(msg.ToolCalls), toolNames)
				for _, tc := range cleaned {
					validIDs[tc.ID] = true
				}
				msg.ToolCalls = cleaned
			}
			msg.ToolCallID = nil

		case model.RoleTool:
			if msg.ToolCallID == nil || !validIDs[*msg.ToolCallID] {
				continue
			}
			msg.ToolCalls = nil
			if msg.Content == nil {
				empty := ""
				msg.Content = &empty
			}
		}

		normalized = append(normalized, msg)
	}
	return normalized
}

// condensedTool is the compact catalog form embedded in the assistant
// system prompt; full JSON schemas would blow up the prompt.
type condensedTool struct {
	Name       string   `json:"name"`
	Required   []string `json:"required"`
	Properties []string `json:"properties"`
}

func condenseTools(tools []model.ToolDef) []condensedTool {
	out := make([]condensedTool, 0, len(tools))
	for _, t := range tools {
		if t.Function.Name == "" {
			continue
		}
		ct := condensedTool{Name: t.Function.Name, Required: []string{}, Properties: []string{}}
		var params struct {
			Required   []string                   `json:"required"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if len(t.Function.Parameters) > 0 && json.Unmarshal(t.Function.Parameters, &params) == nil {
			if params.Required != nil {
				ct.Required = params.Required
			}
			for name := range params.Properties {
				ct.Properties = append(ct.Properties, name)
			}
		}
		out = append(out, ct)
	}
	return out
}

// assistantHistory flattens the conversation into plain text turns for the
// assistant call. System messages are skipped (the assistant system prompt
// is built separately); tool results are folded into assistant-voice text.
func assistantHistory(messages []model.Message, toolNameByID map[string]string) []llm.Message {
	var out []llm.Message
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			out = append(out, llm.Message{Role: "user", Content: m.Text()})
		case model.RoleAssistant:
			out = append(out, llm.Message{Role: "assistant", Content: m.Text()})
		case model.RoleTool:
			out = append(out, llm.Message{Role: "assistant", Content: toolResultText(m, toolNameByID)})
		}
	}
	return out
}

// userHistory renders the conversation as the tagged transcript the
// simulated-user prompt expects.
func userHistory(messages []model.Message, toolNameByID map[string]string) string {
	var parts []string
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			parts = append(parts, "<user_prompt>: "+m.Text())
		case model.RoleAssistant:
			parts = append(parts, "<assistant_response>: "+m.Text())
		case model.RoleTool:
			parts = append(parts, "<assistant_response>: "+toolResultText(m, toolNameByID))
		}
	}
	return strings.Join(parts, "\n")
}

func toolResultText(m model.Message, toolNameByID map[string]string) string {
	if m.ToolCallID != nil {
		if name, ok := toolNameByID[*m.ToolCallID]; ok {
			return fmt.Sprintf("Tool '%s' returned: %s", name, m.Text())
		}
	}
	return "Tool returned: " + m.Text()
}

// buildRFTData serializes an input-only record: the rollout is produced
// during training, so the output side stays empty.
func buildRFTData(rec *model.SyntheticRecord, tools []model.ToolDef) model.DataInfo {
	return model.DataInfo{
		Input: model.RecordInput{
			Messages: normalizeMessages(rec.Messages, model.ToolNames(tools)),
			Tools:    tools,
		},
	}
}

// buildSFTData serializes a full conversation record. The last assistant
// message becomes the output; finish_reason mirrors whether it ended on
// tool calls.
func buildSFTData(rec *model.SyntheticRecord, tools []model.ToolDef) model.DataInfo {
	normalized := normalizeMessages(rec.Messages, model.ToolNames(tools))

	var last *model.Message
	for i := len(normalized) - 1; i >= 0; i-- {
		if normalized[i].Role == model.RoleAssistant {
			m := normalized[i]
			last = &m
			break
		}
	}
	finishReason := "stop"
	if last == nil {
		empty := ""
		last = &model.Message{Role: model.RoleAssistant, Content: &empty}
	} else if len(last.ToolCalls) > 0 {
		finishReason = "tool_calls"
	}

	return model.DataInfo{
		Input: model.RecordInput{
			Messages: normalized,
			Tools:    tools,
		},
		Output: model.RecordOutput{
			Message:      last,
			FinishReason: finishReason,
		},
	}
}
