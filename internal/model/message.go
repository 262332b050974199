package model

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation. Content is nullable on the wire;
// a nil Content with ToolCalls set is a pure tool-call turn.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	ToolCallID *string    `json:"tool_call_id"`
}

// TextMessage builds a plain text message with no tool fields.
func TextMessage(role Role, content string) Message {
	return Message{Role: role, Content: &content}
}

// Text returns the message content, or "" when null.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall is an assistant's request to invoke a catalog tool.
// IDs are unique within a conversation; Arguments is JSON-encoded.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its JSON-encoded arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Validate checks structural well-formedness of a single tool call.
func (tc ToolCall) Validate() error {
	if tc.ID == "" {
		return fmt.Errorf("model: tool call missing id")
	}
	if tc.Type != "function" {
		return fmt.Errorf("model: tool call %s has type %q, want \"function\"", tc.ID, tc.Type)
	}
	if tc.Function.Name == "" {
		return fmt.Errorf("model: tool call %s missing function name", tc.ID)
	}
	if !json.Valid([]byte(tc.Function.Arguments)) {
		return fmt.Errorf("model: tool call %s arguments are not valid JSON", tc.ID)
	}
	return nil
}

// ToolDef is one entry of the tool catalog supplied to the generator.
type ToolDef struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

// ToolSchema describes a callable tool: name, description, and a JSON
// schema for its parameters.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolNames collects the set of callable names from a catalog.
func ToolNames(tools []ToolDef) map[string]bool {
	names := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t.Function.Name != "" {
			names[t.Function.Name] = true
		}
	}
	return names
}

// SyntheticRecord is one generated conversation before serialization into
// the store's record shape. Created by a record generator, never mutated.
type SyntheticRecord struct {
	TopicPath []string  `json:"topic_path"`
	Persona   string    `json:"persona"`
	Messages  []Message `json:"messages"`
}

// Validate enforces the record invariants: non-empty topic path, messages
// beginning with a system or user message, assistant tool calls well-formed,
// and every tool message referencing an earlier assistant tool call.
func (r SyntheticRecord) Validate() error {
	if len(r.TopicPath) == 0 {
		return fmt.Errorf("model: record has empty topic path")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("model: record has no messages")
	}
	if first := r.Messages[0].Role; first != RoleSystem && first != RoleUser {
		return fmt.Errorf("model: record must begin with a system or user message, got %q", first)
	}

	seen := make(map[string]bool)
	for i, m := range r.Messages {
		switch m.Role {
		case RoleAssistant:
			if m.ToolCalls != nil && len(m.ToolCalls) == 0 {
				return fmt.Errorf("model: message %d has empty tool_calls list", i)
			}
			for _, tc := range m.ToolCalls {
				if err := tc.Validate(); err != nil {
					return err
				}
				seen[tc.ID] = true
			}
		case RoleTool:
			if m.ToolCallID == nil || *m.ToolCallID == "" {
				return fmt.Errorf("model: tool message %d missing tool_call_id", i)
			}
			if !seen[*m.ToolCallID] {
				return fmt.Errorf("model: tool message %d references unknown tool call %q", i, *m.ToolCallID)
			}
		}
	}
	return nil
}
