package hataori

import (
	"encoding/json"
	"time"
)

// Mode selects the record generation strategy.
type Mode string

const (
	// ModeRFT generates varied input prompts with empty outputs.
	ModeRFT Mode = "rft"
	// ModeSFT generates complete multi-turn conversations.
	ModeSFT Mode = "sft"
)

// TopicNode is one node of a dataset's topic hierarchy. Leaves (nodes with
// no children) are the generation targets.
type TopicNode struct {
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name"`
	Children []TopicNode `json:"children,omitempty"`
}

// Dataset is the public representation of a stored dataset.
// It is a curated view of internal/model.Dataset — no internal package
// imports, safe to use from outside the module.
type Dataset struct {
	ID             string
	Name           string
	TopicHierarchy []TopicNode
	CreatedAt      time.Time
}

// Message is one conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
}

// ToolCall is an assistant-issued tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names a tool and carries its JSON-encoded arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef declares a tool available to the assistant.
type ToolDef struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

// ToolSchema is a tool's name, description, and JSON-schema parameters.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// RecordInput is the prompt side of a training record.
type RecordInput struct {
	Messages []Message `json:"messages"`
	Tools    []ToolDef `json:"tools,omitempty"`
}

// RecordOutput is the completion side of a training record. Empty for RFT
// records.
type RecordOutput struct {
	Message      *Message `json:"messages,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// RecordData is a record's full payload.
type RecordData struct {
	Input     RecordInput    `json:"input"`
	Output    RecordOutput   `json:"output"`
	Attribute map[string]any `json:"attribute,omitempty"`
}

// Record is the public representation of a stored dataset record.
type Record struct {
	ID          string
	DatasetID   string
	Topic       string
	Data        RecordData
	Metadata    map[string]any
	IsGenerated bool
	CreatedAt   time.Time
}

// NewRecord is a record to be inserted, without storage-assigned fields.
type NewRecord struct {
	Topic       string
	Data        RecordData
	Metadata    map[string]any
	IsGenerated bool
}

// GenerateRequest is one synthetic generation request.
type GenerateRequest struct {
	DatasetID string
	// RecordIDs selects seed records; when the dataset has no topic
	// hierarchy, topics are derived from the seeds instead.
	RecordIDs []string
	// Count is records per leaf topic. Zero uses the configured default.
	Count int
	// MaxTurns bounds user turns per SFT conversation. Zero uses the default.
	MaxTurns int
	// Concurrency caps concurrent model calls. Zero uses the default.
	Concurrency int
	// Topics restricts generation to the named leaf topics (by ID or name).
	Topics []string
	Mode   Mode
}

// GenerateResult summarizes one generation run. Errors carries every
// record- and topic-level error even when the run succeeded.
type GenerateResult struct {
	Success      bool
	DatasetName  string
	CreatedCount int
	Errors       []string
	Error        string
}

// Progress is one generation progress event. Completed counts only records
// the store confirmed as durably written.
type Progress struct {
	Completed int
	Total     int
	Records   []Record
}
