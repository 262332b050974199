package model

import (
	"encoding/json"
	"time"
)

// TopicNode is one node of a dataset's topic hierarchy.
type TopicNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Children []TopicNode `json:"children,omitempty"`
}

// Dataset is the metadata of a record collection.
type Dataset struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	TopicHierarchy []TopicNode `json:"topic_hierarchy,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// RecordInput is the request side of a persisted record.
type RecordInput struct {
	Messages []Message `json:"messages"`
	Tools    []ToolDef `json:"tools,omitempty"`
}

// RecordOutput is the response side of a persisted record. For RFT-style
// records the output is intentionally empty: the rollout happens during
// training, not at generation time.
type RecordOutput struct {
	Message      *Message `json:"messages,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// DataInfo is the full request/response payload of a record. Attribute
// carries provider-specific raw capture data (e.g. the original request
// body) for records ingested from live traces.
type DataInfo struct {
	Input     RecordInput    `json:"input"`
	Output    RecordOutput   `json:"output"`
	Attribute map[string]any `json:"attribute,omitempty"`
}

// DatasetRecord is a persisted row of a dataset.
type DatasetRecord struct {
	ID          string         `json:"id"`
	DatasetID   string         `json:"dataset_id"`
	Topic       string         `json:"topic,omitempty"`
	Data        DataInfo       `json:"data"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsGenerated bool           `json:"is_generated"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewRecord is the insert shape for a record; the store assigns ID and
// CreatedAt on write.
type NewRecord struct {
	Topic       string         `json:"topic,omitempty"`
	Data        DataInfo       `json:"data"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsGenerated bool           `json:"is_generated"`
}

// SeedMessages returns the record's input messages for use as generation
// seed context. Nil-safe on a zero record.
func (r DatasetRecord) SeedMessages() []Message {
	return r.Data.Input.Messages
}

// SeedTools extracts the tool catalog carried by a seed record. Typed input
// tools win; for raw captured traces the original request body under
// attribute.request is parsed as a fallback.
func (r DatasetRecord) SeedTools() []ToolDef {
	if len(r.Data.Input.Tools) > 0 {
		return r.Data.Input.Tools
	}
	raw, ok := r.Data.Attribute["request"].(string)
	if !ok {
		return nil
	}
	var req struct {
		Tools []ToolDef `json:"tools"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil
	}
	return req.Tools
}

// SystemPrompt returns the content of the first system message in messages,
// or "" when there is none.
func SystemPrompt(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return m.Text()
		}
	}
	return ""
}
