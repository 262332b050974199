// Package mcp implements the Model Context Protocol server for Hataori.
//
// It exposes synthetic trace generation as an MCP tool so MCP-compatible
// agents can grow a dataset directly, plus read-only dataset resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hataori-ai/hataori/internal/generate"
)

// Runner executes one generation request. Satisfied by *generate.Orchestrator.
type Runner interface {
	Run(ctx context.Context, params generate.Params) generate.Result
}

// Server wraps the MCP server around the generation pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	newRunner func() Runner
	store     generate.Store
	logger    *slog.Logger
}

// New creates and configures an MCP server. newRunner is invoked once per
// generation call — each run owns its own progress stream and call budget.
func New(newRunner func() Runner, store generate.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		newRunner: newRunner,
		store:     store,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"hataori",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	// hataori://dataset/{id} — dataset summary with its topic hierarchy.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"hataori://dataset/{id}",
			"Dataset",
			mcplib.WithTemplateDescription("Dataset summary including its topic hierarchy and record count"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleDataset,
	)
}

func (s *Server) registerTools() {
	// hataori_generate — generate synthetic traces into a dataset.
	s.mcpServer.AddTool(
		mcplib.NewTool("hataori_generate",
			mcplib.WithDescription(`Generate synthetic training traces into a dataset.

Resolves the dataset's topic hierarchy into leaf topics (or derives topics
from the given seed records when no hierarchy exists) and generates the
requested number of records per topic. RFT mode produces varied prompts with
empty outputs; SFT mode produces full multi-turn conversations including
tool calls and simulated tool results.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("dataset_id",
				mcplib.Description("Target dataset identifier"),
				mcplib.Required(),
			),
			mcplib.WithString("mode",
				mcplib.Description("Generation mode: 'rft' (varied prompts, empty output) or 'sft' (full conversations)"),
				mcplib.Enum("rft", "sft"),
			),
			mcplib.WithNumber("count",
				mcplib.Description("Records to generate per leaf topic"),
				mcplib.Min(1),
				mcplib.DefaultNumber(generate.DefaultRecordsPerTopic),
			),
			mcplib.WithNumber("max_turns",
				mcplib.Description("Maximum user turns per SFT conversation"),
				mcplib.Min(1),
				mcplib.DefaultNumber(generate.DefaultMaxTurns),
			),
			mcplib.WithNumber("concurrency",
				mcplib.Description("Maximum concurrent model calls for this run"),
				mcplib.Min(1),
				mcplib.DefaultNumber(generate.DefaultConcurrency),
			),
			mcplib.WithString("topics",
				mcplib.Description("Optional comma-separated leaf topic ids or names; restricts generation to those topics"),
			),
			mcplib.WithString("record_ids",
				mcplib.Description("Optional comma-separated seed record ids to generate variations from"),
			),
		),
		s.handleGenerate,
	)
}

func (s *Server) handleGenerate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	datasetID := request.GetString("dataset_id", "")
	if datasetID == "" {
		return errorResult("dataset_id is required"), nil
	}

	params := generate.Params{
		DatasetID:      datasetID,
		Mode:           generate.Mode(request.GetString("mode", "rft")),
		Count:          request.GetInt("count", 0),
		MaxTurns:       request.GetInt("max_turns", 0),
		Concurrency:    request.GetInt("concurrency", 0),
		SelectedTopics: splitCSV(request.GetString("topics", "")),
		RecordIDs:      splitCSV(request.GetString("record_ids", "")),
	}

	s.logger.Info("mcp: generate requested",
		"dataset_id", datasetID, "mode", string(params.Mode), "count", params.Count)

	result := s.newRunner().Run(ctx, params)
	if !result.Success {
		return errorResult(result.Error), nil
	}
	return jsonResult(map[string]any{
		"success":       true,
		"dataset_name":  result.DatasetName,
		"created_count": result.CreatedCount,
		"errors":        result.Errors,
	})
}

func (s *Server) handleDataset(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, "hataori://dataset/")
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("mcp: invalid dataset URI %q", request.Params.URI)
	}

	dataset, err := s.store.DatasetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: read dataset %s: %w", id, err)
	}
	records, err := s.store.RecordsByDatasetID(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: read dataset %s records: %w", id, err)
	}

	payload, err := json.MarshalIndent(map[string]any{
		"id":              dataset.ID,
		"name":            dataset.Name,
		"topic_hierarchy": dataset.TopicHierarchy,
		"record_count":    len(records),
		"created_at":      dataset.CreatedAt,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode dataset %s: %w", id, err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(payload),
		},
	}, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
