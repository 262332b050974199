// Package hataori is the public API for embedding the Hataori synthetic
// trace generator.
//
// Consumers construct an App and drive generation programmatically:
//
//	app, err := hataori.New(
//	    hataori.WithLogger(logger),
//	    hataori.WithDatabasePath("traces.db"),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//
//	result := app.Generate(ctx, hataori.GenerateRequest{
//	    DatasetID: id,
//	    Mode:      hataori.ModeSFT,
//	}, func(p hataori.Progress) {
//	    fmt.Printf("%d/%d\n", p.Completed, p.Total)
//	})
//
// The import graph enforces a strict no-cycle rule: hataori (root) imports
// internal/*, but internal/* never imports hataori (root). Public types
// (Dataset, Record, Message, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package hataori

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/hataori-ai/hataori/internal/config"
	"github.com/hataori-ai/hataori/internal/generate"
	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/mcp"
	"github.com/hataori-ai/hataori/internal/model"
	"github.com/hataori-ai/hataori/internal/storage"
	"github.com/hataori-ai/hataori/internal/telemetry"
)

// App owns the storage handle, the model transport, and the generation
// defaults. Construct with New(), release with Close().
type App struct {
	cfg          config.Config
	db           *storage.DB
	transport    llm.Transport
	hooks        []ProgressHook
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	callTimeout   time.Duration
	callAttempts  int
	callBaseDelay time.Duration
}

// New initialises the App: loads configuration, opens the database, and
// wires the model transport. It does not start any goroutines.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databasePath != "" {
		cfg.DatabasePath = o.databasePath
	}
	if o.model != "" {
		cfg.Model = o.model
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.apiKey != "" {
		cfg.OpenAIAPIKey = o.apiKey
	}
	if o.callTimeout > 0 {
		cfg.CallTimeout = o.callTimeout
	}
	if o.callAttempts > 0 {
		cfg.CallAttempts = o.callAttempts
	}
	if o.callBaseDelay > 0 {
		cfg.CallBaseDelay = o.callBaseDelay
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("hataori starting", "version", version, "model", cfg.Model, "db", cfg.DatabasePath)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.Open(context.Background(), cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	transport := llm.Transport(nil)
	if o.completer != nil {
		transport = completerTransport{c: o.completer}
	} else {
		transport = llm.NewOpenAIChat(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
		}, logger)
	}

	return &App{
		cfg:           cfg,
		db:            db,
		transport:     transport,
		hooks:         o.progressHooks,
		otelShutdown:  otelShutdown,
		logger:        logger,
		version:       version,
		callTimeout:   cfg.CallTimeout,
		callAttempts:  cfg.CallAttempts,
		callBaseDelay: cfg.CallBaseDelay,
	}, nil
}

// Close releases the database handle and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = err
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CreateDataset stores a new dataset with the given topic hierarchy.
func (a *App) CreateDataset(ctx context.Context, name string, hierarchy []TopicNode) (Dataset, error) {
	created, err := a.db.CreateDataset(ctx, model.Dataset{
		Name:           name,
		TopicHierarchy: toInternalTopicNodes(hierarchy),
	})
	if err != nil {
		return Dataset{}, err
	}
	return toPublicDataset(created), nil
}

// Dataset fetches one dataset by ID.
func (a *App) Dataset(ctx context.Context, id string) (Dataset, error) {
	dataset, err := a.db.DatasetByID(ctx, id)
	if err != nil {
		return Dataset{}, err
	}
	return toPublicDataset(dataset), nil
}

// Records fetches records in a dataset; a non-empty ids filter restricts the
// result.
func (a *App) Records(ctx context.Context, datasetID string, ids []string) ([]Record, error) {
	records, err := a.db.RecordsByDatasetID(ctx, datasetID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = toPublicRecord(rec)
	}
	return out, nil
}

// AddRecords inserts records into a dataset, typically to import seed data,
// and returns the rows as persisted.
func (a *App) AddRecords(ctx context.Context, datasetID string, records []NewRecord) ([]Record, error) {
	in := make([]model.NewRecord, len(records))
	for i, rec := range records {
		in[i] = model.NewRecord{
			Topic:       rec.Topic,
			Data:        toInternalData(rec.Data),
			Metadata:    rec.Metadata,
			IsGenerated: rec.IsGenerated,
		}
	}
	persisted, err := a.db.AddRecords(ctx, datasetID, in)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(persisted))
	for i, rec := range persisted {
		out[i] = toPublicRecord(rec)
	}
	return out, nil
}

// Generate runs one synthetic generation request to completion. onProgress,
// if non-nil, observes progress events for this run; hooks registered via
// WithProgressHook observe them as well. Generate blocks until the run and
// all progress delivery finish.
func (a *App) Generate(ctx context.Context, req GenerateRequest, onProgress ProgressHook) GenerateResult {
	orch := a.newOrchestrator()

	// One subscription serves the app-level hooks and the request callback,
	// so each delivers every event exactly once.
	hooks := a.hooks
	if onProgress != nil {
		hooks = append(append([]ProgressHook{}, hooks...), onProgress)
	}
	done := a.watchProgress(orch, hooks)

	result := orch.Run(ctx, generate.Params{
		DatasetID:      req.DatasetID,
		RecordIDs:      req.RecordIDs,
		Count:          req.Count,
		MaxTurns:       req.MaxTurns,
		Concurrency:    req.Concurrency,
		SelectedTopics: req.Topics,
		Mode:           generate.Mode(req.Mode),
	})
	<-done

	return GenerateResult{
		Success:      result.Success,
		DatasetName:  result.DatasetName,
		CreatedCount: result.CreatedCount,
		Errors:       result.Errors,
		Error:        result.Error,
	}
}

// ServeMCP serves the MCP protocol over stdin/stdout until the peer
// disconnects. Each tool call runs its own generation pipeline; app-level
// progress hooks observe every run.
func (a *App) ServeMCP() error {
	srv := mcp.New(func() mcp.Runner {
		orch := a.newOrchestrator()
		a.watchProgress(orch, a.hooks)
		return orch
	}, a.db, a.logger, a.version)
	return srv.ServeStdio()
}

// newOrchestrator builds a fresh pipeline bound to the App's store,
// transport, call policy, and configured generation defaults. Progress
// hooks are not attached here; callers subscribe via watchProgress.
func (a *App) newOrchestrator() *generate.Orchestrator {
	orch := generate.NewOrchestrator(a.db, a.transport, a.logger)
	orch.SetCallPolicy(a.callTimeout, a.callAttempts, a.callBaseDelay)
	orch.SetDefaults(a.cfg.RecordsPerTopic, a.cfg.MaxTurns, a.cfg.Concurrency)
	return orch
}

// watchProgress fans one run's progress events out to hooks. The returned
// channel closes once the run's notifier closes and every hook has seen the
// final event.
func (a *App) watchProgress(orch *generate.Orchestrator, hooks []ProgressHook) <-chan struct{} {
	done := make(chan struct{})
	if len(hooks) == 0 {
		close(done)
		return done
	}
	events := orch.Notifier().Subscribe()
	go func() {
		defer close(done)
		for ev := range events {
			p := toPublicProgress(ev)
			for _, hook := range hooks {
				hook(p)
			}
		}
	}()
	return done
}

// completerTransport adapts a public ChatCompleter to the internal transport
// interface.
type completerTransport struct {
	c ChatCompleter
}

func (t completerTransport) Complete(ctx context.Context, req llm.Request) (string, error) {
	out := ChatRequest{Temperature: req.Temperature}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Schema != nil {
		out.Schema = &ChatSchema{
			Name:   req.Schema.Name,
			Schema: req.Schema.Schema,
			Strict: req.Schema.Strict,
		}
	}
	return t.c.Complete(ctx, out)
}

// Conversion helpers. The public structs mirror internal/model field for
// field; these stay the only place aware of both.

func toPublicDataset(d model.Dataset) Dataset {
	return Dataset{
		ID:             d.ID,
		Name:           d.Name,
		TopicHierarchy: toPublicTopicNodes(d.TopicHierarchy),
		CreatedAt:      d.CreatedAt,
	}
}

func toPublicTopicNodes(nodes []model.TopicNode) []TopicNode {
	if nodes == nil {
		return nil
	}
	out := make([]TopicNode, len(nodes))
	for i, n := range nodes {
		out[i] = TopicNode{ID: n.ID, Name: n.Name, Children: toPublicTopicNodes(n.Children)}
	}
	return out
}

func toInternalTopicNodes(nodes []TopicNode) []model.TopicNode {
	if nodes == nil {
		return nil
	}
	out := make([]model.TopicNode, len(nodes))
	for i, n := range nodes {
		out[i] = model.TopicNode{ID: n.ID, Name: n.Name, Children: toInternalTopicNodes(n.Children)}
	}
	return out
}

func toPublicRecord(r model.DatasetRecord) Record {
	return Record{
		ID:          r.ID,
		DatasetID:   r.DatasetID,
		Topic:       r.Topic,
		Data:        toPublicData(r.Data),
		Metadata:    r.Metadata,
		IsGenerated: r.IsGenerated,
		CreatedAt:   r.CreatedAt,
	}
}

func toPublicData(d model.DataInfo) RecordData {
	out := RecordData{
		Input: RecordInput{
			Messages: toPublicMessages(d.Input.Messages),
			Tools:    toPublicToolDefs(d.Input.Tools),
		},
		Output: RecordOutput{
			FinishReason: d.Output.FinishReason,
		},
		Attribute: d.Attribute,
	}
	if d.Output.Message != nil {
		msg := toPublicMessage(*d.Output.Message)
		out.Output.Message = &msg
	}
	return out
}

func toInternalData(d RecordData) model.DataInfo {
	out := model.DataInfo{
		Input: model.RecordInput{
			Messages: toInternalMessages(d.Input.Messages),
			Tools:    toInternalToolDefs(d.Input.Tools),
		},
		Output: model.RecordOutput{
			FinishReason: d.Output.FinishReason,
		},
		Attribute: d.Attribute,
	}
	if d.Output.Message != nil {
		msg := toInternalMessage(*d.Output.Message)
		out.Output.Message = &msg
	}
	return out
}

func toPublicMessages(ms []model.Message) []Message {
	if ms == nil {
		return nil
	}
	out := make([]Message, len(ms))
	for i, m := range ms {
		out[i] = toPublicMessage(m)
	}
	return out
}

func toPublicMessage(m model.Message) Message {
	out := Message{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: ToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toInternalMessages(ms []Message) []model.Message {
	if ms == nil {
		return nil
	}
	out := make([]model.Message, len(ms))
	for i, m := range ms {
		out[i] = toInternalMessage(m)
	}
	return out
}

func toInternalMessage(m Message) model.Message {
	out := model.Message{
		Role:       model.Role(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: model.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toPublicToolDefs(tools []model.ToolDef) []ToolDef {
	if tools == nil {
		return nil
	}
	out := make([]ToolDef, len(tools))
	for i, t := range tools {
		out[i] = ToolDef{
			Type: t.Type,
			Function: ToolSchema{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return out
}

func toInternalToolDefs(tools []ToolDef) []model.ToolDef {
	if tools == nil {
		return nil
	}
	out := make([]model.ToolDef, len(tools))
	for i, t := range tools {
		out[i] = model.ToolDef{
			Type: t.Type,
			Function: model.ToolSchema{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return out
}

func toPublicProgress(ev generate.Event) Progress {
	out := Progress{Completed: ev.Completed, Total: ev.Total}
	for _, rec := range ev.Records {
		out.Records = append(out.Records, toPublicRecord(rec))
	}
	return out
}
