// Package generate is the synthetic trace generation pipeline: it resolves
// a dataset's topics into per-topic tasks, drives the record generators
// under a shared concurrency budget, persists each record as it is
// produced, and reports progress in real time.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hataori-ai/hataori/internal/llm"
	"github.com/hataori-ai/hataori/internal/model"
	"github.com/hataori-ai/hataori/internal/persona"
	"github.com/hataori-ai/hataori/internal/storage"
	"github.com/hataori-ai/hataori/internal/topics"
)

// Mode selects the record generation strategy.
type Mode string

const (
	// ModeRFT produces varied input prompts with empty output, for
	// rollout-style reinforcement training.
	ModeRFT Mode = "rft"
	// ModeSFT produces complete multi-turn conversations including
	// assistant responses and tool interactions.
	ModeSFT Mode = "sft"
)

const (
	// DefaultMaxTurns bounds user turns per simulated conversation.
	DefaultMaxTurns = 3
	// DefaultConcurrency is the model-call ceiling when unconfigured.
	DefaultConcurrency = 5
	// DefaultRecordsPerTopic is generated per leaf topic when no count is
	// requested.
	DefaultRecordsPerTopic = 5

	// recordBatchSize bounds in-flight record pipelines per topic; each
	// pipeline itself issues several model calls.
	recordBatchSize = 10
	// topicBatchSize bounds how many topics generate concurrently. The
	// overall call ceiling is the limiter's, not this.
	topicBatchSize = 5
	// maxErrorsInSummary caps the inline error summary; the remainder is
	// reported as a count.
	maxErrorsInSummary = 5
)

// Store is the narrow persistence contract the pipeline consumes. The row
// slice returned by AddRecords is ground truth for progress accounting.
type Store interface {
	DatasetByID(ctx context.Context, id string) (model.Dataset, error)
	RecordsByDatasetID(ctx context.Context, datasetID string, ids []string) ([]model.DatasetRecord, error)
	AddRecords(ctx context.Context, datasetID string, records []model.NewRecord) ([]model.DatasetRecord, error)
}

// Params is one generation request.
type Params struct {
	DatasetID      string
	RecordIDs      []string // seed records; enables seed-based mode without a hierarchy
	Count          int      // records per topic
	MaxTurns       int
	Concurrency    int
	SelectedTopics []string // filter leaf topics by ID, then name
	Mode           Mode
}

// Result is the run summary. Errors always carries the full per-record and
// per-topic error list, even on success, so partial failures stay visible.
type Result struct {
	Success      bool
	DatasetName  string
	CreatedCount int
	Errors       []string
	Error        string
}

// TopicTask is the immutable work item for one leaf topic.
type TopicTask struct {
	TopicID           string
	TopicName         string
	TopicPath         []string
	RecordsToGenerate int
	SeedRecords       []*model.DatasetRecord // nil entry means "no seed"
	Tools             []model.ToolDef
	Mode              Mode
}

// Orchestrator owns one dataset store and model transport and runs
// generation requests against them. A fresh limiter, caller, and persona
// cache are created per run, so concurrent runs do not share budgets.
type Orchestrator struct {
	store     Store
	transport llm.Transport
	logger    *slog.Logger
	notifier  *Notifier
	tracer    trace.Tracer
	persisted metric.Int64Counter

	callTimeout   time.Duration
	callAttempts  int
	callBaseDelay time.Duration

	defaultCount       int
	defaultMaxTurns    int
	defaultConcurrency int
}

// NewOrchestrator wires the pipeline onto a store and a model transport.
func NewOrchestrator(store Store, transport llm.Transport, logger *slog.Logger) *Orchestrator {
	meter := otel.Meter("hataori/generate")
	persisted, _ := meter.Int64Counter("hataori.records.persisted",
		metric.WithDescription("Synthetic records durably written to the store."))
	return &Orchestrator{
		store:         store,
		transport:     transport,
		logger:        logger,
		notifier:      NewNotifier(),
		tracer:        otel.Tracer("hataori/generate"),
		persisted:     persisted,
		callTimeout:   llm.DefaultTimeout,
		callAttempts:  llm.DefaultAttempts,
		callBaseDelay: llm.DefaultBaseDelay,

		defaultCount:       DefaultRecordsPerTopic,
		defaultMaxTurns:    DefaultMaxTurns,
		defaultConcurrency: DefaultConcurrency,
	}
}

// Notifier exposes the progress stream for subscription before Run.
func (o *Orchestrator) Notifier() *Notifier { return o.notifier }

// SetCallPolicy overrides the per-call timeout and retry policy.
func (o *Orchestrator) SetCallPolicy(timeout time.Duration, attempts int, baseDelay time.Duration) {
	o.callTimeout = timeout
	o.callAttempts = attempts
	o.callBaseDelay = baseDelay
}

// SetDefaults overrides the fallback values applied when a request leaves
// Count, MaxTurns, or Concurrency unset. Non-positive arguments keep the
// current values.
func (o *Orchestrator) SetDefaults(count, maxTurns, concurrency int) {
	if count > 0 {
		o.defaultCount = count
	}
	if maxTurns > 0 {
		o.defaultMaxTurns = maxTurns
	}
	if concurrency > 0 {
		o.defaultConcurrency = concurrency
	}
}

// Run executes one generation request end to end: resolve topics, build one
// task per leaf, process topics in batches, aggregate errors, summarize.
// Input errors fail fast; record- and topic-level errors are accumulated
// and the run succeeds as long as at least one record was durably created.
func (o *Orchestrator) Run(ctx context.Context, params Params) Result {
	ctx, span := o.tracer.Start(ctx, "generate.run",
		trace.WithAttributes(attribute.String("dataset.id", params.DatasetID)))
	defer span.End()
	defer o.notifier.Close()

	if params.DatasetID == "" {
		return Result{Success: false, Error: "dataset_id is required"}
	}
	mode := params.Mode
	if mode == "" {
		mode = ModeRFT
	}
	if mode != ModeRFT && mode != ModeSFT {
		return Result{Success: false, Error: fmt.Sprintf("unknown generation mode %q", mode)}
	}

	dataset, err := o.store.DatasetByID(ctx, params.DatasetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Success: false, Error: fmt.Sprintf("dataset %s not found", params.DatasetID)}
		}
		return Result{Success: false, Error: fmt.Sprintf("load dataset %s: %v", params.DatasetID, err)}
	}

	var loaded []model.DatasetRecord
	if ids := compact(params.RecordIDs); len(ids) > 0 {
		loaded, err = o.store.RecordsByDatasetID(ctx, params.DatasetID, ids)
		if err != nil {
			return Result{Success: false, DatasetName: dataset.Name,
				Error: fmt.Sprintf("load seed records: %v", err)}
		}
	}

	leaves, seedBased, err := topics.Resolve(dataset.TopicHierarchy, params.SelectedTopics, loaded)
	if err != nil {
		return Result{Success: false, DatasetName: dataset.Name, Error: err.Error()}
	}

	recordsPerTopic := params.Count
	if recordsPerTopic <= 0 {
		recordsPerTopic = o.defaultCount
	}
	turns := params.MaxTurns
	if turns <= 0 {
		turns = o.defaultMaxTurns
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = o.defaultConcurrency
	}

	limiter := llm.NewLimiter(concurrency)
	caller := llm.NewCaller(o.transport, limiter, o.logger).
		WithPolicy(o.callTimeout, o.callAttempts, o.callBaseDelay)
	gen := NewGenerator(caller, persona.NewCache(caller, o.logger), o.logger)

	seeds := make([]*model.DatasetRecord, 0, len(loaded))
	for i := range loaded {
		seeds = append(seeds, &loaded[i])
	}
	if len(seeds) == 0 {
		seeds = []*model.DatasetRecord{nil}
	}
	var seedTools []model.ToolDef
	for _, s := range seeds {
		if s != nil {
			seedTools = s.SeedTools()
			break
		}
	}

	tasks := make([]TopicTask, 0, len(leaves))
	for _, leaf := range leaves {
		tasks = append(tasks, TopicTask{
			TopicID:           leaf.ID,
			TopicName:         leaf.Name,
			TopicPath:         leaf.Path,
			RecordsToGenerate: recordsPerTopic,
			SeedRecords:       taskSeeds(seeds, leaf.ID, seedBased),
			Tools:             seedTools,
			Mode:              mode,
		})
	}

	total := len(tasks) * recordsPerTopic
	tr := &tracker{total: total, notifier: o.notifier}

	o.logger.Info("generate: run starting",
		"dataset", dataset.Name, "topics", len(tasks), "records_per_topic", recordsPerTopic,
		"mode", string(mode), "concurrency", limiter.Max(), "seed_based", seedBased)

	var allErrors []string
	for start := 0; start < len(tasks); start += topicBatchSize {
		end := min(start+topicBatchSize, len(tasks))
		batch := tasks[start:end]
		results := make([]topicResult, len(batch))

		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = o.generateTopic(ctx, batch[i], params.DatasetID, turns, gen, tr)
			}(i)
		}
		wg.Wait()

		for _, res := range results {
			allErrors = append(allErrors, res.errors...)
		}
		o.logger.Info("generate: topic batch complete",
			"topics_done", end, "topics_total", len(tasks),
			"completed", tr.count.Load(), "expected", total)
	}

	created := int(tr.count.Load())
	summary := summarizeErrors(allErrors)
	span.SetAttributes(attribute.Int("records.created", created),
		attribute.Int("errors", len(allErrors)))

	if created == 0 {
		msg := summary
		if msg == "" {
			msg = "no traces were generated"
		}
		return Result{Success: false, DatasetName: dataset.Name, Errors: allErrors, Error: msg}
	}
	return Result{
		Success:      true,
		DatasetName:  dataset.Name,
		CreatedCount: created,
		Errors:       allErrors,
		Error:        summary,
	}
}

// taskSeeds partitions seeds per topic in seed-based mode: a task gets the
// seeds matching its topic, falling back to every available seed when the
// partition comes up empty.
func taskSeeds(seeds []*model.DatasetRecord, topicID string, seedBased bool) []*model.DatasetRecord {
	if !seedBased {
		return seeds
	}
	var matching, all []*model.DatasetRecord
	for _, s := range seeds {
		if s == nil {
			continue
		}
		all = append(all, s)
		topic := s.Topic
		if topic == "" {
			topic = topics.UncategorizedBucket
		}
		if topic == topicID {
			matching = append(matching, s)
		}
	}
	if len(matching) > 0 {
		return matching
	}
	if len(all) > 0 {
		return all
	}
	return seeds
}

type topicResult struct {
	created int
	errors  []string
}

// generateTopic produces one topic's records in sub-batches. Records within
// a sub-batch run concurrently and independently: one record's failure
// never cancels its siblings.
func (o *Orchestrator) generateTopic(ctx context.Context, task TopicTask, datasetID string, turns int, gen *Generator, tr *tracker) topicResult {
	ctx, span := o.tracer.Start(ctx, "generate.topic",
		trace.WithAttributes(attribute.String("topic", task.TopicName)))
	defer span.End()

	var res topicResult
	for start := 0; start < task.RecordsToGenerate; start += recordBatchSize {
		end := min(start+recordBatchSize, task.RecordsToGenerate)
		outcomes := make([]recordOutcome, end-start)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i-start] = o.generateOne(ctx, task, i, datasetID, turns, gen, tr)
			}(i)
		}
		wg.Wait()

		for _, out := range outcomes {
			if out.ok {
				res.created++
			}
			if out.err != "" {
				res.errors = append(res.errors, out.err)
			}
		}
	}

	o.logger.Info("generate: topic complete",
		"topic", task.TopicName, "records", res.created, "errors", len(res.errors))
	return res
}

type recordOutcome struct {
	ok  bool
	err string
}

// generateOne runs a single record pipeline: generate, serialize, persist,
// notify. Every failure is caught here and converted into a labeled error
// string — nothing escapes record scope.
func (o *Orchestrator) generateOne(ctx context.Context, task TopicTask, index int, datasetID string, turns int, gen *Generator, tr *tracker) recordOutcome {
	label := fmt.Sprintf("%s[%d]", task.TopicName, index+1)
	seed := task.SeedRecords[index%len(task.SeedRecords)]

	var (
		rec  *model.SyntheticRecord
		data model.DataInfo
		err  error
	)
	switch task.Mode {
	case ModeSFT:
		var seedMessages []model.Message
		if seed != nil {
			seedMessages = seed.SeedMessages()
		}
		rec, err = gen.Simulate(ctx, task.TopicPath, model.SystemPrompt(seedMessages), task.Tools, turns)
		if err == nil {
			data = buildSFTData(rec, task.Tools)
		}
	default:
		rec, err = gen.GenerateVariation(ctx, task.TopicPath, seed, task.Tools)
		if err == nil {
			data = buildRFTData(rec, task.Tools)
		}
	}
	if err != nil {
		return recordOutcome{err: fmt.Sprintf("%s: %v", label, err)}
	}

	metadata := map[string]any{
		"persona":         rec.Persona,
		"seed_topic_path": task.TopicPath,
		"generated_at_ms": time.Now().UnixMilli(),
	}
	if seed != nil {
		metadata["seed_record_id"] = seed.ID
	}

	persistedRows, err := o.store.AddRecords(ctx, datasetID, []model.NewRecord{{
		Topic:       task.TopicID,
		Data:        data,
		Metadata:    metadata,
		IsGenerated: true,
	}})
	if err != nil {
		return recordOutcome{err: fmt.Sprintf("%s: store add failed: %v", label, err)}
	}
	if len(persistedRows) == 0 {
		o.logger.Warn("generate: store reported zero rows written", "record", label)
		return recordOutcome{}
	}

	tr.persisted(persistedRows)
	o.persisted.Add(ctx, int64(len(persistedRows)))
	return recordOutcome{ok: true}
}

// compact drops empty entries.
func compact(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// summarizeErrors renders the first few errors inline with a count of the
// remainder, or "" when there are none.
func summarizeErrors(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	shown := errs
	if len(shown) > maxErrorsInSummary {
		shown = shown[:maxErrorsInSummary]
	}
	summary := fmt.Sprintf("%d error(s): %s", len(errs), strings.Join(shown, " | "))
	if rest := len(errs) - len(shown); rest > 0 {
		summary += fmt.Sprintf(" (+%d more)", rest)
	}
	return summary
}
