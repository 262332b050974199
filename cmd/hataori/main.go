// Command hataori generates synthetic training traces into a dataset.
//
// Usage:
//
//	hataori -init "Support Bot" -hierarchy topics.json     create a dataset
//	hataori -dataset <id> -mode sft -count 5               generate traces
//	hataori -mcp                                           serve MCP on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hataori-ai/hataori"
	"github.com/hataori-ai/hataori/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env before reading config so HATAORI_LOG_LEVEL set there takes
	// effect for the logger too.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	var (
		dbPath      = flag.String("db", "", "SQLite database path (overrides HATAORI_DB_PATH)")
		initName    = flag.String("init", "", "create a dataset with this name and exit")
		hierarchy   = flag.String("hierarchy", "", "JSON file with the topic hierarchy for -init")
		datasetID   = flag.String("dataset", "", "dataset to generate traces into")
		mode        = flag.String("mode", "rft", "generation mode: rft or sft")
		count       = flag.Int("count", 0, "records per leaf topic (0 = default)")
		maxTurns    = flag.Int("max-turns", 0, "max user turns per sft conversation (0 = default)")
		concurrency = flag.Int("concurrency", 0, "max concurrent model calls (0 = default)")
		topicList   = flag.String("topics", "", "comma-separated leaf topic ids or names to generate for")
		recordList  = flag.String("records", "", "comma-separated seed record ids")
		serveMCP    = flag.Bool("mcp", false, "serve the MCP protocol on stdin/stdout")
	)
	flag.Parse()

	opts := []hataori.Option{
		hataori.WithLogger(logger),
		hataori.WithVersion(version),
	}
	if *dbPath != "" {
		opts = append(opts, hataori.WithDatabasePath(*dbPath))
	}

	app, err := hataori.New(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	switch {
	case *initName != "":
		return initDataset(ctx, app, *initName, *hierarchy)
	case *serveMCP:
		return app.ServeMCP()
	case *datasetID != "":
		return generate(ctx, app, hataori.GenerateRequest{
			DatasetID:   *datasetID,
			Mode:        hataori.Mode(*mode),
			Count:       *count,
			MaxTurns:    *maxTurns,
			Concurrency: *concurrency,
			Topics:      splitCSV(*topicList),
			RecordIDs:   splitCSV(*recordList),
		})
	default:
		flag.Usage()
		return fmt.Errorf("one of -init, -dataset, or -mcp is required")
	}
}

func initDataset(ctx context.Context, app *hataori.App, name, hierarchyPath string) error {
	var nodes []hataori.TopicNode
	if hierarchyPath != "" {
		data, err := os.ReadFile(hierarchyPath)
		if err != nil {
			return fmt.Errorf("read hierarchy: %w", err)
		}
		if err := json.Unmarshal(data, &nodes); err != nil {
			return fmt.Errorf("parse hierarchy: %w", err)
		}
	}

	dataset, err := app.CreateDataset(ctx, name, nodes)
	if err != nil {
		return err
	}
	fmt.Println(dataset.ID)
	return nil
}

func generate(ctx context.Context, app *hataori.App, req hataori.GenerateRequest) error {
	result := app.Generate(ctx, req, func(p hataori.Progress) {
		slog.Info("progress", "completed", p.Completed, "total", p.Total)
	})

	for _, msg := range result.Errors {
		slog.Warn("record error", "error", msg)
	}
	if !result.Success {
		return fmt.Errorf("generation failed: %s", result.Error)
	}

	slog.Info("generation complete",
		"dataset", result.DatasetName,
		"created", result.CreatedCount,
		"errors", len(result.Errors))
	return nil
}

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
