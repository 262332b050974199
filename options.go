package hataori

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger        *slog.Logger
	version       string
	databasePath  string
	model         string
	baseURL       string
	apiKey        string
	completer     ChatCompleter
	progressHooks []ProgressHook
	callTimeout   time.Duration
	callAttempts  int
	callBaseDelay time.Duration
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP server.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabasePath overrides the SQLite path from config (HATAORI_DB_PATH
// env var). Use ":memory:" for an ephemeral database.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithModel overrides the model name from config (HATAORI_MODEL env var).
func WithModel(model string) Option {
	return func(o *resolvedOptions) { o.model = model }
}

// WithBaseURL overrides the provider endpoint from config (HATAORI_BASE_URL
// env var). Any OpenAI-compatible chat-completions endpoint works.
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithAPIKey overrides the provider API key from config (OPENAI_API_KEY env var).
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = key }
}

// WithChatCompleter replaces the built-in OpenAI-compatible transport.
// Only the last call wins.
func WithChatCompleter(c ChatCompleter) Option {
	return func(o *resolvedOptions) { o.completer = c }
}

// WithProgressHook registers a hook that observes progress events from every
// generation run. Multiple hooks may be registered; all receive every event.
func WithProgressHook(hook ProgressHook) Option {
	return func(o *resolvedOptions) { o.progressHooks = append(o.progressHooks, hook) }
}

// WithCallPolicy overrides the per-call timeout and retry policy for model
// calls. Zero values keep the configured defaults.
func WithCallPolicy(timeout time.Duration, attempts int, baseDelay time.Duration) Option {
	return func(o *resolvedOptions) {
		o.callTimeout = timeout
		o.callAttempts = attempts
		o.callBaseDelay = baseDelay
	}
}
