// Package persona memoizes small pools of generated user personas per
// topic, so personas are reused across records of the same topic instead of
// re-generated for every record.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hataori-ai/hataori/internal/llm"
)

// Fallback is returned whenever a usable persona cannot be produced.
// Persona unavailability must never block record generation.
const Fallback = "A curious user interested in the topic."

// DefaultGuidance steers the persona batch prompt when the caller supplies
// no topic-specific guidance.
const DefaultGuidance = "Diverse and realistic"

const batchPrompt = `Create a JSON list of 10 diverse user personas who would be interested in the following topic.

Topic: %s
Topic Guidance: %s

For each persona, provide:
1. A short, catchy name for the persona (e.g., "The Curious Child", "The Skeptical Debater").
2. A 1-2 sentence description of the persona's personality, goals, typical behavior and chatting style.

Make the personas highly varied across dimensions such as:
- Age and life stage (child, teenager, adult, elderly)
- Attitude toward the AI (trusting, skeptical, playful, commanding, fearful, worshipful)
- Communication style (formal, casual, poetic, terse, overly polite, rude)
- Goals or intent (seeking knowledge, entertainment, emotional support, debate, creative collaboration, practical help, testing limits)
- Background or archetype (scientist, artist, detective, conspiracy theorist, etc.)

Output Format:
[
  "Persona Description 1...",
  "Persona Description 2...",
  ...
]

Ensure the list is diverse and creative. Return ONLY the JSON array of strings.`

// Cache holds per-topic persona pools for the duration of one run. The
// first access for a topic issues a single batch request; concurrent first
// accesses on the same key are collapsed with singleflight, so at most one
// batch generation is in flight per topic.
type Cache struct {
	caller *llm.Caller
	logger *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	pools map[string][]string
	next  map[string]int
}

// NewCache creates an empty cache issuing batch requests through caller.
func NewCache(caller *llm.Caller, logger *slog.Logger) *Cache {
	return &Cache{
		caller: caller,
		logger: logger,
		pools:  make(map[string][]string),
		next:   make(map[string]int),
	}
}

// Ensure returns a persona for the topic, generating the topic's pool on
// first access. It never fails: if the batch request errors, the fallback
// persona is cached and returned.
func (c *Cache) Ensure(ctx context.Context, topicKey, topicContext string) string {
	if p, ok := c.take(topicKey); ok {
		return p
	}

	_, _, _ = c.group.Do(topicKey, func() (any, error) {
		// A racing caller may have filled the pool while we queued.
		c.mu.Lock()
		filled := len(c.pools[topicKey]) > 0
		c.mu.Unlock()
		if filled {
			return nil, nil
		}

		prompt := fmt.Sprintf(batchPrompt, topicContext, DefaultGuidance)
		raw, err := c.caller.CompleteText(ctx, prompt, "")
		if err != nil {
			c.logger.Warn("persona: batch generation failed, using fallback",
				"topic", topicKey, "error", err)
			c.put(topicKey, []string{Fallback})
			return nil, nil
		}
		personas := parseList(raw)
		if len(personas) == 0 {
			personas = []string{Fallback}
		}
		c.put(topicKey, personas)
		return nil, nil
	})

	if p, ok := c.take(topicKey); ok {
		return p
	}
	return Fallback
}

// take returns the next pooled persona round-robin. Exact reuse across
// records of the same topic is expected.
func (c *Cache) take(topicKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool := c.pools[topicKey]
	if len(pool) == 0 {
		return "", false
	}
	p := pool[c.next[topicKey]%len(pool)]
	c.next[topicKey]++
	return p, true
}

func (c *Cache) put(topicKey string, personas []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[topicKey] = personas
}

// parseList accepts a JSON array of strings, a bare JSON string, or — as a
// last resort — the cleaned raw text as a single persona.
func parseList(raw string) []string {
	cleaned := llm.CleanJSON(raw)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				out = append(out, s)
			} else {
				out = append(out, string(item))
			}
		}
		return out
	}

	var single string
	if err := json.Unmarshal([]byte(cleaned), &single); err == nil {
		return []string{single}
	}
	if cleaned != "" {
		return []string{cleaned}
	}
	return nil
}
