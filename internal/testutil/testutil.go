// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/iammorganparry/rolechat-memory/internal/llm"
	"github.com/iammorganparry/rolechat-memory/internal/store"
)

// OpenDB opens a fresh SQLite database under t.TempDir.
func OpenDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Rule answers prompts containing Match with Reply, or fails with Err.
type Rule struct {
	Match string
	Reply string
	Err   error
}

// ScriptedModel is an llm.ChatModel that answers from a rule list. The last
// user message is matched against each rule in order; unmatched prompts
// return "[]".
type ScriptedModel struct {
	mu    sync.Mutex
	rules []Rule
	calls []string
}

func NewScriptedModel(rules ...Rule) *ScriptedModel {
	return &ScriptedModel{rules: rules}
}

func (m *ScriptedModel) Name() string { return "scripted" }

func (m *ScriptedModel) Complete(ctx context.Context, messages []llm.Message, cfg llm.Config) (string, error) {
	prompt := ""
	if n := len(messages); n > 0 {
		prompt = messages[n-1].Content
	}
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	rules := m.rules
	m.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(prompt, r.Match) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Reply, nil
		}
	}
	return "[]", nil
}

// Calls returns every prompt seen so far.
func (m *ScriptedModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// HashEmbedder derives a deterministic unit vector from the bag of words in
// the text, so texts sharing words are close in cosine distance.
type HashEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func (e *HashEmbedder) Model() string { return "hash" }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 32
	}
	vec := make([]float64, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?'\"")
		if word == "" {
			continue
		}
		h := sha256.Sum256([]byte(word))
		vec[int(h[0])%dim] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, dim)
	if norm == 0 {
		out[0] = 1
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// Calls returns how many times Embed ran.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
