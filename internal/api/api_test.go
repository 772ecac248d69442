package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iammorganparry/rolechat-memory/internal/assembly"
	"github.com/iammorganparry/rolechat-memory/internal/attention"
	"github.com/iammorganparry/rolechat-memory/internal/extraction"
	"github.com/iammorganparry/rolechat-memory/internal/memory"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/sessions"
	"github.com/iammorganparry/rolechat-memory/internal/testutil"
	"github.com/iammorganparry/rolechat-memory/internal/vectorstore"
)

const testAPIKey = "secret"

type fakeHealth struct{ err error }

func (p fakeHealth) HealthCheck(ctx context.Context) error { return p.err }

func setupRouter(t *testing.T, llmHealth HealthChecker) http.Handler {
	t.Helper()
	logger := testutil.Logger()
	db := testutil.OpenDB(t)
	index, err := vectorstore.NewChromemIndex("")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	model := testutil.NewScriptedModel(
		testutil.Rule{Match: "pull out what it tells you about the USER",
			Reply: `[{"type": "fact", "content": "User's name is Sarah", "importance": 0.95}]`},
		testutil.Rule{Match: "Summarize this conversation", Reply: "Sarah said hello."},
	)
	embedder := &testutil.HashEmbedder{}

	repo := memory.NewRepository(db, index, vectorstore.NewCollectionManager(index, ""), logger)
	svc := memory.NewService(repo,
		extraction.NewExtractor(model, 0, logger),
		sessions.NewSummarizer(model, logger),
		assembly.NewAssembler(repo, embedder, attention.NewScorer(attention.DefaultWeights()),
			assembly.NewCompressor(assembly.DefaultBudget(), nil), logger),
		embedder, nil, memory.Options{}, logger)
	t.Cleanup(svc.Close)

	return NewRouter(db, svc, index, llmHealth, testAPIKey, logger)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func TestAuth(t *testing.T) {
	h := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/u1/characters/Sherlock/memories", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to skip auth, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "abc123" {
		t.Fatal("expected the incoming request id to be echoed")
	}
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rec := do(t, setupRouter(t, nil), http.MethodGet, "/health", nil)
		resp := decode[models.HealthResponse](t, rec)
		if rec.Code != http.StatusOK || resp.Status != "ok" || resp.LLM.Message != "not checked" {
			t.Fatalf("unexpected health %d %+v", rec.Code, resp)
		}
	})

	t.Run("degraded llm", func(t *testing.T) {
		rec := do(t, setupRouter(t, fakeHealth{err: errors.New("connection refused")}), http.MethodGet, "/health", nil)
		resp := decode[models.HealthResponse](t, rec)
		if rec.Code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.LLM.Status != "error" {
			t.Fatalf("unexpected health %d %+v", rec.Code, resp)
		}
	})
}

func TestChatTurnFlow(t *testing.T) {
	h := setupRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/sessions", models.SessionRequest{UserID: "u1", CharacterName: "Sherlock"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a new session, got %d", rec.Code)
	}
	created := decode[models.SessionResponse](t, rec)
	if !created.IsNew || created.Session.ID == "" {
		t.Fatalf("unexpected session response %+v", created)
	}

	rec = do(t, h, http.MethodPost, "/sessions", models.SessionRequest{UserID: "u1", CharacterName: "Sherlock"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an existing session, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/exchanges", models.ExchangeRequest{
		UserID: "u1", CharacterName: "Sherlock",
		UserMessage: "Hi, I'm Sarah", AssistantResponse: "Good evening, Sarah.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("exchange failed: %d %s", rec.Code, rec.Body.String())
	}
	sess := decode[models.Session](t, rec)
	if sess.MessageCount != 2 {
		t.Fatalf("expected 2 messages, got %d", sess.MessageCount)
	}

	rec = do(t, h, http.MethodPost, "/context", models.ContextRequest{
		UserID: "u1", CharacterName: "Sherlock", CharacterProfile: "A detective.", CurrentMessage: "Do you remember me?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("context failed: %d %s", rec.Code, rec.Body.String())
	}
	ctxResp := decode[models.ContextResponse](t, rec)
	if ctxResp.SessionID != created.Session.ID {
		t.Fatal("expected context for the active session")
	}
	if !strings.Contains(ctxResp.FullPrompt, "RELEVANT MEMORIES:\nKey facts about this user:\n  • User's name is Sarah") {
		t.Fatalf("unexpected prompt %q", ctxResp.FullPrompt)
	}
	if !strings.HasPrefix(ctxResp.FullPrompt, "You are Sherlock.") {
		t.Fatal("expected the system prompt first")
	}

	rec = do(t, h, http.MethodGet, "/users/u1/characters/Sherlock/memories", nil)
	list := decode[models.ListMemoriesResponse](t, rec)
	if list.Total != 1 {
		t.Fatalf("expected 1 memory, got %d", list.Total)
	}

	rec = do(t, h, http.MethodPost, "/sessions/"+created.Session.ID+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end failed: %d %s", rec.Code, rec.Body.String())
	}
	ended := decode[models.Session](t, rec)
	if ended.IsActive || ended.FinalSummary != "Sarah said hello." {
		t.Fatalf("unexpected ended session %+v", ended)
	}

	rec = do(t, h, http.MethodPost, "/sessions/"+created.Session.ID+"/end", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 ending twice, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/users/u1/characters/Sherlock/summary", nil)
	summary := decode[models.ConversationSummary](t, rec)
	if summary.TotalSessions != 1 || summary.TotalMessages != 2 || summary.LastSessionSummary != "Sarah said hello." {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = do(t, h, http.MethodDelete, "/memories/"+list.Memories[0].ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/memories/"+list.Memories[0].ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a deleted memory, got %d", rec.Code)
	}
}

func TestValidation(t *testing.T) {
	h := setupRouter(t, nil)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"session missing character", "/sessions", models.SessionRequest{UserID: "u1"}, http.StatusBadRequest},
		{"context missing user", "/context", models.ContextRequest{CharacterName: "Sherlock"}, http.StatusBadRequest},
		{"exchange missing reply", "/exchanges", models.ExchangeRequest{UserID: "u1", CharacterName: "Sherlock", UserMessage: "hi"}, http.StatusBadRequest},
		{"unknown field", "/sessions", map[string]string{"user_id": "u1", "character_name": "S", "extra": "x"}, http.StatusBadRequest},
		{"empty body", "/sessions", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if rec := do(t, h, http.MethodPost, "/sessions/missing/end", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d", rec.Code)
	}
}

func TestClearAndEntities(t *testing.T) {
	h := setupRouter(t, nil)
	do(t, h, http.MethodPost, "/exchanges", models.ExchangeRequest{
		UserID: "u1", CharacterName: "Sherlock", UserMessage: "I'm Sarah", AssistantResponse: "Hello.",
	})

	rec := do(t, h, http.MethodGet, "/users/u1/characters/Sherlock/entities", nil)
	entities := decode[models.ListEntitiesResponse](t, rec)
	if entities.Entities == nil {
		t.Fatal("expected an empty list rather than null")
	}

	rec = do(t, h, http.MethodDelete, "/users/u1/characters/Sherlock/memories", nil)
	cleared := decode[models.ClearResponse](t, rec)
	if cleared.Deleted != 1 {
		t.Fatalf("expected 1 memory cleared, got %d", cleared.Deleted)
	}
}
