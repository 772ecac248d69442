package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

type scopeArgs struct {
	UserID        string `json:"user_id" jsonschema:"The user the character is talking to"`
	CharacterName string `json:"character_name" jsonschema:"The character whose memories are used"`
}

type contextArgs struct {
	UserID           string `json:"user_id" jsonschema:"The user the character is talking to"`
	CharacterName    string `json:"character_name" jsonschema:"The character about to reply"`
	CharacterProfile string `json:"character_profile,omitempty" jsonschema:"The character's profile text, included verbatim"`
	CurrentMessage   string `json:"current_message,omitempty" jsonschema:"The user's new message, used to find relevant memories"`
}

type exchangeArgs struct {
	UserID            string `json:"user_id" jsonschema:"The user the character is talking to"`
	CharacterName     string `json:"character_name" jsonschema:"The character that replied"`
	UserMessage       string `json:"user_message" jsonschema:"What the user said"`
	AssistantResponse string `json:"assistant_response" jsonschema:"What the character replied"`
}

type sessionArgs struct {
	SessionID string `json:"session_id" jsonschema:"ID of the session to end"`
}

type listArgs struct {
	UserID        string `json:"user_id" jsonschema:"The user whose memories are listed"`
	CharacterName string `json:"character_name" jsonschema:"The character holding the memories"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum memories to return (default 50)"`
}

type forgetArgs struct {
	MemoryID string `json:"memory_id" jsonschema:"ID of the memory to delete"`
}

func (s *Server) registerTools(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "memory_context",
		Description: "Build the prompt for the character's next reply. Returns the full prompt with " +
			"what the character knows about the user, relevant memories and the recent conversation. " +
			"Call this before generating every reply.",
	}, s.toolContext)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "memory_record_exchange",
		Description: "Record one user message and the character's reply. Memories and entities " +
			"are extracted from it. Call this after every reply.",
	}, s.toolRecordExchange)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "memory_end_session",
		Description: "End a conversation session. A summary is written that the character " +
			"recalls at the start of the next conversation.",
	}, s.toolEndSession)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "memory_summary",
		Description: "Get session, message, memory and entity counts for a user and character.",
	}, s.toolSummary)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "memory_list",
		Description: "List what the character remembers about the user, most important first.",
	}, s.toolList)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "memory_forget",
		Description: "Delete a single memory by ID.",
	}, s.toolForget)
}

func (s *Server) toolContext(ctx context.Context, _ *mcp.CallToolRequest, args contextArgs) (*mcp.CallToolResult, any, error) {
	res, _, err := s.call(ctx, http.MethodPost, "/context", models.ContextRequest{
		UserID:           args.UserID,
		CharacterName:    args.CharacterName,
		CharacterProfile: args.CharacterProfile,
		CurrentMessage:   args.CurrentMessage,
	})
	if err != nil || res.IsError {
		return res, nil, err
	}

	// the agent only needs the prompt, not every section
	var out models.ContextResponse
	raw := res.Content[0].(*mcp.TextContent).Text
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, nil, fmt.Errorf("decode context response: %w", err)
	}
	return text(out.FullPrompt), nil, nil
}

func (s *Server) toolRecordExchange(ctx context.Context, _ *mcp.CallToolRequest, args exchangeArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, http.MethodPost, "/exchanges", models.ExchangeRequest{
		UserID:            args.UserID,
		CharacterName:     args.CharacterName,
		UserMessage:       args.UserMessage,
		AssistantResponse: args.AssistantResponse,
	})
}

func (s *Server) toolEndSession(ctx context.Context, _ *mcp.CallToolRequest, args sessionArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, http.MethodPost, "/sessions/"+url.PathEscape(args.SessionID)+"/end", nil)
}

func (s *Server) toolSummary(ctx context.Context, _ *mcp.CallToolRequest, args scopeArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, http.MethodGet, scopePath(args.UserID, args.CharacterName)+"/summary", nil)
}

func (s *Server) toolList(ctx context.Context, _ *mcp.CallToolRequest, args listArgs) (*mcp.CallToolResult, any, error) {
	path := scopePath(args.UserID, args.CharacterName) + "/memories"
	if args.Limit > 0 {
		path += fmt.Sprintf("?limit=%d", args.Limit)
	}
	return s.call(ctx, http.MethodGet, path, nil)
}

func (s *Server) toolForget(ctx context.Context, _ *mcp.CallToolRequest, args forgetArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, http.MethodDelete, "/memories/"+url.PathEscape(args.MemoryID), nil)
}

func scopePath(userID, characterName string) string {
	return "/users/" + url.PathEscape(userID) + "/characters/" + url.PathEscape(characterName)
}
