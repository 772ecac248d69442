// Package mcp exposes the memory HTTP API as MCP tools over stdio so an
// agent-driven chat layer can call it without its own HTTP client.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverVersion = "1.0.0"

// Server delegates every tool call to a running memory server.
type Server struct {
	serverURL string
	apiKey    string
	client    *http.Client
}

// NewServer creates a bridge to the memory server at serverURL. apiKey is
// sent as a bearer token when set.
func NewServer(serverURL, apiKey string) *Server {
	return &Server{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		client: &http.Client{
			// context assembly embeds the query and may call the LLM-backed
			// summarizer on session rollover
			Timeout: 60 * time.Second,
		},
	}
}

// MCPServer builds the SDK server with every memory tool registered.
func (s *Server) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "rolechat-memory",
		Version: serverVersion,
	}, nil)
	s.registerTools(srv)
	return srv
}

// Run serves MCP on stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) call(ctx context.Context, method, path string, body any) (*mcp.CallToolResult, any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.serverURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("memory server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	out := string(respBody)
	if resp.StatusCode == http.StatusNoContent {
		out = "ok"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out}},
		IsError: resp.StatusCode >= 400,
	}, nil, nil
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}
