package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// QdrantClient interfaces with the Qdrant REST API for vector operations.
type QdrantClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewQdrantClient(baseURL string) *QdrantClient {
	return &QdrantClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck verifies Qdrant connectivity.
func (c *QdrantClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant health check: status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates a cosine collection of the given size if it
// doesn't exist. An existing collection with a different size is an error.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, dim int) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var info struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		if json.Unmarshal(body, &info) == nil {
			if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dim {
				return fmt.Errorf("collection %s has dimension %d, want %d", name, size, dim)
			}
		}
		return nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	_, err = c.send(ctx, http.MethodPut, "/collections/"+name, req)
	return err
}

// Upsert inserts or updates vector points in a collection.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{
		"points": points,
	}
	_, err := c.send(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body)
	return err
}

// Search finds the nearest vectors in a collection restricted to the filter.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "user_id", "match": map[string]any{"value": filter.UserID}},
				{"key": "character_name", "match": map[string]any{"value": filter.CharacterName}},
			},
		},
	}

	respBody, err := c.send(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, r := range resp.Result {
		results[i] = SearchResult{
			ID:       fmt.Sprint(r.ID),
			Score:    r.Score,
			MemoryID: r.Payload.MemoryID,
		}
	}
	return results, nil
}

// DeletePoints removes points by their IDs from a collection.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, ids []string) error {
	body := map[string]any{
		"points": ids,
	}
	_, err := c.send(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body)
	return err
}

func (c *QdrantClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *QdrantClient) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.do(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
