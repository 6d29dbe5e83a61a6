package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// apiTimeout covers a full reply, which includes the backend call.
const apiTimeout = 90 * time.Second

// apiClient talks to a running persona server.
type apiClient struct {
	http      *http.Client
	serverURL string
}

// newAPIClient respects PERSONA_URL and falls back to the configured listen
// address.
func newAPIClient(url string) *apiClient {
	if url == "" {
		url = os.Getenv("PERSONA_URL")
	}
	if url == "" {
		url = "http://" + cfg.ListenAddr()
	}
	return &apiClient{
		http:      &http.Client{Timeout: apiTimeout},
		serverURL: url,
	}
}

// post sends v as JSON and decodes the response into out.
func (c *apiClient) post(ctx context.Context, path string, v, out any) error {
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// healthy checks if the server is reachable.
func (c *apiClient) healthy(ctx context.Context) bool {
	return c.get(ctx, "/api/health", nil) == nil
}
