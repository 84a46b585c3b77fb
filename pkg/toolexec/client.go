package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CallError is a structured error returned by the analytics service for a
// tool call, as opposed to a transport fault.
type CallError struct {
	Tool    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// Client talks to the analytics tool service over HTTP: POST /execute for
// tool calls, GET /tools for capability discovery.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. The timeout bounds
// each individual call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type executeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// ExecuteTool performs one tool call. A service-reported failure comes back
// as a *CallError; transport and decoding faults as plain errors.
func (c *Client) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	body, err := json.Marshal(executeRequest{ToolName: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded executeResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON response (status %d): %w", resp.StatusCode, err)
	}

	if decoded.Error != "" {
		return nil, &CallError{Tool: name, Message: decoded.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d executing tool %s", resp.StatusCode, name)
	}
	if len(decoded.Result) == 0 {
		return json.RawMessage("{}"), nil
	}

	return decoded.Result, nil
}

// ListTools fetches the service's capability listing.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d listing tools", resp.StatusCode)
	}

	var tools []ToolInfo
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("invalid tool listing: %w", err)
	}

	return tools, nil
}
