// Package runner implements the remote runner process: it registers with the
// coordinator, checks out test classes, executes their methods, and reports
// per-method outcomes back.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/me/classq/pkg/model"
)

// Client communicates with the classq coordinator API on behalf of a runner.
type Client struct {
	baseURL    string
	httpClient *http.Client
	runnerID   string
}

// NewClient creates a runner API client with connection pooling. The client
// timeout must exceed the server's long-poll hold time.
func NewClient(baseURL string, pollTimeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   pollTimeout,
			Transport: transport,
		},
	}
}

// RunnerID returns the registered runner ID.
func (c *Client) RunnerID() string {
	return c.runnerID
}

// Register registers the runner with the coordinator and stores the
// assigned runner ID.
func (c *Client) Register(ctx context.Context, name, hostname string) (*model.Runner, error) {
	body, err := json.Marshal(map[string]string{
		"name":     name,
		"hostname": hostname,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/runners", body)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var runner model.Runner
	if err := decodeResponseData(resp, &runner); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	c.runnerID = runner.ID
	return &runner, nil
}

// Heartbeat sends a heartbeat to update last_seen.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/runners/%s/heartbeat", c.runnerID), nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// FetchWork long-polls the coordinator for the next class. It returns
// (nil, true, nil) when the queue has closed and the runner should exit,
// and (nil, false, nil) when the poll came back empty but more work may
// still arrive.
func (c *Client) FetchWork(ctx context.Context) (*model.Item, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+fmt.Sprintf("/api/v1/runners/%s/work", c.runnerID), nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch work: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, resp.Header.Get("X-Queue-Closed") == "true", nil
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("fetch work: HTTP %d: %s", resp.StatusCode, body)
	}

	var item model.Item
	if err := decodeResponseData(resp, &item); err != nil {
		return nil, false, fmt.Errorf("fetch work: %w", err)
	}
	return &item, false, nil
}

// ReportResult sends one per-method outcome.
func (c *Client) ReportResult(ctx context.Context, res model.MethodResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}

	_, err = c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/runners/%s/results", c.runnerID), body)
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	return nil
}

// CheckIn releases the runner's hold on a class. timedOut indicates the
// runner's own execution deadline expired.
func (c *Client) CheckIn(ctx context.Context, classPath string, timedOut bool) error {
	body, err := json.Marshal(map[string]any{
		"class_path": classPath,
		"timed_out":  timedOut,
	})
	if err != nil {
		return err
	}

	_, err = c.doRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/runners/%s/checkin", c.runnerID), body)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	return resp, nil
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}
