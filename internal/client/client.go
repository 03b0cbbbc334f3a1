// Package client is a small HTTP client for the insight pipeline operator
// API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joelkehle/insight-pipeline/internal/pipeline"
	"github.com/joelkehle/insight-pipeline/internal/response"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed status=%d code=%s: %s", e.Method, e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s failed status=%d", e.Method, e.Path, e.StatusCode)
}

type Status struct {
	ResponseID      string          `json:"response_id"`
	Status          response.Status `json:"status"`
	Completed       bool            `json:"completed"`
	Failed          bool            `json:"failed"`
	ProcessingError string          `json:"processing_error"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) DoJSON(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(blob, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return blob, apiErr
	}
	return blob, nil
}

type accepted struct {
	ResponseID string          `json:"response_id"`
	Status     response.Status `json:"status"`
}

func (c *Client) Submit(ctx context.Context, s pipeline.Submission) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return c.action(ctx, "/v1/responses", body)
}

func (c *Client) Process(ctx context.Context, id string) (string, error) {
	return c.action(ctx, "/v1/responses/"+url.PathEscape(id)+"/process", nil)
}

func (c *Client) Reprocess(ctx context.Context, id string) (string, error) {
	return c.action(ctx, "/v1/responses/"+url.PathEscape(id)+"/reprocess", nil)
}

func (c *Client) action(ctx context.Context, path string, body []byte) (string, error) {
	out, err := c.DoJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	var resp accepted
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ResponseID) == "" {
		return "", fmt.Errorf("missing response_id in response")
	}
	return resp.ResponseID, nil
}

func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	out, err := c.DoJSON(ctx, http.MethodGet, "/v1/responses/"+url.PathEscape(id)+"/status", nil)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(out, &st)
	return st, err
}

func (c *Client) Response(ctx context.Context, id string) (*response.Response, error) {
	out, err := c.DoJSON(ctx, http.MethodGet, "/v1/responses/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var r response.Response
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Report downloads the report in format (json, markdown, html or pdf).
func (c *Client) Report(ctx context.Context, id, format string) ([]byte, error) {
	path := "/v1/responses/" + url.PathEscape(id) + "/report"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	return c.DoJSON(ctx, http.MethodGet, path, nil)
}

// Wait polls the status until the response is completed or failed.
func (c *Client) Wait(ctx context.Context, id string, every time.Duration) (Status, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		st, err := c.Status(ctx, id)
		if err != nil {
			return st, err
		}
		if st.Completed || st.Failed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}
