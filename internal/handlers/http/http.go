package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"localqueue/internal/worker"
)

const Type = "http"

// maxBody caps how much of a response body is kept in the task result.
const maxBody = 64 << 10

// HTTP performs one outbound request described by the task parameters.
// Client is optional; a fresh client is used per task otherwise.
type HTTP struct {
	Client *http.Client
}

type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout int // seconds
}

func parseRequest(params map[string]any) (Request, error) {
	req := Request{
		URL:    cast.ToString(params["url"]),
		Method: strings.ToUpper(cast.ToString(params["method"])),
		Body:   cast.ToString(params["body"]),
	}
	if req.URL == "" {
		return req, fmt.Errorf("URL is required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if raw, ok := params["headers"]; ok {
		headers, err := cast.ToStringMapStringE(raw)
		if err != nil {
			return req, fmt.Errorf("headers must be an object of strings: %w", err)
		}
		req.Headers = headers
	}
	req.Timeout = cast.ToInt(params["timeout"])
	if req.Timeout <= 0 {
		req.Timeout = 30
	}
	return req, nil
}

func (h HTTP) Handle(ctx context.Context, taskID string, params map[string]any, report worker.ProgressFunc) (map[string]any, error) {
	req, err := parseRequest(params)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP request parameters: %w", err)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	report(taskID, 50)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}, nil
}
