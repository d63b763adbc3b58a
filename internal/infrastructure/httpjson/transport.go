// Package httpjson holds the JSON-over-HTTP plumbing shared by the OCR
// inference and LLM clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request describes one JSON POST.
type Request struct {
	Service   string
	Operation string
	URL       string
	Header    http.Header
	Payload   any
}

// Post marshals req.Payload, sends it and decodes a 2xx response into out.
// Non-2xx responses become *StatusError with a bounded copy of the body.
func Post(ctx context.Context, client *http.Client, req Request, out any) error {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", req.Operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", req.Service, req.Operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			Service:    req.Service,
			Operation:  req.Operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Operation, err)
	}
	return nil
}

type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, e.Body)
}
