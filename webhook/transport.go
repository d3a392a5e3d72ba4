// Package webhook provides the HTTP implementation of the engine's webhook
// Transport. The engine assembles method, url, headers and body; this
// package owns the wire call.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liamcoop/reactor/engine"
)

const maxResponseBytes = 64 * 1024

// HTTPTransport delivers webhook requests over plain HTTP. The action's
// context carries the per-action timeout, so the client itself has no
// timeout of its own.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with a default client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// NewHTTPTransportWithClient creates a transport around an existing client.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// Do delivers one assembled webhook request. Non-2xx responses are errors
// so the engine records the action as failed.
func (t *HTTPTransport) Do(ctx context.Context, req engine.WebhookRequest) (engine.WebhookResponse, error) {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return engine.WebhookResponse{}, fmt.Errorf("failed to serialize webhook body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return engine.WebhookResponse{}, fmt.Errorf("failed to build webhook request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return engine.WebhookResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return engine.WebhookResponse{}, fmt.Errorf("failed to read webhook response: %w", err)
	}

	out := engine.WebhookResponse{StatusCode: resp.StatusCode, Body: respBody}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return out, nil
}
