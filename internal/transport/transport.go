package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Doer is the JSON transport contract the engine consumes. Implementations
// decode the response body into out (which may be nil when the caller does
// not care about the body) and return a classified *Error on failure.
type Doer interface {
	Get(ctx context.Context, path string, out interface{}) error
	Post(ctx context.Context, path string, body, out interface{}) error
	Put(ctx context.Context, path string, body, out interface{}) error
	Delete(ctx context.Context, path string, out interface{}) error
}

// HTTPClient is the default Doer over net/http.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
	Headers map[string]string // applied to every request, e.g. Authorization
}

// NewHTTPClient returns a Doer bound to baseURL with a 10s request timeout.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPClient) Get(ctx context.Context, path string, out interface{}) error {
	return h.do(ctx, http.MethodGet, path, nil, out)
}

func (h *HTTPClient) Post(ctx context.Context, path string, body, out interface{}) error {
	return h.do(ctx, http.MethodPost, path, body, out)
}

func (h *HTTPClient) Put(ctx context.Context, path string, body, out interface{}) error {
	return h.do(ctx, http.MethodPut, path, body, out)
}

func (h *HTTPClient) Delete(ctx context.Context, path string, out interface{}) error {
	return h.do(ctx, http.MethodDelete, path, nil, out)
}

// errorBody is the shape remote services use for error responses.
type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		// anything below the HTTP layer is a network-class failure
		return &Error{Type: TypeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Type: TypeNetwork, Message: fmt.Sprintf("read body: %v", err)}
	}

	if resp.StatusCode >= 400 {
		te := &Error{
			StatusCode: resp.StatusCode,
			Type:       classify(resp.StatusCode),
			Message:    http.StatusText(resp.StatusCode),
		}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			te.Code = eb.Code
			switch {
			case eb.Message != "":
				te.Message = eb.Message
			case eb.Error != "":
				te.Message = eb.Error
			}
		}
		return te
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
