package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL)
}

func TestGetDecodesBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/things/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"widget"}`))
	})

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, client.Get(context.Background(), "/things/42", &out))
	assert.Equal(t, "widget", out.Name)
}

func TestPostSendsJSONAndHeaders(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	})
	client.Headers = map[string]string{"Authorization": "Bearer tok"}

	err := client.Post(context.Background(), "/things", map[string]string{"a": "b"}, nil)
	assert.NoError(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType string
	}{
		{"server error", 500, TypeServer},
		{"bad gateway", 502, TypeServer},
		{"not found", 404, TypeClient},
		{"conflict", 409, TypeClient},
		{"unauthorized", 401, TypeAuth},
		{"forbidden", 403, TypeAuth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			err := client.Get(context.Background(), "/x", nil)

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.wantType, te.Type)
			assert.Equal(t, tc.status, te.StatusCode)
		})
	}
}

func TestErrorBodyCodeAndMessageExtracted(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"AMOUNT_MISMATCH","message":"amount does not match"}`))
	})

	err := client.Get(context.Background(), "/x", nil)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "AMOUNT_MISMATCH", te.Code)
	assert.Equal(t, "amount does not match", te.Message)
	assert.Equal(t, "AMOUNT_MISMATCH", ErrorCode(err))
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	// a closed port: nothing is listening
	client := NewHTTPClient("http://127.0.0.1:1")

	err := client.Get(context.Background(), "/x", nil)

	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&Error{Type: TypeNetwork}))
	assert.True(t, IsRetryable(&Error{Type: TypeServer, StatusCode: 503}))
	assert.False(t, IsRetryable(&Error{Type: TypeClient, StatusCode: 404}))
	assert.False(t, IsRetryable(&Error{Type: TypeAuth, StatusCode: 401}))
	assert.False(t, IsRetryable(errors.New("plain")))
}
