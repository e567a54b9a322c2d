package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
	require.NotNil(t, c.HTTPClient)
	assert.Equal(t, 30*time.Second, c.HTTPClient.Timeout)
}

func TestDo_BuildsRequest(t *testing.T) {
	var (
		gotPath   string
		gotQuery  url.Values
		gotBody   map[string]any
		gotMethod string
		gotCT     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		if r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	resp, err := c.Do(context.Background(), http.MethodPost, "/runs", url.Values{"status": {"FAILED"}}, map[string]string{"requested_by": "alice"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/v1/runs", gotPath)
	assert.Equal(t, "FAILED", gotQuery.Get("status"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, "alice", gotBody["requested_by"])

	resp, err = c.Do(context.Background(), http.MethodGet, "/runs/r1", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/v1/runs/r1", gotPath)
	assert.Empty(t, gotCT)
}

func TestDo_ConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Do(context.Background(), http.MethodGet, "/runs", nil, nil)
	require.Error(t, err)
}

func TestCheckError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  string
		wantCode int
	}{
		{name: "200 OK", status: 200},
		{name: "202 Accepted", status: 202},
		{name: "structured", status: 409, body: `{"code":409,"message":"run \"r1\" is already in flight"}`, wantErr: `API error (HTTP 409): run "r1" is already in flight`, wantCode: 409},
		{name: "raw body", status: 500, body: "Internal Server Error", wantErr: "API error (HTTP 500): Internal Server Error"},
		{name: "empty message falls back to body", status: 400, body: `{"code":400,"message":""}`, wantErr: `API error (HTTP 400): {"code":400,"message":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
			err := CheckError(resp)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}
