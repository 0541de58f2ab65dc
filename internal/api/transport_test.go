package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingTransportStripsAuthorizationHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "transport.log")
	rt, err := NewRedactingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)
	defer rt.Close()

	client := &http.Client{Transport: rt}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer super-secret-token")

	resp, err := client.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	logBytes, err := os.ReadFile(logPath)
	require.NoError(t, err)
	logContent := string(logBytes)
	assert.NotContains(t, logContent, "super-secret-token")
	assert.Contains(t, logContent, "Authorization: REDACTED")
}

func TestRedactingTransportStripsCredentialQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logPath := filepath.Join(t.TempDir(), "transport.log")
	rt, err := NewRedactingTransport(http.DefaultTransport, logPath)
	require.NoError(t, err)
	defer rt.Close()

	client := &http.Client{Transport: rt}
	resp, err := client.Get(server.URL + "/download?token=super-secret-token&type=Model")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	logBytes, err := os.ReadFile(logPath)
	require.NoError(t, err)
	logContent := string(logBytes)
	assert.NotContains(t, logContent, "super-secret-token")
	assert.Contains(t, logContent, "token=REDACTED")
	assert.Contains(t, logContent, "type=Model")
}
