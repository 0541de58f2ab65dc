package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"modelregistry/internal/catalog"
	"modelregistry/internal/credential"
	"modelregistry/internal/downloader"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"
	"modelregistry/internal/resolver"
	"modelregistry/internal/urladmit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, allowedHost string) (*Server, *pathpolicy.Policy) {
	t.Helper()
	base := t.TempDir()
	policy := pathpolicy.New(base)
	cat, err := catalog.Open(policy.CatalogPath(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	admitter := urladmit.New([]string{allowedHost})
	broker := credential.New(time.Hour)
	engine := downloader.New(policy, cat, admitter, broker, &http.Client{}, 0)
	res := resolver.New(cat, policy)

	return New(cat, res, engine, broker), policy
}

func TestCheckDependenciesReportsMissingAndExisting(t *testing.T) {
	server, policy := newTestServer(t, "huggingface.co")

	canonicalPath, err := policy.Resolve("checkpoint", "a.safetensors")
	require.NoError(t, err)
	cat := server.catalog
	require.NoError(t, cat.AddArtifact(models.Artifact{Hash: "h1", CanonicalPath: canonicalPath, SizeBytes: 100}))

	body := `{"dependencies":{"checkpoint":[
		{"filename":"b.safetensors","sha256":"h1","size":100},
		{"filename":"c.safetensors","sha256":"h2","size":200,"urls":["https://huggingface.co/x"]}
	]}}`

	req := httptest.NewRequest(http.MethodPost, "/models/check-dependencies", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp checkDependenciesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Existing, 1)
	assert.Equal(t, "symlink", resp.Existing[0].Action)
	require.Len(t, resp.Missing, 1)
	assert.Equal(t, uint64(200), resp.TotalDownloadSize)
	assert.Equal(t, uint64(100), resp.TotalSavedSize)
}

func TestDownloadStreamsNDJSONAndPublishes(t *testing.T) {
	content := []byte("weights")
	sum := sha256.Sum256(content)
	expectedHash := hex.EncodeToString(sum[:])

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer upstream.Close()

	server, policy := newTestServer(t, "127.0.0.1")
	// httptest.NewServer binds to 127.0.0.1; matches the default allowlist entry.

	reqBody, err := json.Marshal(downloadRequest{
		URL:      upstream.URL + "/model.safetensors",
		Folder:   "checkpoint",
		Filename: "model.safetensors",
		SHA256:   expectedHash,
		Size:     uint64(len(content)),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/models/download", bytes.NewReader(reqBody))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))

	dec := json.NewDecoder(rr.Body)
	var last models.ProgressEvent
	for dec.More() {
		var ev models.ProgressEvent
		require.NoError(t, dec.Decode(&ev))
		last = ev
	}
	assert.Equal(t, expectedHash, last.SHA256)
	assert.Empty(t, last.Error)

	dst, err := policy.Resolve("checkpoint", "model.safetensors")
	require.NoError(t, err)
	assert.FileExists(t, dst)
}

func TestDownloadSameHashDifferentFilenameGetsOwnAlias(t *testing.T) {
	content := []byte("shared dependency weights")
	sum := sha256.Sum256(content)
	expectedHash := hex.EncodeToString(sum[:])

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer upstream.Close()

	server, policy := newTestServer(t, "127.0.0.1")

	firstBody, err := json.Marshal(downloadRequest{
		URL:      upstream.URL + "/model.safetensors",
		Folder:   "checkpoint",
		Filename: "model.safetensors",
		SHA256:   expectedHash,
		Size:     uint64(len(content)),
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/models/download", bytes.NewReader(firstBody))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	secondBody, err := json.Marshal(downloadRequest{
		URL:      upstream.URL + "/model.safetensors",
		Folder:   "checkpoint",
		Filename: "model-under-a-different-name.safetensors",
		SHA256:   expectedHash,
		Size:     uint64(len(content)),
	})
	require.NoError(t, err)
	req2 := httptest.NewRequest(http.MethodPost, "/models/download", bytes.NewReader(secondBody))
	rr2 := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr2, req2)
	require.Equal(t, http.StatusOK, rr2.Code)

	canonicalPath, err := policy.Resolve("checkpoint", "model.safetensors")
	require.NoError(t, err)
	aliasPath, err := policy.Resolve("checkpoint", "model-under-a-different-name.safetensors")
	require.NoError(t, err)

	assert.FileExists(t, canonicalPath)
	assert.FileExists(t, aliasPath)

	aliasData, err := os.ReadFile(aliasPath)
	require.NoError(t, err)
	assert.Equal(t, content, aliasData)

	aliases, err := server.catalog.ListAliasesFor(expectedHash)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, aliasPath, aliases[0].AliasPath)
}

func TestDownloadRejectsForbiddenHost(t *testing.T) {
	server, _ := newTestServer(t, "huggingface.co")

	reqBody, err := json.Marshal(downloadRequest{
		URL:      "https://evil.example.com/model.safetensors",
		Folder:   "checkpoint",
		Filename: "model.safetensors",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/models/download", bytes.NewReader(reqBody))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "UrlForbidden", body.Error)
}
