package credential

import (
	"net/http"
	"testing"
	"time"

	"modelregistry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachHuggingFaceSetsBearerHeader(t *testing.T) {
	b := New(time.Hour)
	b.Put("req1", models.ProviderHuggingFace, "secret-token")

	req, err := http.NewRequest(http.MethodGet, "https://huggingface.co/org/model/resolve/main/model.bin", nil)
	require.NoError(t, err)

	req = b.Attach(req, "req1", models.ProviderHuggingFace)
	assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
}

func TestAttachCivitaiAppendsQueryParam(t *testing.T) {
	b := New(time.Hour)
	b.Put("req1", models.ProviderCivitai, "secret-token")

	req, err := http.NewRequest(http.MethodGet, "https://civitai.com/api/download/models/123", nil)
	require.NoError(t, err)

	req = b.Attach(req, "req1", models.ProviderCivitai)
	assert.Equal(t, "secret-token", req.URL.Query().Get("token"))
}

func TestAttachWithoutEntryLeavesRequestUnchanged(t *testing.T) {
	b := New(time.Hour)
	req, err := http.NewRequest(http.MethodGet, "https://huggingface.co/org/model", nil)
	require.NoError(t, err)

	req = b.Attach(req, "unknown", models.ProviderHuggingFace)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestScrubRemovesEntry(t *testing.T) {
	b := New(time.Hour)
	b.Put("req1", models.ProviderHuggingFace, "secret-token")
	assert.True(t, b.HasToken("req1", models.ProviderHuggingFace))

	b.Scrub("req1", models.ProviderHuggingFace)
	assert.False(t, b.HasToken("req1", models.ProviderHuggingFace))

	req, err := http.NewRequest(http.MethodGet, "https://huggingface.co/org/model", nil)
	require.NoError(t, err)
	req = b.Attach(req, "req1", models.ProviderHuggingFace)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestExpiredEntryIsNotAttached(t *testing.T) {
	b := New(-time.Second) // already expired
	b.Put("req1", models.ProviderHuggingFace, "secret-token")

	assert.False(t, b.HasToken("req1", models.ProviderHuggingFace))

	req, err := http.NewRequest(http.MethodGet, "https://huggingface.co/org/model", nil)
	require.NoError(t, err)
	req = b.Attach(req, "req1", models.ProviderHuggingFace)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestSweepRemovesExpiredEntriesOnly(t *testing.T) {
	b := New(time.Hour)
	b.Put("live", models.ProviderHuggingFace, "token1")
	b.m[key{"expired", models.ProviderHuggingFace}] = &entry{
		provider: models.ProviderHuggingFace,
		token:    "token2",
		expires:  time.Now().Add(-time.Minute),
	}

	b.Sweep()

	assert.True(t, b.HasToken("live", models.ProviderHuggingFace))
	assert.False(t, b.HasToken("expired", models.ProviderHuggingFace))
}
