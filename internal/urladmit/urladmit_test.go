package urladmit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmitAllowsListedHosts(t *testing.T) {
	a := New([]string{"huggingface.co", "civitai.com", "127.0.0.1", "localhost"})

	for _, raw := range []string{
		"https://huggingface.co/org/model/resolve/main/model.safetensors",
		"https://civitai.com/api/download/models/123",
		"http://127.0.0.1:8080/file",
		"http://localhost/file",
	} {
		_, err := a.Admit(raw)
		assert.NoError(t, err, raw)
	}
}

func TestAdmitAllowsSubdomainOfAllowedHost(t *testing.T) {
	a := New([]string{"huggingface.co"})
	_, err := a.Admit("https://cdn-lfs.huggingface.co/repo/model.safetensors")
	assert.NoError(t, err)
}

func TestAdmitRejectsUnlistedHost(t *testing.T) {
	a := New([]string{"huggingface.co"})
	_, err := a.Admit("https://evil.example.com/model.safetensors")
	assert.True(t, errors.Is(err, ErrHostNotAllowed))
}

func TestAdmitRejectsNonHTTPScheme(t *testing.T) {
	a := New([]string{"huggingface.co"})
	_, err := a.Admit("ftp://huggingface.co/model.safetensors")
	assert.True(t, errors.Is(err, ErrHostNotAllowed))
}

func TestStripCredentialsRemovesKnownParams(t *testing.T) {
	got := StripCredentials("https://civitai.com/api/download/models/123?token=SECRET&type=Model")
	assert.NotContains(t, got, "SECRET")
	assert.Contains(t, got, "type=Model")
}

func TestStripCredentialsLeavesCleanURLUnchanged(t *testing.T) {
	raw := "https://huggingface.co/org/model/resolve/main/model.safetensors"
	assert.Equal(t, raw, StripCredentials(raw))
}
