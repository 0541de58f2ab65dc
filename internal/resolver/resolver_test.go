package resolver

import (
	"path/filepath"
	"testing"

	"modelregistry/internal/catalog"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClassifiesMissingAndExisting(t *testing.T) {
	base := t.TempDir()
	policy := pathpolicy.New(base)
	cat, err := catalog.Open(filepath.Join(base, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	canonicalPath, err := policy.Resolve("checkpoint", "sdxl.safetensors")
	require.NoError(t, err)
	require.NoError(t, cat.AddArtifact(models.Artifact{
		Hash: "existinghash", CanonicalPath: canonicalPath, SizeBytes: 5000,
	}))

	manifest := map[string][]models.DependencyEntry{
		"checkpoint": {
			{Filename: "sdxl.safetensors", SHA256: "existinghash", SizeBytes: 5000},
			{Filename: "missing.safetensors", SHA256: "missinghash", SizeBytes: 1000, URLs: []string{"https://huggingface.co/x"}},
		},
	}

	r := New(cat, policy)
	res, err := r.Resolve(manifest)
	require.NoError(t, err)

	require.Len(t, res.Missing, 1)
	assert.Equal(t, "missing.safetensors", res.Missing[0].Filename)
	assert.Equal(t, uint64(1000), res.TotalDownloadSize)

	require.Len(t, res.Existing, 1)
	assert.Equal(t, ActionCanonical, res.Existing[0].Action)
	assert.Equal(t, uint64(0), res.TotalSavedSize)
}

func TestResolveExistingHashDifferentFilenameIsSymlinkAction(t *testing.T) {
	base := t.TempDir()
	policy := pathpolicy.New(base)
	cat, err := catalog.Open(filepath.Join(base, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	canonicalPath, err := policy.Resolve("lora", "original.safetensors")
	require.NoError(t, err)
	require.NoError(t, cat.AddArtifact(models.Artifact{Hash: "hash1", CanonicalPath: canonicalPath, SizeBytes: 2000}))

	manifest := map[string][]models.DependencyEntry{
		"lora": {
			{Filename: "renamed.safetensors", SHA256: "hash1", SizeBytes: 2000},
		},
	}

	r := New(cat, policy)
	res, err := r.Resolve(manifest)
	require.NoError(t, err)

	require.Len(t, res.Existing, 1)
	assert.Equal(t, ActionSymlink, res.Existing[0].Action)
	assert.Equal(t, uint64(2000), res.TotalSavedSize)
	assert.Empty(t, res.Missing)
}
