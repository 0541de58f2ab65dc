package alias

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkSymlinkStrategy(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.safetensors")
	require.NoError(t, os.WriteFile(canonical, []byte("content"), 0644))

	aliasPath := filepath.Join(dir, "alias.safetensors")
	strategy, err := Link(canonical, aliasPath)
	require.NoError(t, err)
	assert.Equal(t, StrategySymlink, strategy)

	data, err := os.ReadFile(aliasPath)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestLinkNestedAliasDirectory(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.safetensors")
	require.NoError(t, os.WriteFile(canonical, []byte("content"), 0644))

	aliasPath := filepath.Join(dir, "nested", "deep", "alias.safetensors")
	_, err := Link(canonical, aliasPath)
	require.NoError(t, err)

	data, err := os.ReadFile(aliasPath)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestLinkRejectsExistingAliasPath(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.safetensors")
	require.NoError(t, os.WriteFile(canonical, []byte("content"), 0644))

	aliasPath := filepath.Join(dir, "alias.safetensors")
	require.NoError(t, os.WriteFile(aliasPath, []byte("other"), 0644))

	_, err := Link(canonical, aliasPath)
	assert.Error(t, err)
}

func TestUnlink(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.safetensors")
	require.NoError(t, os.WriteFile(canonical, []byte("content"), 0644))
	aliasPath := filepath.Join(dir, "alias.safetensors")
	_, err := Link(canonical, aliasPath)
	require.NoError(t, err)

	require.NoError(t, Unlink(aliasPath))
	_, err = os.Lstat(aliasPath)
	assert.True(t, os.IsNotExist(err))
}
