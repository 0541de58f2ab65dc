package pathpolicy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderForKnownAndUnknownKinds(t *testing.T) {
	p := New("/base")

	folder, err := p.FolderFor("checkpoint")
	require.NoError(t, err)
	assert.Equal(t, "/base/checkpoints", folder)

	_, err = p.FolderFor("not-a-kind")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestValidateFilenameRejectsTraversalAndBadExtensions(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"model.safetensors", true},
		{"model.ckpt", true},
		{"../etc/passwd", false},
		{"sub/dir.safetensors", false},
		{"..", false},
		{".hidden.safetensors", false},
		{"model.exe", false},
		{"", false},
	}

	for _, c := range cases {
		_, err := ValidateFilename(c.name)
		if c.valid {
			assert.NoErrorf(t, err, "expected %q to be valid", c.name)
		} else {
			assert.Errorf(t, err, "expected %q to be rejected", c.name)
		}
	}
}

func TestResolveJoinsWithinBase(t *testing.T) {
	p := New("/base")

	resolved, err := p.Resolve("lora", "style.safetensors")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/base", "loras", "style.safetensors"), resolved)
}

func TestResolveRejectsUnknownKind(t *testing.T) {
	p := New("/base")
	_, err := p.Resolve("nonsense", "x.safetensors")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestAuxiliaryPaths(t *testing.T) {
	p := New("/base")
	assert.Equal(t, "/base/.cache/tmp", p.TmpDir())
	assert.Equal(t, "/base/.registry/catalog.db", p.CatalogPath())
	assert.Equal(t, "/base/.registry/search.bleve", p.SearchIndexPath())
}

func TestKindsCoversEveryFolder(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, len(kindFolders))
}
