// Package pathpolicy classifies model kinds into destination folders and
// validates filenames before they ever touch the filesystem.
package pathpolicy

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for any filename/kind violation. Fatal and
// non-retriable.
var ErrInvalidName = errors.New("invalid name")

// kindFolders maps a model kind to its folder name under BasePath.
// Includes "hypernetwork", present in the original ComfyUI directory
// layout this registry replaces even though it has fallen out of
// common use.
var kindFolders = map[string]string{
	"checkpoint":      "checkpoints",
	"lora":            "loras",
	"vae":             "vae",
	"controlnet":      "controlnet",
	"upscale":         "upscale_models",
	"text-encoder":    "text_encoders",
	"diffusion-model": "diffusion_models",
	"clip-vision":     "clip_vision",
	"embedding":       "embeddings",
	"hypernetwork":    "hypernetworks",
}

// allowedExtensions is the closed extension allowlist.
var allowedExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".pth":         true,
	".bin":         true,
	".gguf":        true,
	".onnx":        true,
	".sft":         true,
	".yaml":        true,
}

// Policy resolves kinds to absolute folders under a fixed base directory.
type Policy struct {
	basePath string
}

// New returns a Policy rooted at basePath. basePath must already be an
// absolute, canonicalized path; New does not validate it.
func New(basePath string) *Policy {
	return &Policy{basePath: basePath}
}

// BasePath returns the configured root directory.
func (p *Policy) BasePath() string {
	return p.basePath
}

// Kinds returns the closed set of recognized kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(kindFolders))
	for k := range kindFolders {
		kinds = append(kinds, k)
	}
	return kinds
}

// FolderFor returns the absolute directory for a kind, or ErrInvalidName if
// the kind is not recognized.
func (p *Policy) FolderFor(kind string) (string, error) {
	folder, ok := kindFolders[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidName, kind)
	}
	return filepath.Join(p.basePath, folder), nil
}

// ValidateFilename enforces: single path segment, no traversal, no leading
// dot, allowed extension. Returns the validated leaf name unchanged.
func ValidateFilename(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: empty filename", ErrInvalidName)
	}
	if strings.ContainsAny(filename, "/\\") {
		return "", fmt.Errorf("%w: filename %q must be a single path segment", ErrInvalidName, filename)
	}
	if filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: filename %q is not allowed", ErrInvalidName, filename)
	}
	if strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("%w: filename %q may not begin with a dot", ErrInvalidName, filename)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q is not allowed", ErrInvalidName, ext)
	}
	return filename, nil
}

// Resolve validates filename and joins it under kind's folder, then checks
// that the cleaned result still lies under BasePath. The check is lexical
// (a cleaned-path prefix comparison): symlinks are not resolved, so a kind
// folder that is a symlink pointing outside BasePath is not detected.
// ".." segments are already rejected by ValidateFilename; the prefix
// check is a second guard.
func (p *Policy) Resolve(kind, filename string) (string, error) {
	folder, err := p.FolderFor(kind)
	if err != nil {
		return "", err
	}
	name, err := ValidateFilename(filename)
	if err != nil {
		return "", err
	}

	resolved := filepath.Join(folder, name)
	cleanedBase := filepath.Clean(p.basePath)
	cleanedResolved := filepath.Clean(resolved)
	if cleanedResolved != cleanedBase && !strings.HasPrefix(cleanedResolved, cleanedBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: resolved path %q escapes base directory", ErrInvalidName, resolved)
	}
	return resolved, nil
}

// TmpDir returns the directory used for in-progress downloads.
func (p *Policy) TmpDir() string {
	return filepath.Join(p.basePath, ".cache", "tmp")
}

// CatalogPath returns the path to the catalog's backing store directory.
func (p *Policy) CatalogPath() string {
	return filepath.Join(p.basePath, ".registry", "catalog.db")
}

// SearchIndexPath returns the path to the bleve search index directory.
func (p *Policy) SearchIndexPath() string {
	return filepath.Join(p.basePath, ".registry", "search.bleve")
}
