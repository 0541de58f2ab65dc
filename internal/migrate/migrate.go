// Package migrate walks a model directory (or all of them) and folds
// whatever it finds into the catalog: hash every file with an allowed
// extension, add it as a new artifact, or record it as an alias when
// the hash is already known under a different path.
package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modelregistry/internal/alias"
	"modelregistry/internal/catalog"
	"modelregistry/internal/helpers"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"

	log "github.com/sirupsen/logrus"
)

// Summary is the structured result of a migration run.
type Summary struct {
	FilesScanned int
	NewArtifacts int
	NewAliases   int
	BytesHashed  uint64
	Errors       int
	SkippedLinks int
}

// Options configures a run.
type Options struct {
	// Kind restricts the walk to a single Path Policy kind. Empty means
	// every recognized kind.
	Kind string
	// DryRun reports planned changes without writing to the catalog or
	// touching the filesystem.
	DryRun bool
	// OnProgress, if set, is called after every file is processed; used
	// to drive the CLI's live progress line.
	OnProgress func(processed int, path string)
	// ReplaceDuplicates converts an on-disk duplicate found during the
	// walk into a real alias (symlink/hardlink/copy) of the canonical
	// file, reclaiming space. Ignored when DryRun is set.
	ReplaceDuplicates bool
}

// Migrator runs migration passes against a catalog.
type Migrator struct {
	policy  *pathpolicy.Policy
	catalog *catalog.Catalog
}

// New builds a Migrator.
func New(policy *pathpolicy.Policy, cat *catalog.Catalog) *Migrator {
	return &Migrator{policy: policy, catalog: cat}
}

// Run walks the configured kind(s) and upserts every discovered file
// into the catalog.
func (m *Migrator) Run(opts Options) (Summary, error) {
	kinds := pathpolicy.Kinds()
	if opts.Kind != "" {
		kinds = []string{opts.Kind}
	}

	var summary Summary
	for _, kind := range kinds {
		folder, err := m.policy.FolderFor(kind)
		if err != nil {
			return summary, err
		}
		if err := m.walkFolder(kind, folder, opts, &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (m *Migrator) walkFolder(kind, folder string, opts Options, summary *Summary) error {
	err := filepath.Walk(folder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			log.WithError(err).Warnf("migrate: error accessing %s", path)
			summary.Errors++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(info.Name()))
		if _, err := pathpolicy.ValidateFilename(info.Name()); err != nil {
			log.WithField("path", path).Debugf("migrate: skipping %s (extension %s not allowed)", info.Name(), ext)
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			summary.SkippedLinks++
			return nil
		}

		summary.FilesScanned++
		if err := m.processFile(kind, path, info, opts, summary); err != nil {
			log.WithError(err).Errorf("migrate: failed to process %s", path)
			summary.Errors++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(summary.FilesScanned, path)
		}
		return nil
	})

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("migrate: walking %s: %w", folder, err)
	}
	return nil
}

func (m *Migrator) processFile(kind, path string, info os.FileInfo, opts Options, summary *Summary) error {
	hash, err := helpers.HashFile(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	summary.BytesHashed += uint64(info.Size())

	existing, err := m.catalog.GetByHash(hash)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		if opts.DryRun {
			summary.NewArtifacts++
			return nil
		}
		artifact := models.Artifact{
			Hash:          hash,
			CanonicalPath: path,
			SizeBytes:     uint64(info.Size()),
			Metadata: map[string]string{
				"filename": info.Name(),
				"folder":   kind,
				"migrated": "true",
			},
		}
		if err := m.catalog.AddArtifact(artifact); err != nil {
			return err
		}
		summary.NewArtifacts++
		return nil

	case err != nil:
		return err

	default:
		if existing.CanonicalPath == path {
			return nil
		}
		if opts.DryRun {
			summary.NewAliases++
			return nil
		}
		if err := m.catalog.AddAlias(hash, path); err != nil && !errors.Is(err, catalog.ErrConflict) {
			return err
		}
		summary.NewAliases++

		if opts.ReplaceDuplicates {
			if err := ReplaceWithAlias(existing.CanonicalPath, path); err != nil {
				log.WithError(err).Warnf("migrate: failed to replace duplicate %s with an alias", path)
			}
		}
		return nil
	}
}

// ReplaceWithAlias removes the duplicate file at dupPath from disk and
// replaces it with a link to canonicalPath, reclaiming space for
// identical content that migration found stored twice. Run calls it only
// when Options.ReplaceDuplicates is set (and DryRun is not); otherwise Run
// only catalogs, since converting a duplicate into a real alias is a
// filesystem mutation an operator must opt into.
func ReplaceWithAlias(canonicalPath, dupPath string) error {
	if err := os.Remove(dupPath); err != nil {
		return fmt.Errorf("removing duplicate %s: %w", dupPath, err)
	}
	if _, err := alias.Link(canonicalPath, dupPath); err != nil {
		return fmt.Errorf("linking %s to %s: %w", dupPath, canonicalPath, err)
	}
	return nil
}
