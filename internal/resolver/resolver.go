// Package resolver implements the Dependency Resolver: a pure read over
// catalog state that classifies a workflow's dependency manifest into
// what's missing and what's already satisfied.
package resolver

import (
	"errors"
	"os"

	"modelregistry/internal/catalog"
	"modelregistry/internal/models"
	"modelregistry/internal/pathpolicy"
)

// ExistingAction names how an already-satisfied dependency will be made
// available at its requested destination.
type ExistingAction string

const (
	// ActionCanonical means the requested destination already is the
	// artifact's canonical path; nothing needs to change on disk.
	ActionCanonical ExistingAction = "canonical"
	// ActionSymlink means an alias must be materialized at the requested
	// destination.
	ActionSymlink ExistingAction = "symlink"
)

// Existing describes one dependency entry already present in the catalog.
type Existing struct {
	Entry         models.DependencyEntry
	CanonicalPath string
	Action        ExistingAction
}

// Resolution is the output of Resolve.
type Resolution struct {
	Missing           []models.DependencyEntry
	Existing          []Existing
	TotalDownloadSize uint64
	TotalSavedSize    uint64
}

// Resolver classifies dependency manifest entries against catalog state.
type Resolver struct {
	catalog *catalog.Catalog
	policy  *pathpolicy.Policy
}

// New builds a Resolver.
func New(cat *catalog.Catalog, policy *pathpolicy.Policy) *Resolver {
	return &Resolver{catalog: cat, policy: policy}
}

// Resolve classifies every entry in manifest, keyed by kind. It does
// not mutate the filesystem or the catalog.
func (r *Resolver) Resolve(manifest map[string][]models.DependencyEntry) (Resolution, error) {
	var res Resolution

	for kind, entries := range manifest {
		for _, entry := range entries {
			entry.Kind = kind

			if entry.SHA256 != "" {
				artifact, err := r.catalog.GetByHash(entry.SHA256)
				if err == nil {
					res.Existing = append(res.Existing, r.classifyExisting(entry, artifact))
					continue
				}
				if !errors.Is(err, catalog.ErrNotFound) {
					return Resolution{}, err
				}
			}

			dstAbs, err := r.policy.Resolve(kind, entry.Filename)
			if err == nil {
				if _, statErr := os.Stat(dstAbs); statErr == nil {
					if artifact, catErr := r.catalog.GetByPath(dstAbs); catErr == nil {
						res.Existing = append(res.Existing, r.classifyExisting(entry, artifact))
						continue
					}
				}
			}

			res.Missing = append(res.Missing, entry)
			res.TotalDownloadSize += entry.SizeBytes
		}
	}

	res.TotalSavedSize = SavedSize(res.Existing)
	return res, nil
}

func (r *Resolver) classifyExisting(entry models.DependencyEntry, artifact models.Artifact) Existing {
	dstAbs, err := r.policy.Resolve(entry.Kind, entry.Filename)
	action := ActionCanonical
	if err == nil && dstAbs != artifact.CanonicalPath {
		action = ActionSymlink
	}
	return Existing{Entry: entry, CanonicalPath: artifact.CanonicalPath, Action: action}
}

// SavedSize is exposed separately from Resolve's running total so callers
// that already have a Resolution can recompute it (e.g. after filtering).
func SavedSize(existing []Existing) uint64 {
	var total uint64
	for _, e := range existing {
		if e.Action == ActionSymlink {
			total += e.Entry.SizeBytes
		}
	}
	return total
}
