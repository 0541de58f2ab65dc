// Package catalog implements the Catalog Store: the single source of
// truth mapping a SHA-256 hash to its canonical file and the aliases that
// also resolve to it. It is built on the generic key-value log in
// internal/database, following the same put-marshal/get-unmarshal
// discipline used for model entries elsewhere in this repo.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modelregistry/internal/database"
	"modelregistry/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a hash or path has no catalog entry.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned when a write would violate hash-identity
// invariants (e.g. registering a path that already belongs to a
// different hash).
var ErrConflict = errors.New("catalog: conflict")

const (
	artifactPrefix  = "artifact:"
	aliasPrefix     = "alias:"
	pathIndexPrefix = "path:"
	attemptPrefix   = "attempt:"
)

// Indexer is the subset of internal/search's Index this package needs.
// Kept as an interface so catalog has no hard dependency on bleve and can
// be tested without a search backend.
type Indexer interface {
	Index(a models.Artifact) error
	Delete(hash string) error
	Query(q string) ([]string, error)
}

// Catalog is the Catalog Store.
type Catalog struct {
	db    *database.DB
	index Indexer
}

// Open opens (or creates) the catalog backed by a bitcask log at dbPath.
// index may be nil; when non-nil every write is mirrored into it.
func Open(dbPath string, index Indexer) (*Catalog, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog store: %w", err)
	}
	return &Catalog{db: db, index: index}, nil
}

// Close releases the underlying store.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func artifactKey(hash string) []byte {
	return []byte(artifactPrefix + strings.ToLower(hash))
}

func pathIndexKey(path string) []byte {
	sum := sha256.Sum256([]byte(path))
	return []byte(pathIndexPrefix + hex.EncodeToString(sum[:]))
}

func aliasKey(hash, aliasPath string) []byte {
	sum := sha256.Sum256([]byte(aliasPath))
	return []byte(aliasPrefix + strings.ToLower(hash) + ":" + hex.EncodeToString(sum[:]))
}

func aliasScanPrefix(hash string) string {
	return aliasPrefix + strings.ToLower(hash) + ":"
}

// AddArtifact registers a brand-new hash with its canonical path. Returns
// ErrConflict if the hash is already known.
func (c *Catalog) AddArtifact(a models.Artifact) error {
	a.Hash = strings.ToLower(a.Hash)
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}

	if _, err := c.GetByHash(a.Hash); err == nil {
		return fmt.Errorf("%w: hash %s already registered", ErrConflict, a.Hash)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if existing, err := c.GetByPath(a.CanonicalPath); err == nil {
		return fmt.Errorf("%w: path %s already claimed by hash %s", ErrConflict, a.CanonicalPath, existing.Hash)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling artifact %s: %w", a.Hash, err)
	}
	if err := c.db.Put(artifactKey(a.Hash), data); err != nil {
		return err
	}
	if err := c.db.Put(pathIndexKey(a.CanonicalPath), []byte(a.Hash)); err != nil {
		return err
	}

	if c.index != nil {
		if err := c.index.Index(a); err != nil {
			log.WithError(err).Warnf("search index: failed to index artifact %s", a.Hash)
		}
	}

	log.WithField("hash", a.Hash).Info("catalog: artifact registered")
	return nil
}

// GetByHash returns the artifact registered under hash, or ErrNotFound.
func (c *Catalog) GetByHash(hash string) (models.Artifact, error) {
	data, err := c.db.Get(artifactKey(hash))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Artifact{}, ErrNotFound
		}
		return models.Artifact{}, err
	}
	var a models.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return models.Artifact{}, fmt.Errorf("unmarshaling artifact %s: %w", hash, err)
	}
	return a, nil
}

// GetByPath resolves a filesystem path (canonical or alias) back to its
// artifact, or ErrNotFound.
func (c *Catalog) GetByPath(path string) (models.Artifact, error) {
	hashBytes, err := c.db.Get(pathIndexKey(path))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Artifact{}, ErrNotFound
		}
		return models.Artifact{}, err
	}
	return c.GetByHash(string(hashBytes))
}

// AddAlias records a second filesystem path resolving to hash. Returns
// ErrNotFound if hash has no artifact, ErrConflict if aliasPath already
// resolves to a different hash.
func (c *Catalog) AddAlias(hash, aliasPath string) error {
	hash = strings.ToLower(hash)
	if _, err := c.GetByHash(hash); err != nil {
		return err
	}

	if existing, err := c.GetByPath(aliasPath); err == nil {
		if existing.Hash != hash {
			return fmt.Errorf("%w: path %s already claimed by hash %s", ErrConflict, aliasPath, existing.Hash)
		}
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	alias := models.Alias{Hash: hash, AliasPath: aliasPath, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(alias)
	if err != nil {
		return fmt.Errorf("marshaling alias for %s: %w", hash, err)
	}
	if err := c.db.Put(aliasKey(hash, aliasPath), data); err != nil {
		return err
	}
	if err := c.db.Put(pathIndexKey(aliasPath), []byte(hash)); err != nil {
		return err
	}

	log.WithFields(log.Fields{"hash": hash, "alias": aliasPath}).Info("catalog: alias registered")
	return nil
}

// ListAliasesFor returns every alias path registered against hash.
func (c *Catalog) ListAliasesFor(hash string) ([]models.Alias, error) {
	prefix := aliasScanPrefix(hash)
	var aliases []models.Alias
	err := c.db.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), prefix) {
			return nil
		}
		var a models.Alias
		if err := json.Unmarshal(value, &a); err != nil {
			log.WithError(err).Warnf("catalog: skipping malformed alias key %s", string(key))
			return nil
		}
		aliases = append(aliases, a)
		return nil
	})
	return aliases, err
}

// Filter narrows ListArtifacts. Zero-value Filter matches everything.
type Filter struct {
	Kind  string // matched against Artifact.Metadata["folder"]
	Query string // substring match against metadata filename/display_name and the canonical path (case-insensitive)
}

// ListArtifacts returns every artifact matching filter. With an empty
// filter this is a full catalog scan. With a non-empty Query and a
// configured search index, the index is consulted first as a fast path;
// a query the index can't serve (error, or not configured) falls back
// to the full scan below, so results are always correct either way.
func (c *Catalog) ListArtifacts(filter Filter) ([]models.Artifact, error) {
	if filter.Query != "" && c.index != nil {
		hashes, err := c.index.Query(filter.Query)
		if err != nil {
			log.WithError(err).Warn("catalog: search index query failed, falling back to full scan")
		} else {
			return c.artifactsByHashes(hashes, filter.Kind)
		}
	}

	var artifacts []models.Artifact
	err := c.db.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), artifactPrefix) {
			return nil
		}
		var a models.Artifact
		if err := json.Unmarshal(value, &a); err != nil {
			log.WithError(err).Warnf("catalog: skipping malformed artifact key %s", string(key))
			return nil
		}
		if filter.Kind != "" && a.Metadata["folder"] != filter.Kind {
			return nil
		}
		if filter.Query != "" && !matchesQuery(a, filter.Query) {
			return nil
		}
		artifacts = append(artifacts, a)
		return nil
	})
	return artifacts, err
}

// artifactsByHashes resolves index hits back to artifacts, applying the
// Kind filter the index itself doesn't know about. A hash the index
// returns but the catalog no longer has (stale index entry) is skipped
// rather than treated as an error.
func (c *Catalog) artifactsByHashes(hashes []string, kind string) ([]models.Artifact, error) {
	artifacts := make([]models.Artifact, 0, len(hashes))
	for _, h := range hashes {
		a, err := c.GetByHash(h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if kind != "" && a.Metadata["folder"] != kind {
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func matchesQuery(a models.Artifact, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(a.Metadata["filename"]), q) {
		return true
	}
	if strings.Contains(strings.ToLower(a.Metadata["display_name"]), q) {
		return true
	}
	return strings.Contains(strings.ToLower(a.CanonicalPath), q)
}

// RemoveArtifact deletes an artifact and all its aliases. It does not
// touch the filesystem; callers are responsible for unlinking files
// first.
func (c *Catalog) RemoveArtifact(hash string) error {
	hash = strings.ToLower(hash)
	artifact, err := c.GetByHash(hash)
	if err != nil {
		return err
	}

	aliases, err := c.ListAliasesFor(hash)
	if err != nil {
		return err
	}
	for _, alias := range aliases {
		if err := c.db.Delete(aliasKey(hash, alias.AliasPath)); err != nil {
			return err
		}
		if err := c.db.Delete(pathIndexKey(alias.AliasPath)); err != nil {
			return err
		}
	}

	if err := c.db.Delete(pathIndexKey(artifact.CanonicalPath)); err != nil {
		return err
	}
	if err := c.db.Delete(artifactKey(hash)); err != nil {
		return err
	}

	if c.index != nil {
		if err := c.index.Delete(hash); err != nil {
			log.WithError(err).Warnf("search index: failed to delete artifact %s", hash)
		}
	}

	log.WithField("hash", hash).Info("catalog: artifact removed")
	return nil
}

// Stats summarizes the catalog for the `stats` CLI command.
type Stats struct {
	ArtifactCount uint64
	AliasCount    uint64
	TotalBytes    uint64
}

// Stats computes aggregate counters over the whole catalog.
func (c *Catalog) Stats() (Stats, error) {
	var s Stats
	err := c.db.Fold(func(key []byte, value []byte) error {
		switch {
		case strings.HasPrefix(string(key), artifactPrefix):
			var a models.Artifact
			if err := json.Unmarshal(value, &a); err != nil {
				return nil
			}
			s.ArtifactCount++
			s.TotalBytes += a.SizeBytes
		case strings.HasPrefix(string(key), aliasPrefix):
			s.AliasCount++
		}
		return nil
	})
	return s, err
}

// RecordAttempt appends a download-attempt audit row. Supplemental
// feature grounded in the original registry's download_queue table;
// consulted only for operator visibility, never for correctness.
func (c *Catalog) RecordAttempt(attempt models.DownloadAttempt) error {
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now().UTC()
	}
	key := []byte(fmt.Sprintf("%s%d:%s", attemptPrefix, attempt.StartedAt.UnixNano(), attempt.URL))
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshaling download attempt: %w", err)
	}
	return c.db.Put(key, data)
}

// ListAttempts returns every recorded download attempt, most recent
// last (keys are time-ordered by construction).
func (c *Catalog) ListAttempts() ([]models.DownloadAttempt, error) {
	var attempts []models.DownloadAttempt
	err := c.db.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), attemptPrefix) {
			return nil
		}
		var a models.DownloadAttempt
		if err := json.Unmarshal(value, &a); err != nil {
			log.WithError(err).Warnf("catalog: skipping malformed attempt key %s", string(key))
			return nil
		}
		attempts = append(attempts, a)
		return nil
	})
	return attempts, err
}
