// Package search maintains a bleve full-text index over the catalog so
// list_artifacts(filter) can serve substring/keyword queries without a
// full store scan, narrowed to the fields an Artifact actually carries.
package search

import (
	"modelregistry/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// doc is the bleve-indexed projection of an Artifact. Bleve indexes every
// exported field under its JSON tag name.
type doc struct {
	Hash          string `json:"hash"`
	Filename      string `json:"filename"`
	DisplayName   string `json:"displayName"`
	Folder        string `json:"folder"`
	CanonicalPath string `json:"canonicalPath"`
	SourceURL     string `json:"sourceUrl"`
}

// Index wraps a bleve.Index kept in sync with catalog writes.
type Index struct {
	bleve bleve.Index
}

// Open opens an existing index at path, or creates one if it doesn't
// exist yet.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("search: creating new index at %s", path)
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Infof("search: opened existing index at %s", path)
	}
	return &Index{bleve: idx}, nil
}

// Close releases the underlying bleve index.
func (i *Index) Close() error {
	return i.bleve.Close()
}

// Index adds or updates an artifact's searchable projection.
func (i *Index) Index(a models.Artifact) error {
	d := doc{
		Hash:          a.Hash,
		Filename:      a.Metadata["filename"],
		DisplayName:   a.Metadata["display_name"],
		Folder:        a.Metadata["folder"],
		CanonicalPath: a.CanonicalPath,
		SourceURL:     a.SourceURL,
	}
	return i.bleve.Index(a.Hash, d)
}

// Delete removes an artifact's document from the index.
func (i *Index) Delete(hash string) error {
	return i.bleve.Delete(hash)
}

// Query runs a free-text query and returns matching hashes ordered by
// relevance.
func (i *Index) Query(q string) ([]string, error) {
	searchQuery := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequest(searchQuery)
	result, err := i.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hashes = append(hashes, hit.ID)
	}
	return hashes, nil
}
