// Package models holds the plain data types shared across the registry:
// the catalog's Artifact/Alias rows, the dependency manifest shape posted
// by workflow clients, the download engine's request/event types, and the
// on-disk Config.
package models

import "time"

// Config is the registry's toml-backed configuration.
type Config struct {
	// BasePath is the root directory under which <kind> folders,
	// .registry/catalog.db and .cache/tmp/ live.
	BasePath string `toml:"BasePath"`

	// AllowedHosts overrides the URL Admission allowlist. Empty means use
	// the built-in default (huggingface.co, civitai.com, 127.0.0.1, localhost).
	AllowedHosts []string `toml:"AllowedHosts"`

	// ListenAddr is the HTTP Surface bind address, e.g. ":8188".
	ListenAddr string `toml:"ListenAddr"`

	// NetworkTimeoutSec bounds idle time on a single download connection.
	NetworkTimeoutSec int `toml:"NetworkTimeoutSec"`

	// CredentialTTLMinutes bounds the lifetime of an ephemeral credential
	// regardless of activity.
	CredentialTTLMinutes int `toml:"CredentialTTLMinutes"`

	LogApiRequests bool   `toml:"LogApiRequests"`
	LogLevel       string `toml:"LogLevel"`
	LogFormat      string `toml:"LogFormat"`
}

// Hashes is a set of content digests for a file. The registry's identity
// hash is SHA256 only, so that is its sole field. No other type embeds
// it; DependencyEntry and Artifact carry their hash in their own fields.
type Hashes struct {
	SHA256 string
}

// Artifact is a catalog row: the canonical location and metadata for one
// content hash.
type Artifact struct {
	Hash          string            `json:"hash"`
	CanonicalPath string            `json:"canonical_path"`
	SizeBytes     uint64            `json:"size_bytes"`
	SourceURL     string            `json:"source_url"`
	Metadata      map[string]string `json:"metadata"`
	AddedAt       time.Time         `json:"added_at"`
}

// Alias is a secondary filesystem name under which an artifact's bytes are
// reachable.
type Alias struct {
	Hash      string    `json:"hash"`
	AliasPath string    `json:"alias_path"`
	CreatedAt time.Time `json:"created_at"`
}

// DependencyEntry is one artifact requirement from a workflow's dependency
// manifest. It is input data only; never stored.
type DependencyEntry struct {
	Kind         string   `json:"-"`
	Filename     string   `json:"filename"`
	SHA256       string   `json:"sha256"`
	SizeBytes    uint64   `json:"size"`
	URLs         []string `json:"urls"`
	DisplayName  string   `json:"display_name,omitempty"`
	Required     bool     `json:"required"`
	RequiresAuth bool     `json:"requires_auth"`
	AuthProvider string   `json:"auth_provider,omitempty"`
}

// ProgressEvent is one line of the download engine's NDJSON progress
// stream. Only the fields relevant to the event's kind are populated;
// there are four distinct shapes (initial, incremental, success, error)
// and no "kind" discriminator field — clients switch on which fields
// are present.
type ProgressEvent struct {
	Message    string   `json:"message,omitempty"`
	Bytes      uint64   `json:"bytes,omitempty"`
	TotalBytes uint64   `json:"total_bytes,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`
	Path       string   `json:"path,omitempty"`
	SHA256     string   `json:"sha256,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// DownloadRequest is the input to the Download Engine's public
// `download` operation.
type DownloadRequest struct {
	URL            string
	Kind           string
	Filename       string
	ExpectedSHA256 string
	ExpectedSize   uint64
	DisplayName    string
	RequiresAuth   bool
	AuthProvider   Provider
	Token          string
}

// Provider identifies a credential attachment strategy.
type Provider string

const (
	ProviderHuggingFace Provider = "huggingface"
	ProviderCivitai     Provider = "civitai"
)

// DownloadAttempt is a supplemental audit-trail row, grounded in the
// Python original's download_queue table. Used only for operator
// visibility (the `stats` CLI command); never consulted for correctness.
type DownloadAttempt struct {
	Hash        string     `json:"sha256,omitempty"`
	URL         string     `json:"url"`
	DestPath    string     `json:"dest_path"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Download attempt statuses.
const (
	AttemptStatusPending = "pending"
	AttemptStatusSuccess = "success"
	AttemptStatusError   = "error"
)
