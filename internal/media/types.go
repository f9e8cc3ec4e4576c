package media

import (
	"context"
	"io"
	"time"
)

// MediaType classifies the kind of media asset.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
	MediaTypeFile  MediaType = "file"
)

// Asset describes a persisted media object.
type Asset struct {
	OwnerID     string    `json:"owner_id"`
	SourceID    string    `json:"source_id,omitempty"`
	ContentHash string    `json:"content_hash"`
	MediaType   MediaType `json:"media_type"`
	Mime        string    `json:"mime"`
	SizeBytes   int64     `json:"size_bytes"`
	StorageKey  string    `json:"storage_key"`
	AccessPath  string    `json:"access_path"`
	// Existing is set when identical content was already stored.
	Existing  bool      `json:"existing"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestInput carries the data needed to persist a new media asset.
type IngestInput struct {
	OwnerID   string
	MediaType MediaType
	Mime      string
	// SourceID is the platform media id the bytes were fetched for.
	SourceID string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides MaxAssetBytes.
	MaxBytes int64
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
	// AccessPath returns a consumer-accessible reference for a storage key.
	AccessPath(key string) string
}
