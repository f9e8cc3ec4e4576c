package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Service provides media asset persistence operations.
type Service struct {
	provider StorageProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a media service with the given storage provider.
func NewService(log *slog.Logger, provider StorageProvider) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		provider: provider,
		logger:   log.With(slog.String("service", "media")),
		now:      time.Now,
	}
}

// Ingest persists a media asset. The content is hashed and stored under a
// content-addressed key, so identical bytes for the same owner are written
// once. Returns the asset (existing or newly stored).
func (s *Service) Ingest(ctx context.Context, input IngestInput) (Asset, error) {
	if s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return Asset{}, fmt.Errorf("owner id is required")
	}
	if strings.ContainsAny(ownerID, `/\`) || ownerID == "." || ownerID == ".." {
		return Asset{}, fmt.Errorf("%w: owner id %q", ErrPathTraversal, ownerID)
	}
	if input.Reader == nil {
		return Asset{}, fmt.Errorf("reader is required")
	}
	mediaType := input.MediaType
	if mediaType == "" {
		mediaType = MediaTypeFile
	}

	maxBytes := input.MaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	contentHash, sizeBytes, tempPath, err := spoolAndHashWithLimit(input.Reader, maxBytes)
	if err != nil {
		return Asset{}, fmt.Errorf("read input: %w", err)
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	mimeType := normalizeMime(input.Mime)
	ext := extensionFromMime(mimeType)
	if ext == "" || mimeType == "" {
		if detected, derr := mimetype.DetectFile(tempPath); derr == nil {
			if mimeType == "" {
				mimeType = normalizeMime(detected.String())
			}
			if ext == "" {
				ext = detected.Extension()
			}
		}
	}
	if ext == "" {
		ext = ".bin"
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	storageKey := path.Join(
		ownerID,
		string(mediaType),
		contentHash[:4],
		contentHash+ext,
	)
	asset := Asset{
		OwnerID:     ownerID,
		SourceID:    input.SourceID,
		ContentHash: contentHash,
		MediaType:   mediaType,
		Mime:        mimeType,
		SizeBytes:   sizeBytes,
		StorageKey:  storageKey,
		AccessPath:  s.provider.AccessPath(storageKey),
		CreatedAt:   s.now().UTC(),
	}

	exists, err := s.provider.Exists(ctx, storageKey)
	if err != nil {
		return Asset{}, fmt.Errorf("check existing asset: %w", err)
	}
	if exists {
		asset.Existing = true
		s.logger.Debug("media already stored",
			slog.String("owner_id", ownerID),
			slog.String("storage_key", storageKey),
		)
		return asset, nil
	}

	tempFile, err := os.Open(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close()
	}()
	if err := s.provider.Put(ctx, storageKey, tempFile); err != nil {
		return Asset{}, fmt.Errorf("store media: %w", err)
	}
	s.logger.Info("media stored",
		slog.String("owner_id", ownerID),
		slog.String("media_type", string(mediaType)),
		slog.String("mime", mimeType),
		slog.Int64("size_bytes", sizeBytes),
		slog.String("storage_key", storageKey),
	)
	return asset, nil
}

// --- helpers ---

// normalizeMime drops parameters such as "; codecs=opus".
func normalizeMime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mt)
	}
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func extensionFromMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	case "audio/amr":
		return ".amr"
	case "audio/mp4":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "video/3gpp":
		return ".3gp"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func spoolAndHashWithLimit(reader io.Reader, maxBytes int64) (string, int64, string, error) {
	if reader == nil {
		return "", 0, "", fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, "", fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "metahook-media-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, "", ErrEmptyAsset
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}
