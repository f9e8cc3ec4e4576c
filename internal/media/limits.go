package media

import (
	"fmt"
	"io"
)

// MaxAssetBytes caps any single download. It matches the largest attachment
// the Cloud API delivers (documents).
const MaxAssetBytes int64 = 100 << 20

// Per-type caps the Cloud API enforces on inbound attachments.
var typeLimits = map[MediaType]int64{
	MediaTypeImage: 5 << 20,
	MediaTypeAudio: 16 << 20,
	MediaTypeVideo: 16 << 20,
	MediaTypeFile:  MaxAssetBytes,
}

// LimitFor returns the byte cap for a media type. A positive configured value
// lowers the cap but never raises it above the platform limit.
func LimitFor(mediaType MediaType, configured int64) int64 {
	limit, ok := typeLimits[mediaType]
	if !ok {
		limit = MaxAssetBytes
	}
	if configured > 0 && configured < limit {
		return configured
	}
	return limit
}

// ReadAllWithLimit reads reader fully and fails with ErrAssetTooLarge once
// more than maxBytes arrive.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAsset
	}
	return data, nil
}
