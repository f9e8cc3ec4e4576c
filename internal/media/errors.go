package media

import "errors"

var (
	// ErrProviderUnavailable means no storage backend is configured.
	ErrProviderUnavailable = errors.New("media storage unavailable")
	ErrAssetTooLarge       = errors.New("media asset too large")
	ErrEmptyAsset          = errors.New("media asset payload is empty")
	// ErrPathTraversal rejects owner ids or keys that escape the data root.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
