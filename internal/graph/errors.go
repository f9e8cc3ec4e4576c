package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMediaURLMissing is returned when the media lookup answered without a URL.
var ErrMediaURLMissing = errors.New("graph: media url missing")

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	StatusCode   int    `json:"-"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph: status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// Code 190 is the OAuthException for an invalid or expired access token.
const codeInvalidToken = 190

// IsUnauthorized reports whether err means the access token is no longer valid.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.Code == codeInvalidToken
}
