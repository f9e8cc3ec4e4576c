package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/metahook/internal/media"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:       srv.URL,
		Version:       "v21.0",
		AccessToken:   "token-1",
		PhoneNumberID: "PNID-1",
		Timeout:       2 * time.Second,
	})
}

func TestSendText(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/PNID-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "whatsapp", req.MessagingProduct)
		assert.Equal(t, "individual", req.RecipientType)
		assert.Equal(t, "5511991490733", req.To)
		assert.Equal(t, "text", req.Type)
		assert.Equal(t, "olá <b>", req.Text.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"5511991490733","wa_id":"5511991490733"}],"messages":[{"id":"wamid.OUT"}]}`))
	})

	resp, err := client.SendText(context.Background(), "5511991490733", "olá <b>")
	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT", resp.MessageID())
}

func TestSendTextDecodesGraphError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190,"fbtrace_id":"abc"}}`))
	})

	_, err := client.SendText(context.Background(), "1", "hi")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 190, apiErr.Code)
	assert.True(t, IsUnauthorized(err))
}

func TestIsUnauthorized(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUnauthorized(&APIError{StatusCode: http.StatusBadRequest, Code: 190}))
	assert.True(t, IsUnauthorized(&APIError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, IsUnauthorized(&APIError{StatusCode: http.StatusBadRequest, Code: 100}))
	assert.False(t, IsUnauthorized(errors.New("boom")))
}

func TestDownloadTwoStep(t *testing.T) {
	t.Parallel()

	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/media-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "PNID-1", r.URL.Query().Get("phone_number_id"))
		_ = json.NewEncoder(w).Encode(MediaInfo{
			ID:       "media-1",
			URL:      srvURL + "/lookaside/media-1",
			MimeType: "image/jpeg",
			SHA256:   "abc",
			FileSize: 5,
		})
	})
	mux.HandleFunc("/lookaside/media-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg!"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	client := New(Options{BaseURL: srv.URL, Version: "v21.0", AccessToken: "token-1", PhoneNumberID: "PNID-1"})
	data, info, err := client.Download(context.Background(), "media-1", 1024)
	require.NoError(t, err)
	assert.Equal(t, "jpeg!", string(data))
	assert.Equal(t, "image/jpeg", info.MimeType)
}

func TestDownloadMediaFailures(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not here"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/v21.0/no-url":
			_, _ = w.Write([]byte(`{"id":"no-url"}`))
		}
	})

	_, _, err := client.DownloadMedia(context.Background(), client.BaseURL+"/missing", 1024)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not here", apiErr.Message)

	_, _, err = client.DownloadMedia(context.Background(), client.BaseURL+"/big", 16)
	require.ErrorIs(t, err, media.ErrAssetTooLarge)

	_, err = client.RetrieveMediaURL(context.Background(), "no-url")
	require.ErrorIs(t, err, ErrMediaURLMissing)
}

func TestDownloadHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := client.Download(ctx, "slow", 1024)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c := New(Options{BaseURL: "https://graph.example.com/", AccessToken: "x"})
	assert.Equal(t, "https://graph.example.com", c.BaseURL)
	assert.Equal(t, DefaultVersion, c.Version)
	assert.Equal(t, DefaultTimeout, c.HTTP.Timeout)
	assert.Equal(t, "https://graph.example.com/"+DefaultVersion+"/123/messages", c.endpoint("123", "messages"))
}
