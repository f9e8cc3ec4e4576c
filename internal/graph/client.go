// Package graph is a minimal client for the Meta Graph API endpoints used by
// WhatsApp Cloud API: sending text messages and fetching inbound media.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/memohai/metahook/internal/media"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v21.0"
	DefaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response is decoded.
	maxErrorBody = 64 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	Version       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
	// Transport is the base round tripper; bearer auth is layered on top.
	Transport http.RoundTripper
}

// Client calls the Graph API on behalf of one phone number.
type Client struct {
	BaseURL       string
	Version       string
	PhoneNumberID string
	HTTP          *http.Client
}

// New creates a client authenticating every request with opts.AccessToken.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = DefaultVersion
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"})
	return &Client{
		BaseURL:       baseURL,
		Version:       version,
		PhoneNumberID: opts.PhoneNumberID,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: src, Base: base},
		},
	}
}

func (c *Client) endpoint(parts ...string) string {
	return c.BaseURL + path.Join(append([]string{"/", c.Version}, parts...)...)
}

// SendText sends a text message from the client's phone number to "to".
func (c *Client) SendText(ctx context.Context, to, body string) (SendMessageResponse, error) {
	if strings.TrimSpace(c.PhoneNumberID) == "" {
		return SendMessageResponse{}, fmt.Errorf("graph: phone number id is required")
	}
	payload := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             TextBody{Body: body},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return SendMessageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.PhoneNumberID, "messages"), &buf)
	if err != nil {
		return SendMessageResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var out SendMessageResponse
	if err := c.doJSON(req, &out); err != nil {
		return SendMessageResponse{}, err
	}
	return out, nil
}

// RetrieveMediaURL resolves a media id to its short-lived download URL.
func (c *Client) RetrieveMediaURL(ctx context.Context, mediaID string) (MediaInfo, error) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return MediaInfo{}, fmt.Errorf("graph: media id is required")
	}
	uri := c.endpoint(mediaID)
	if c.PhoneNumberID != "" {
		uri += "?phone_number_id=" + url.QueryEscape(c.PhoneNumberID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("create request: %w", err)
	}
	var info MediaInfo
	if err := c.doJSON(req, &info); err != nil {
		return MediaInfo{}, err
	}
	if info.URL == "" {
		return MediaInfo{}, ErrMediaURLMissing
	}
	return info, nil
}

// DownloadMedia fetches the bytes behind a media URL. It returns the body and
// the response media type. Bodies larger than maxBytes are rejected.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error) {
	if maxBytes <= 0 {
		maxBytes = media.MaxAssetBytes
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp)
	}
	data, err := media.ReadAllWithLimit(resp.Body, maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	contentType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, perr := mime.ParseMediaType(ct); perr == nil {
			contentType = mt
		}
	}
	return data, contentType, nil
}

// Download resolves mediaID and fetches its bytes. The two calls run in
// sequence under ctx.
func (c *Client) Download(ctx context.Context, mediaID string, maxBytes int64) ([]byte, MediaInfo, error) {
	info, err := c.RetrieveMediaURL(ctx, mediaID)
	if err != nil {
		return nil, MediaInfo{}, fmt.Errorf("retrieve media url: %w", err)
	}
	data, contentType, err := c.DownloadMedia(ctx, info.URL, maxBytes)
	if err != nil {
		return nil, info, err
	}
	if info.MimeType == "" {
		info.MimeType = contentType
	}
	return data, info, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
