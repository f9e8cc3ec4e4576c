package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/media"
	"github.com/memohai/metahook/internal/media/providers/localfs"
)

type graphStub struct {
	srv      *httptest.Server
	sends    atomic.Int32
	sendCode int

	mu    sync.Mutex
	paths []string
	auth  []string
}

func (g *graphStub) sendPaths() ([]string, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.paths...), append([]string(nil), g.auth...)
}

func newGraphStub(t *testing.T) *graphStub {
	t.Helper()
	g := &graphStub{sendCode: http.StatusOK}
	mux := http.NewServeMux()
	send := func(w http.ResponseWriter, r *http.Request) {
		g.sends.Add(1)
		g.mu.Lock()
		g.paths = append(g.paths, r.URL.Path)
		g.auth = append(g.auth, r.Header.Get("Authorization"))
		g.mu.Unlock()
		if g.sendCode != http.StatusOK {
			w.WriteHeader(g.sendCode)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
			return
		}
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.SENT"}]}`))
	}
	mux.HandleFunc("/v21.0/PN1/messages", send)
	mux.HandleFunc("/v21.0/PN2/messages", send)
	mux.HandleFunc("/v21.0/media-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "media-1",
			"url":       g.srv.URL + "/files/media-1",
			"mime_type": "audio/ogg; codecs=opus",
		})
	})
	mux.HandleFunc("/files/media-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("OggS voice note"))
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func newLive(t *testing.T, g *graphStub) *Live {
	t.Helper()
	src := &fakeSource{accounts: map[string][]accounts.Account{
		"owner-1": {
			{OwnerID: "owner-1", AccessToken: "tok-1", PhoneNumberID: "PN1", PhoneNumber: "15550001111"},
			{OwnerID: "owner-1", AccessToken: "tok-2", PhoneNumberID: "PN2", PhoneNumber: "15550002222"},
		},
	}}
	cache := NewClientCache(nil, src, ClientCacheOptions{BaseURL: g.srv.URL, Version: "v21.0"})
	provider, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	return NewLive(nil, cache, media.NewService(nil, provider), 1<<20)
}

func TestLiveSendMessage(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	live := newLive(t, g)

	res, err := live.SendMessage(context.Background(), SendRequest{OwnerID: "owner-1", FromNumber: "15550001111", ToNumber: "5511991490733", Body: "hi", MediaType: "text"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.SENT", res.MessageID)
	assert.False(t, res.Fake)
	assert.Equal(t, int32(1), g.sends.Load())
}

func TestLiveSendMessageUsesReceivingNumber(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	live := newLive(t, g)
	ctx := context.Background()

	_, err := live.SendMessage(ctx, SendRequest{OwnerID: "owner-1", FromNumber: "15550002222", ToNumber: "5511991490733", Body: "hi"})
	require.NoError(t, err)
	_, err = live.SendMessage(ctx, SendRequest{OwnerID: "owner-1", FromNumber: "15550001111", PhoneNumberID: "PN2", ToNumber: "5511991490733", Body: "hi"})
	require.NoError(t, err)
	_, err = live.SendMessage(ctx, SendRequest{OwnerID: "owner-1", FromNumber: "15550001111", ToNumber: "5511991490733", Body: "hi"})
	require.NoError(t, err)

	paths, auth := g.sendPaths()
	assert.Equal(t, []string{"/v21.0/PN2/messages", "/v21.0/PN2/messages", "/v21.0/PN1/messages"}, paths)
	assert.Equal(t, []string{"Bearer tok-2", "Bearer tok-2", "Bearer tok-1"}, auth)
}

func TestLiveSendMessageInvalidatesOnAuthError(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	g.sendCode = http.StatusUnauthorized
	live := newLive(t, g)

	_, err := live.SendMessage(context.Background(), SendRequest{OwnerID: "owner-1", ToNumber: "1", Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, 0, live.clients.Len())
}

func TestLiveSendMessageUnknownOwner(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	live := newLive(t, g)

	_, err := live.SendMessage(context.Background(), SendRequest{OwnerID: "nobody", ToNumber: "1", Body: "hi"})
	require.ErrorIs(t, err, ErrClientUnavailable)
	assert.Equal(t, int32(0), g.sends.Load())
}

func TestLiveDownloadAndSaveMedia(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	live := newLive(t, g)
	ref := MediaRef{ID: "media-1", Kind: media.MediaTypeAudio, MimeType: "audio/ogg; codecs=opus"}

	data, err := live.DownloadMedia(context.Background(), "owner-1", ref)
	require.NoError(t, err)
	assert.Equal(t, "OggS voice note", string(data))

	where, err := live.SaveMedia(context.Background(), "owner-1", data, ref)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(where, ".ogg"), where)
	stored, err := os.ReadFile(where)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestFakeSendMessage(t *testing.T) {
	t.Parallel()

	g := newGraphStub(t)
	fake := NewFake(nil, newLive(t, g))

	res, err := fake.SendMessage(context.Background(), SendRequest{OwnerID: "owner-1", ToNumber: "1", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Fake)
	assert.True(t, strings.HasPrefix(res.MessageID, "fake-"))
	assert.Equal(t, int32(0), g.sends.Load())

	data, err := fake.DownloadMedia(context.Background(), "owner-1", MediaRef{ID: "media-1", Kind: media.MediaTypeAudio})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFakeWithoutLive(t *testing.T) {
	t.Parallel()

	fake := NewFake(nil, nil)
	_, err := fake.DownloadMedia(context.Background(), "owner-1", MediaRef{ID: "m"})
	require.ErrorIs(t, err, ErrClientUnavailable)
	_, err = fake.SaveMedia(context.Background(), "owner-1", []byte("x"), MediaRef{ID: "m"})
	require.ErrorIs(t, err, media.ErrProviderUnavailable)
}

func TestNewDispatcherSelectsFakeOnlyInDevelopment(t *testing.T) {
	t.Parallel()

	live := NewLive(nil, nil, nil, 0)

	cfg := config.Defaults()
	cfg.API.UseFakeSender = true
	_, isFake := NewDispatcher(nil, cfg, live).(*Fake)
	assert.True(t, isFake)

	cfg.API.Environment = config.EnvironmentProduction
	assert.Same(t, live, NewDispatcher(nil, cfg, live))
}
