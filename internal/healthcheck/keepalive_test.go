package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newWebhookEcho(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != token {
			http.Error(w, "Invalid verification token", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newNgrokAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunnels" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tunnels":[{"name":"command_line","public_url":"https://abc.ngrok.app","proto":"https","config":{"addr":"http://localhost:8000","inspect":true}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKeepAliveReachable(t *testing.T) {
	t.Parallel()

	hook := newWebhookEcho(t, "secret")
	ngrok := newNgrokAPI(t)
	k := NewKeepAlive(nil, KeepAliveOptions{PublicURL: hook.URL + "/", NgrokAPIURL: ngrok.URL, VerifyToken: "secret"})

	report := k.Run(context.Background())
	if report.Status != StatusOK {
		t.Fatalf("unexpected status: %s", report.Status)
	}
	if report.Reachable == nil || !*report.Reachable {
		t.Fatalf("expected reachable, got %v", report.Reachable)
	}
	if report.Checks.WebhookGet == nil || !*report.Checks.WebhookGet {
		t.Fatal("expected webhook_get true")
	}
	if report.Checks.NgrokLocal == nil || !*report.Checks.NgrokLocal {
		t.Fatal("expected ngrok_local true")
	}
	if len(report.NgrokTunnels) != 1 {
		t.Fatalf("expected 1 tunnel, got %d", len(report.NgrokTunnels))
	}
	want := Tunnel{Name: "command_line", PublicURL: "https://abc.ngrok.app", Proto: "https", Addr: "http://localhost:8000"}
	if report.NgrokTunnels[0] != want {
		t.Fatalf("unexpected tunnel: %+v", report.NgrokTunnels[0])
	}
	if report.PublicURL == nil || *report.PublicURL != hook.URL {
		t.Fatalf("unexpected public url: %v", report.PublicURL)
	}
}

func TestKeepAliveWrongToken(t *testing.T) {
	t.Parallel()

	hook := newWebhookEcho(t, "secret")
	k := NewKeepAlive(nil, KeepAliveOptions{PublicURL: hook.URL, VerifyToken: "other"})

	res := k.CheckWebhook(context.Background())
	if res.Status != StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	report := k.Run(context.Background())
	if report.Reachable == nil || *report.Reachable {
		t.Fatal("expected unreachable")
	}
}

func TestKeepAliveWithoutPublicURL(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)

	k := NewKeepAlive(nil, KeepAliveOptions{NgrokAPIURL: down.URL})
	report := k.Run(context.Background())
	if report.Reachable != nil || report.PublicURL != nil || report.Checks.WebhookGet != nil {
		t.Fatalf("expected null webhook fields, got %+v", report)
	}
	if report.Checks.NgrokLocal == nil || *report.Checks.NgrokLocal {
		t.Fatal("expected ngrok_local false")
	}
	if report.NgrokTunnels != nil {
		t.Fatalf("expected null tunnels, got %v", report.NgrokTunnels)
	}

	body, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"public_url", "reachable", "ngrok_tunnels"} {
		if v, ok := decoded[key]; !ok || v != nil {
			t.Fatalf("expected %s to be null, got %v (present=%v)", key, v, ok)
		}
	}
	if decoded["ngrok_api"] != down.URL {
		t.Fatalf("unexpected ngrok_api: %v", decoded["ngrok_api"])
	}
}

func TestNewSchedulerEmptySchedule(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(nil, NewKeepAlive(nil, KeepAliveOptions{}), "")
	if err != nil || s != nil {
		t.Fatalf("expected disabled scheduler, got %v %v", s, err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop nil scheduler: %v", err)
	}
}

func TestNewSchedulerInvalidSchedule(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(nil, NewKeepAlive(nil, KeepAliveOptions{}), "every now and then"); err == nil {
		t.Fatal("expected parse error")
	}
	s, err := NewScheduler(nil, NewKeepAlive(nil, KeepAliveOptions{}), "@every 5m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
