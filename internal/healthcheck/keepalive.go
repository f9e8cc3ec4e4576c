package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CheckWebhookGet = "webhook_get"
	CheckNgrokLocal = "ngrok_local"

	webhookCheckTimeout = 3 * time.Second
	ngrokCheckTimeout   = 2 * time.Second
)

// Tunnel is one ngrok tunnel as reported by the local agent API.
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Addr      string `json:"addr"`
}

// Checks holds the per-check verdicts. Nil means the check was not run.
type Checks struct {
	WebhookGet *bool `json:"webhook_get"`
	NgrokLocal *bool `json:"ngrok_local"`
}

// Report is the body of GET /keep-alive-webhook.
type Report struct {
	Status       string   `json:"status"`
	PublicURL    *string  `json:"public_url"`
	Checks       Checks   `json:"checks"`
	Reachable    *bool    `json:"reachable"`
	NgrokTunnels []Tunnel `json:"ngrok_tunnels"`
	NgrokAPI     string   `json:"ngrok_api"`
}

// KeepAliveOptions configures a KeepAlive.
type KeepAliveOptions struct {
	// PublicURL is where Meta reaches this service. Empty skips the
	// subscription handshake.
	PublicURL   string
	NgrokAPIURL string
	VerifyToken string
	Client      *http.Client
}

// KeepAlive checks that the public webhook endpoint answers the Meta
// subscription handshake and inspects the local ngrok agent.
type KeepAlive struct {
	opts   KeepAliveOptions
	client *http.Client
	logger *slog.Logger
}

func NewKeepAlive(log *slog.Logger, opts KeepAliveOptions) *KeepAlive {
	if log == nil {
		log = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	opts.PublicURL = strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/")
	opts.NgrokAPIURL = strings.TrimRight(strings.TrimSpace(opts.NgrokAPIURL), "/")
	return &KeepAlive{
		opts:   opts,
		client: client,
		logger: log.With(slog.String("checker", "keepalive")),
	}
}

// Run executes both checks.
func (k *KeepAlive) Run(ctx context.Context) Report {
	report := Report{Status: StatusOK, NgrokAPI: k.opts.NgrokAPIURL}

	if k.opts.PublicURL != "" {
		publicURL := k.opts.PublicURL
		report.PublicURL = &publicURL
		res := k.CheckWebhook(ctx)
		passed := res.Passed()
		report.Checks.WebhookGet = &passed
		report.Reachable = &passed
	}

	res, tunnels := k.CheckNgrok(ctx)
	if res.Status != StatusUnknown {
		passed := res.Passed()
		report.Checks.NgrokLocal = &passed
	}
	report.NgrokTunnels = tunnels
	return report
}

// CheckWebhook performs GET <public_url>/webhook with a fresh challenge and
// verifies it is echoed back.
func (k *KeepAlive) CheckWebhook(ctx context.Context) CheckResult {
	result := CheckResult{ID: CheckWebhookGet, Status: StatusUnknown}
	if k.opts.PublicURL == "" {
		result.Summary = "public url not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, webhookCheckTimeout)
	defer cancel()

	challenge := uuid.NewString()
	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.challenge", challenge)
	q.Set("hub.verify_token", k.opts.VerifyToken)
	target := k.opts.PublicURL + "/webhook?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fail(result, "invalid public url", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fail(result, "webhook unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fail(result, "read webhook response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail(result, "webhook rejected handshake", fmt.Errorf("status %d", resp.StatusCode))
	}
	if strings.TrimSpace(string(body)) != challenge {
		return fail(result, "webhook did not echo challenge", fmt.Errorf("got %q", strings.TrimSpace(string(body))))
	}
	result.Status = StatusOK
	result.Summary = "webhook reachable"
	return result
}

type ngrokTunnels struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// CheckNgrok lists the tunnels of the local ngrok agent.
func (k *KeepAlive) CheckNgrok(ctx context.Context) (CheckResult, []Tunnel) {
	result := CheckResult{ID: CheckNgrokLocal, Status: StatusUnknown}
	if k.opts.NgrokAPIURL == "" {
		result.Summary = "ngrok api not configured"
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ngrokCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.opts.NgrokAPIURL+"/api/tunnels", nil)
	if err != nil {
		return fail(result, "invalid ngrok api url", err), nil
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fail(result, "ngrok api unreachable", err), nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fail(result, "ngrok api error", fmt.Errorf("status %d", resp.StatusCode)), nil
	}
	var payload ngrokTunnels
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fail(result, "decode ngrok tunnels", err), nil
	}
	tunnels := make([]Tunnel, 0, len(payload.Tunnels))
	for _, t := range payload.Tunnels {
		tunnels = append(tunnels, Tunnel{Name: t.Name, PublicURL: t.PublicURL, Proto: t.Proto, Addr: t.Config.Addr})
	}
	result.Status = StatusOK
	result.Summary = fmt.Sprintf("%d tunnel(s)", len(tunnels))
	result.Metadata = map[string]any{"tunnel_count": len(tunnels)}
	return result, tunnels
}

func fail(result CheckResult, summary string, err error) CheckResult {
	result.Status = StatusError
	result.Summary = summary
	result.Detail = err.Error()
	return result
}
