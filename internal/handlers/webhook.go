package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/inbound"
	"github.com/memohai/metahook/internal/webhook"
)

const signatureHeader = "X-Hub-Signature-256"

var webhookPaths = []string{"/webhook", "/meta/webhook", "/webhooks/inbound"}

// WebhookHandler is the WhatsApp Cloud API webhook endpoint.
type WebhookHandler struct {
	service     *webhook.Service
	verifyToken string
	bypass      bool
	appSecret   string
	bodyLimit   int64
	logger      *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, cfg config.Config, service *webhook.Service) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	bodyLimit := cfg.Webhook.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = config.DefaultWebhookBodyLimit
	}
	return &WebhookHandler{
		service:     service,
		verifyToken: cfg.VerifyToken(),
		bypass:      cfg.BypassSubscriptionCheck(),
		appSecret:   strings.TrimSpace(cfg.Meta.AppSecret),
		bodyLimit:   bodyLimit,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	for _, path := range webhookPaths {
		e.GET(path, h.Verify)
		e.POST(path, h.Receive)
	}
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	matched := h.verifyToken != "" && token == h.verifyToken
	if mode == "subscribe" && (matched || h.bypass) {
		if !matched {
			h.logger.Warn("subscription check bypassed")
		}
		h.logger.Info("webhook subscription verified")
		return c.String(http.StatusOK, challenge)
	}
	h.logger.Warn("webhook verification failed",
		slog.String("mode", mode),
		slog.Bool("token_match", matched),
	)
	return echo.NewHTTPError(http.StatusForbidden, "Invalid verification token")
}

// Receive acknowledges a delivery once its owner is known and processes it
// in the background.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.bodyLimit+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}
	if int64(len(body)) > h.bodyLimit {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}
	if h.appSecret != "" && !validSignature(h.appSecret, body, c.Request().Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature mismatch", slog.String("remote_ip", c.RealIP()))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var payload inbound.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON")
	}

	acc, err := h.service.Resolve(c.Request().Context(), payload)
	if err != nil {
		if errors.Is(err, webhook.ErrOwnerNotFound) {
			h.logger.Warn("webhook owner not found",
				slog.String("business_account_id", payload.BusinessAccountID()),
				slog.String("display_phone_number", payload.DisplayPhoneNumber()),
			)
			return echo.NewHTTPError(http.StatusForbidden, "Owner not found for inbound/outbound number")
		}
		h.logger.Error("webhook owner lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "owner lookup failed")
	}

	h.service.Submit(payload, acc)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown drains deliveries still being processed.
func (h *WebhookHandler) Shutdown(ctx context.Context) error {
	return h.service.Shutdown(ctx)
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}
