package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/metahook/internal/healthcheck"
)

type KeepAliveHandler struct {
	keepAlive *healthcheck.KeepAlive
	logger    *slog.Logger
}

func NewKeepAliveHandler(log *slog.Logger, keepAlive *healthcheck.KeepAlive) *KeepAliveHandler {
	if log == nil {
		log = slog.Default()
	}
	return &KeepAliveHandler{
		keepAlive: keepAlive,
		logger:    log.With(slog.String("handler", "keepalive")),
	}
}

func (h *KeepAliveHandler) Register(e *echo.Echo) {
	e.GET("/keep-alive-webhook", h.KeepAlive)
}

// KeepAlive always answers 200; the report tells whether the public webhook
// and the ngrok agent are reachable.
func (h *KeepAliveHandler) KeepAlive(c echo.Context) error {
	report := h.keepAlive.Run(c.Request().Context())
	if report.Reachable != nil && !*report.Reachable {
		h.logger.Warn("public webhook unreachable", slog.String("public_url", *report.PublicURL))
	}
	return c.JSON(http.StatusOK, report)
}
