package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the keep-alive checks periodically and logs failures.
type Scheduler struct {
	cron      *cron.Cron
	keepAlive *KeepAlive
	logger    *slog.Logger
}

// NewScheduler parses schedule (standard cron or descriptors such as
// "@every 5m"). An empty schedule returns a nil scheduler.
func NewScheduler(log *slog.Logger, keepAlive *KeepAlive, schedule string) (*Scheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || keepAlive == nil {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron:      cron.New(),
		keepAlive: keepAlive,
		logger:    log.With(slog.String("service", "keepalive_scheduler")),
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("keepalive schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.logger.Info("keepalive scheduler started")
}

// Stop stops scheduling and waits for a running check or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runOnce() {
	report := s.keepAlive.Run(context.Background())
	s.logReport(report)
}

func (s *Scheduler) logReport(report Report) {
	attrs := []any{slog.Int("tunnels", len(report.NgrokTunnels))}
	if report.PublicURL != nil {
		attrs = append(attrs, slog.String("public_url", *report.PublicURL))
	}
	switch {
	case report.Reachable != nil && !*report.Reachable:
		s.logger.Warn("public webhook unreachable", attrs...)
	case report.Checks.NgrokLocal != nil && !*report.Checks.NgrokLocal:
		s.logger.Warn("ngrok agent unreachable", attrs...)
	default:
		s.logger.Debug("keepalive check passed", attrs...)
	}
}
