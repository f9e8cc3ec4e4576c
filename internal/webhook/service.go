package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/memohai/metahook/internal/accounts"
	"github.com/memohai/metahook/internal/events"
	"github.com/memohai/metahook/internal/inbound"
	"github.com/memohai/metahook/internal/outbound"
)

// Outcome is the terminal state of one webhook delivery.
type Outcome string

const (
	// OutcomeRejected means no owner was resolved.
	OutcomeRejected Outcome = "rejected"
	// OutcomeStatus means the delivery was a status update.
	OutcomeStatus Outcome = "status"
	// OutcomeSuppressed means the delivery produced no reply.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeDuplicate means the message id was already handled.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDispatched means a reply was sent.
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeFailed means the reply could not be sent or processing panicked.
	OutcomeFailed Outcome = "failed"
)

// Options tunes a Service.
type Options struct {
	// ProcessTimeout bounds the background processing started by Submit.
	ProcessTimeout time.Duration
	// DedupTTL is how long a message id is remembered. Zero disables dedup.
	DedupTTL time.Duration
	// PublishTimeout bounds one inbound event publish.
	PublishTimeout time.Duration
}

const (
	defaultProcessTimeout = 60 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// Service runs the webhook pipeline.
type Service struct {
	resolver   *Resolver
	extractor  *Extractor
	dispatcher outbound.Dispatcher
	publisher  events.Publisher
	seen       *gocache.Cache
	opts       Options
	now        func() time.Time
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewService(log *slog.Logger, resolver *Resolver, extractor *Extractor, dispatcher outbound.Dispatcher, publisher events.Publisher, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = defaultProcessTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	s := &Service{
		resolver:   resolver,
		extractor:  extractor,
		dispatcher: dispatcher,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
		logger:     log.With(slog.String("service", "webhook")),
	}
	if opts.DedupTTL > 0 {
		s.seen = gocache.New(opts.DedupTTL, 2*opts.DedupTTL)
	}
	return s
}

// Resolve returns the owning account of p.
func (s *Service) Resolve(ctx context.Context, p inbound.Payload) (accounts.Account, error) {
	return s.resolver.Resolve(ctx, p)
}

// HandleWebhook runs the whole pipeline for p. It never panics and never
// returns an error; the outcome reports what happened.
func (s *Service) HandleWebhook(ctx context.Context, p inbound.Payload) Outcome {
	acc, err := s.resolver.Resolve(ctx, p)
	if err != nil {
		s.logger.Warn("webhook rejected",
			slog.String("business_account_id", p.BusinessAccountID()),
			slog.String("display_phone_number", p.DisplayPhoneNumber()),
			slog.Any("error", err),
		)
		return OutcomeRejected
	}
	return s.HandleResolved(ctx, p, acc)
}

// HandleResolved runs the pipeline after owner resolution.
func (s *Service) HandleResolved(ctx context.Context, p inbound.Payload, acc accounts.Account) (outcome Outcome) {
	log := s.logger.With(slog.String("owner_id", acc.OwnerID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook processing panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = OutcomeFailed
		}
	}()

	c := inbound.Classify(p)
	switch c.Kind {
	case inbound.KindStatus:
		log.Info(fmt.Sprintf("Status update: %s for message %s", c.Status.Status, c.Status.ID),
			slog.String("status", c.Status.Status),
			slog.String("message_id", c.Status.ID),
			slog.String("recipient_id", c.Status.RecipientID),
		)
		return OutcomeStatus
	case inbound.KindMissingContact:
		log.Warn("message without contact information",
			slog.String("message_id", c.Message.ID),
			slog.String("type", c.Message.Type),
		)
		return OutcomeSuppressed
	case inbound.KindUnsupported:
		log.Info("Unknown webhook event", slog.Any("value", c.Value))
		return OutcomeSuppressed
	}

	msg := c.Message
	log = log.With(slog.String("message_id", msg.ID), slog.String("type", msg.Type))
	if s.isDuplicate(msg.ID) {
		log.Info("duplicate message dropped")
		return OutcomeDuplicate
	}

	s.publish(p, acc, c)

	rc := ResolvedContext{
		OwnerID:            acc.OwnerID,
		ContactWaID:        c.ContactWaID,
		DisplayPhoneNumber: c.DisplayPhoneNumber,
		PhoneNumberID:      p.PhoneNumberID(),
	}
	text, ok := s.extractor.ExtractText(ctx, msg, rc)
	if !ok || text == "" {
		log.Info("no reply text extracted")
		return OutcomeSuppressed
	}

	res, err := s.dispatcher.SendMessage(ctx, outbound.SendRequest{
		OwnerID:       rc.OwnerID,
		FromNumber:    rc.DisplayPhoneNumber,
		PhoneNumberID: rc.PhoneNumberID,
		ToNumber:      rc.ContactWaID,
		Body:          text,
		MediaType:     msg.Type,
	})
	if err != nil {
		log.Error("reply dispatch failed", slog.String("to", rc.ContactWaID), slog.Any("error", err))
		return OutcomeFailed
	}
	log.Info("webhook processed",
		slog.String("to", rc.ContactWaID),
		slog.String("reply_id", res.MessageID),
		slog.Bool("fake", res.Fake),
	)
	return OutcomeDispatched
}

// Submit processes p in the background with a context detached from the
// request and bounded by ProcessTimeout.
func (s *Service) Submit(p inbound.Payload, acc accounts.Account) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProcessTimeout)
		defer cancel()
		s.HandleResolved(ctx, p, acc)
	}()
}

// Wait blocks until every submitted delivery and event publish finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown waits for submitted deliveries or until ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain: %w", ctx.Err())
	}
}

func (s *Service) isDuplicate(messageID string) bool {
	if s.seen == nil || messageID == "" {
		return false
	}
	return s.seen.Add(messageID, struct{}{}, gocache.DefaultExpiration) != nil
}

// publish hands the inbound event to the publisher on its own goroutine so a
// slow or unreachable broker never delays the reply.
func (s *Service) publish(p inbound.Payload, acc accounts.Account, c inbound.Classification) {
	msg := c.Message
	data := events.InboundMessage{
		OwnerID:            acc.OwnerID,
		BusinessAccountID:  p.BusinessAccountID(),
		PhoneNumberID:      p.PhoneNumberID(),
		DisplayPhoneNumber: c.DisplayPhoneNumber,
		MessageID:          msg.ID,
		From:               c.ContactWaID,
		ContactName:        c.ContactName,
		Type:               msg.Type,
		Timestamp:          msg.Timestamp,
	}
	switch v := msg.Content().(type) {
	case inbound.TextContent:
		data.Text = v.Body
	case inbound.ImageContent:
		data.Caption, data.MediaID, data.MimeType = v.Caption, v.Media.ID, v.Media.MimeType
	case inbound.VideoContent:
		data.Caption, data.MediaID, data.MimeType = v.Caption, v.Media.ID, v.Media.MimeType
	case inbound.AudioContent:
		data.MediaID, data.MimeType = v.Media.ID, v.Media.MimeType
	case inbound.ReactionContent:
		data.Emoji, data.ReactedMessageID = v.Emoji, v.MessageID
	}
	key, env := events.InboundRoutingKey(msg.Type), events.NewInboundMessage(data, s.now())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, key, env); err != nil {
			s.logger.Warn("inbound event publish failed",
				slog.String("owner_id", acc.OwnerID),
				slog.String("message_id", msg.ID),
				slog.Any("error", err),
			)
		}
	}()
}
