package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/metahook/internal/inbound"
	"github.com/memohai/metahook/internal/media"
	"github.com/memohai/metahook/internal/outbound"
)

// ResolvedContext is the per-event routing information of a reply.
type ResolvedContext struct {
	OwnerID string
	// ContactWaID is the sender; replies are addressed to it.
	ContactWaID string
	// DisplayPhoneNumber is the business number replies are sent from.
	DisplayPhoneNumber string
	// PhoneNumberID is the Graph id of that number.
	PhoneNumberID string
}

func (rc ResolvedContext) channel() outbound.Channel {
	return outbound.Channel{PhoneNumberID: rc.PhoneNumberID, DisplayNumber: rc.DisplayPhoneNumber}
}

const defaultMediaTimeout = 30 * time.Second

// Extractor derives reply text from a message, fetching and storing media
// attachments on the way.
type Extractor struct {
	dispatcher   outbound.Dispatcher
	mediaTimeout time.Duration
	logger       *slog.Logger
}

func NewExtractor(log *slog.Logger, dispatcher outbound.Dispatcher, mediaTimeout time.Duration) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	if mediaTimeout <= 0 {
		mediaTimeout = defaultMediaTimeout
	}
	return &Extractor{
		dispatcher:   dispatcher,
		mediaTimeout: mediaTimeout,
		logger:       log.With(slog.String("service", "text_extractor")),
	}
}

// ExtractText returns the reply text of msg and whether there is one.
// Audio never produces text. Image and video yield their caption whether or
// not the attachment could be retrieved.
func (x *Extractor) ExtractText(ctx context.Context, msg inbound.Message, rc ResolvedContext) (string, bool) {
	switch c := msg.Content().(type) {
	case inbound.TextContent:
		return c.Body, true
	case inbound.ReactionContent:
		x.logger.Info("reaction received",
			slog.String("owner_id", rc.OwnerID),
			slog.String("emoji", c.Emoji),
			slog.String("reacted_message_id", c.MessageID),
		)
		return "Received reaction: " + c.Emoji, true
	case inbound.AudioContent:
		if _, ok := x.retrieve(ctx, rc, msg.ID, c.Media); ok {
			x.logger.Info("audio stored, transcription not available",
				slog.String("owner_id", rc.OwnerID),
				slog.String("message_id", msg.ID),
				slog.Bool("voice", c.Voice),
			)
		}
		return "", false
	case inbound.ImageContent:
		x.retrieve(ctx, rc, msg.ID, c.Media)
		return c.Caption, c.Caption != ""
	case inbound.VideoContent:
		x.retrieve(ctx, rc, msg.ID, c.Media)
		return c.Caption, c.Caption != ""
	case inbound.UnknownContent:
		x.logger.Info("unsupported message type",
			slog.String("owner_id", rc.OwnerID),
			slog.String("message_id", msg.ID),
			slog.String("type", c.Type),
		)
	}
	return "", false
}

// retrieve downloads an attachment and persists it. Failures are logged and
// reported through the bool only.
func (x *Extractor) retrieve(ctx context.Context, rc ResolvedContext, messageID string, m inbound.Media) (string, bool) {
	log := x.logger.With(
		slog.String("owner_id", rc.OwnerID),
		slog.String("message_id", messageID),
		slog.String("media_id", m.ID),
		slog.String("kind", string(m.Kind)),
	)
	if m.ID == "" {
		log.Warn("media message without media id")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, x.mediaTimeout)
	defer cancel()

	ref := outbound.MediaRef{ID: m.ID, Kind: media.MediaType(m.Kind), MimeType: m.MimeType, Channel: rc.channel()}
	data, err := x.dispatcher.DownloadMedia(ctx, rc.OwnerID, ref)
	if err != nil {
		log.Error("media retrieval failed", slog.Any("error", err))
		return "", false
	}
	if len(data) == 0 {
		log.Warn("media retrieval returned no content")
		return "", false
	}
	where, err := x.dispatcher.SaveMedia(ctx, rc.OwnerID, data, ref)
	if err != nil {
		log.Error("media save failed", slog.Any("error", err))
		return "", false
	}
	log.Info("media saved", slog.String("path", where), slog.Int("size_bytes", len(data)))
	return where, true
}
