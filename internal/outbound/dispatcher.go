package outbound

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/memohai/metahook/internal/config"
	"github.com/memohai/metahook/internal/graph"
	"github.com/memohai/metahook/internal/media"
)

// Live sends through the Graph API with per-owner credentials.
type Live struct {
	clients       *ClientCache
	media         *media.Service
	maxMediaBytes int64
	logger        *slog.Logger
}

// NewLive creates the Graph-backed dispatcher.
func NewLive(log *slog.Logger, clients *ClientCache, mediaService *media.Service, maxMediaBytes int64) *Live {
	if log == nil {
		log = slog.Default()
	}
	return &Live{
		clients:       clients,
		media:         mediaService,
		maxMediaBytes: maxMediaBytes,
		logger:        log.With(slog.String("service", "outbound")),
	}
}

func (d *Live) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	client, err := d.clients.Get(ctx, req.OwnerID, req.channel())
	if err != nil {
		return SendResult{}, err
	}
	resp, err := client.SendText(ctx, req.ToNumber, req.Body)
	if err != nil {
		d.invalidateOnAuth(req.OwnerID, err)
		return SendResult{}, fmt.Errorf("send message: %w", err)
	}
	d.logger.Info("message sent",
		slog.String("owner_id", req.OwnerID),
		slog.String("from", req.FromNumber),
		slog.String("phone_number_id", client.PhoneNumberID),
		slog.String("to", req.ToNumber),
		slog.String("in_reply_to_type", req.MediaType),
		slog.String("message_id", resp.MessageID()),
	)
	return SendResult{MessageID: resp.MessageID()}, nil
}

func (d *Live) DownloadMedia(ctx context.Context, ownerID string, ref MediaRef) ([]byte, error) {
	client, err := d.clients.Get(ctx, ownerID, ref.Channel)
	if err != nil {
		return nil, err
	}
	data, info, err := client.Download(ctx, ref.ID, media.LimitFor(ref.Kind, d.maxMediaBytes))
	if err != nil {
		d.invalidateOnAuth(ownerID, err)
		return nil, fmt.Errorf("download %s %s: %w", ref.Kind, ref.ID, err)
	}
	d.logger.Debug("media downloaded",
		slog.String("owner_id", ownerID),
		slog.String("media_id", ref.ID),
		slog.String("mime", info.MimeType),
		slog.Int("size_bytes", len(data)),
	)
	return data, nil
}

func (d *Live) SaveMedia(ctx context.Context, ownerID string, data []byte, ref MediaRef) (string, error) {
	if d.media == nil {
		return "", media.ErrProviderUnavailable
	}
	asset, err := d.media.Ingest(ctx, media.IngestInput{
		OwnerID:   ownerID,
		MediaType: ref.Kind,
		Mime:      ref.MimeType,
		SourceID:  ref.ID,
		Reader:    bytes.NewReader(data),
		MaxBytes:  media.LimitFor(ref.Kind, d.maxMediaBytes),
	})
	if err != nil {
		return "", fmt.Errorf("save %s %s: %w", ref.Kind, ref.ID, err)
	}
	return asset.AccessPath, nil
}

func (d *Live) invalidateOnAuth(ownerID string, err error) {
	if graph.IsUnauthorized(err) {
		d.clients.Invalidate(ownerID)
	}
}

// Fake logs outbound messages instead of sending them. Media still goes
// through the live path so local testing exercises downloads and storage.
type Fake struct {
	live   *Live
	logger *slog.Logger
}

// NewFake creates a logging dispatcher. live may be nil.
func NewFake(log *slog.Logger, live *Live) *Fake {
	if log == nil {
		log = slog.Default()
	}
	return &Fake{
		live:   live,
		logger: log.With(slog.String("service", "outbound_fake")),
	}
}

func (f *Fake) SendMessage(_ context.Context, req SendRequest) (SendResult, error) {
	f.logger.Warn("message sent via fake sender")
	f.logger.Info("FAKE SENDER - WhatsApp message",
		slog.String("owner_id", req.OwnerID),
		slog.String("from_number", req.FromNumber),
		slog.String("to_number", req.ToNumber),
		slog.String("body", req.Body),
		slog.String("media_type", req.MediaType),
	)
	return SendResult{MessageID: "fake-" + uuid.NewString(), Fake: true}, nil
}

func (f *Fake) DownloadMedia(ctx context.Context, ownerID string, ref MediaRef) ([]byte, error) {
	if f.live == nil {
		f.logger.Info("FAKE SENDER - media download skipped", slog.String("owner_id", ownerID), slog.String("media_id", ref.ID))
		return nil, ErrClientUnavailable
	}
	return f.live.DownloadMedia(ctx, ownerID, ref)
}

func (f *Fake) SaveMedia(ctx context.Context, ownerID string, data []byte, ref MediaRef) (string, error) {
	if f.live == nil {
		f.logger.Info("FAKE SENDER - media save skipped", slog.String("owner_id", ownerID), slog.String("media_id", ref.ID))
		return "", media.ErrProviderUnavailable
	}
	return f.live.SaveMedia(ctx, ownerID, data, ref)
}

// NewDispatcher returns the fake sender when cfg enables it, else live.
func NewDispatcher(log *slog.Logger, cfg config.Config, live *Live) Dispatcher {
	if cfg.UseFakeSender() {
		return NewFake(log, live)
	}
	return live
}
