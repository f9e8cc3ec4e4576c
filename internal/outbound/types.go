// Package outbound sends replies and fetches media through the owner's
// WhatsApp Cloud API credentials.
package outbound

import (
	"context"
	"errors"

	"github.com/memohai/metahook/internal/media"
)

// ErrClientUnavailable means no credentials could be found for an owner.
var ErrClientUnavailable = errors.New("outbound: no meta client for owner")

// Channel is the business number a conversation runs on. Empty fields
// select the owner's primary account.
type Channel struct {
	PhoneNumberID string
	DisplayNumber string
}

// SendRequest is one outbound text message.
type SendRequest struct {
	OwnerID string
	// FromNumber is the display number the reply is sent from.
	FromNumber    string
	PhoneNumberID string
	ToNumber      string
	Body          string
	// MediaType is the type of the inbound message being answered.
	MediaType string
}

func (r SendRequest) channel() Channel {
	return Channel{PhoneNumberID: r.PhoneNumberID, DisplayNumber: r.FromNumber}
}

// SendResult reports the platform id of a sent message.
type SendResult struct {
	MessageID string
	Fake      bool
}

// MediaRef identifies an inbound attachment.
type MediaRef struct {
	ID       string
	Kind     media.MediaType
	MimeType string
	// Channel is the number the attachment was received on.
	Channel Channel
}

// Dispatcher is the outbound side of the pipeline.
type Dispatcher interface {
	SendMessage(ctx context.Context, req SendRequest) (SendResult, error)
	DownloadMedia(ctx context.Context, ownerID string, ref MediaRef) ([]byte, error)
	// SaveMedia persists data and returns where it can be read back.
	SaveMedia(ctx context.Context, ownerID string, data []byte, ref MediaRef) (string, error)
}
