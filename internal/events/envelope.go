// Package events publishes inbound WhatsApp activity to the internal pipeline.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Producer identifies this service in envelope metadata.
	Producer = "metahook"

	TypeInboundMessage = "meta.inbound.message.v1"
)

// Meta is the envelope header shared by every event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	OwnerID       string    `json:"owner_id"`
	Time          time.Time `json:"time"`
}

// Envelope wraps an event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// InboundMessage is the data of a TypeInboundMessage event.
type InboundMessage struct {
	OwnerID            string `json:"owner_id"`
	BusinessAccountID  string `json:"business_account_id"`
	PhoneNumberID      string `json:"phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	MessageID          string `json:"message_id"`
	From               string `json:"from"`
	ContactName        string `json:"contact_name,omitempty"`
	Type               string `json:"type"`
	Timestamp          string `json:"timestamp"`
	Text               string `json:"text,omitempty"`
	Caption            string `json:"caption,omitempty"`
	MediaID            string `json:"media_id,omitempty"`
	MimeType           string `json:"mime_type,omitempty"`
	Emoji              string `json:"emoji,omitempty"`
	ReactedMessageID   string `json:"reacted_message_id,omitempty"`
}

// NewInboundMessage wraps msg in an envelope. The platform message id is
// used as correlation id so downstream consumers can join on it.
func NewInboundMessage(msg InboundMessage, now time.Time) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			Type:          TypeInboundMessage,
			CorrelationID: msg.MessageID,
			Producer:      Producer,
			OwnerID:       msg.OwnerID,
			Time:          now.UTC(),
		},
		Data: msg,
	}
}

// InboundRoutingKey returns "meta.inbound.<type>" for a message type.
func InboundRoutingKey(messageType string) string {
	t := strings.ToLower(strings.TrimSpace(messageType))
	if t == "" {
		t = "unknown"
	}
	return "meta.inbound." + t
}
