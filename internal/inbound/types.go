// Package inbound models the WhatsApp Cloud API webhook payload and classifies
// the events it carries.
package inbound

// Payload is the top-level webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business-account entry. ID is the business account id.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps a single change notification.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the message data of a change.
type Value struct {
	MessagingProduct string         `json:"messaging_product"`
	Metadata         Metadata       `json:"metadata"`
	Contacts         []Contact      `json:"contacts,omitempty"`
	Messages         []Message      `json:"messages,omitempty"`
	Statuses         []StatusUpdate `json:"statuses,omitempty"`
}

// Metadata describes the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the end user who sent a message.
type Contact struct {
	Profile Profile `json:"profile"`
	WaID    string  `json:"wa_id"`
}

type Profile struct {
	Name string `json:"name"`
}

// StatusUpdate is a delivery receipt for a previously sent message.
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Message is one inbound message. Exactly one of the typed payload fields is
// expected to be set, matching Type.
type Message struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Text      *TextBody    `json:"text,omitempty"`
	Image     *MediaObject `json:"image,omitempty"`
	Audio     *AudioObject `json:"audio,omitempty"`
	Video     *MediaObject `json:"video,omitempty"`
	Reaction  *Reaction    `json:"reaction,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// MediaObject describes an image or video attachment.
type MediaObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
}

// AudioObject describes an audio attachment. Voice is set for recorded notes.
type AudioObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Voice    *bool  `json:"voice,omitempty"`
}

// Reaction is an emoji reaction to an earlier message.
type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Message type tags as sent by the platform.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeReaction = "reaction"
)

// BusinessAccountID returns entry[0].id, or "" when absent.
func (p Payload) BusinessAccountID() string {
	if len(p.Entry) == 0 {
		return ""
	}
	return p.Entry[0].ID
}

// FirstValue returns entry[0].changes[0].value.
func (p Payload) FirstValue() (Value, bool) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Value{}, false
	}
	return p.Entry[0].Changes[0].Value, true
}

// DisplayPhoneNumber returns the receiving business number, or "" when absent.
func (p Payload) DisplayPhoneNumber() string {
	v, _ := p.FirstValue()
	return v.Metadata.DisplayPhoneNumber
}

// PhoneNumberID returns the receiving phone number id, or "" when absent.
func (p Payload) PhoneNumberID() string {
	v, _ := p.FirstValue()
	return v.Metadata.PhoneNumberID
}
