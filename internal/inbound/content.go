package inbound

// MediaKind is the attachment category of a media message.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Media is the downloadable part shared by every media variant.
type Media struct {
	ID       string
	MimeType string
	SHA256   string
	Kind     MediaKind
}

// Content is the typed payload of a Message. The concrete type is one of
// TextContent, ImageContent, AudioContent, VideoContent, ReactionContent or
// UnknownContent.
type Content interface {
	content()
}

type TextContent struct {
	Body string
}

type ImageContent struct {
	Media   Media
	Caption string
}

type AudioContent struct {
	Media Media
	Voice bool
}

type VideoContent struct {
	Media   Media
	Caption string
}

type ReactionContent struct {
	MessageID string
	Emoji     string
}

// UnknownContent is returned for unsupported types and for a type whose
// payload field is missing.
type UnknownContent struct {
	Type string
}

func (TextContent) content()     {}
func (ImageContent) content()    {}
func (AudioContent) content()    {}
func (VideoContent) content()    {}
func (ReactionContent) content() {}
func (UnknownContent) content()  {}

// Content returns the variant selected by m.Type.
func (m Message) Content() Content {
	switch m.Type {
	case TypeText:
		if m.Text != nil {
			return TextContent{Body: m.Text.Body}
		}
	case TypeImage:
		if m.Image != nil {
			return ImageContent{Media: m.Image.media(MediaImage), Caption: m.Image.Caption}
		}
	case TypeVideo:
		if m.Video != nil {
			return VideoContent{Media: m.Video.media(MediaVideo), Caption: m.Video.Caption}
		}
	case TypeAudio:
		if m.Audio != nil {
			return AudioContent{
				Media: Media{ID: m.Audio.ID, MimeType: m.Audio.MimeType, SHA256: m.Audio.SHA256, Kind: MediaAudio},
				Voice: m.Audio.Voice != nil && *m.Audio.Voice,
			}
		}
	case TypeReaction:
		if m.Reaction != nil {
			return ReactionContent{MessageID: m.Reaction.MessageID, Emoji: m.Reaction.Emoji}
		}
	}
	return UnknownContent{Type: m.Type}
}

func (o *MediaObject) media(kind MediaKind) Media {
	return Media{ID: o.ID, MimeType: o.MimeType, SHA256: o.SHA256, Kind: kind}
}
