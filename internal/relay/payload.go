package relay

import (
	"strings"

	"github.com/israel303/Lollypop/internal/telegram"
)

// Kind tags what a relayed message carries.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
	KindVoice    Kind = "voice"
	KindAudio    Kind = "audio"
	KindSticker  Kind = "sticker"
	// KindOther covers everything without a dedicated case (locations,
	// contacts, polls, animations...). It is relayed with copyMessage.
	KindOther Kind = "other"
)

// Payload is the part of a user message that gets relayed. Exactly the
// fields for its Kind are set: Text for KindText, FileID (plus Caption
// except for stickers) for media kinds, nothing for KindOther.
type Payload struct {
	Kind    Kind
	Text    string
	FileID  string
	Caption string
}

// PayloadOf classifies msg. Text wins over media, matching the order a
// Telegram message can carry them in.
func PayloadOf(msg *telegram.Message) Payload {
	if msg == nil {
		return Payload{Kind: KindOther}
	}
	if strings.TrimSpace(msg.Text) != "" {
		return Payload{Kind: KindText, Text: msg.Text}
	}
	caption := msg.Caption
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		return Payload{Kind: KindPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID, Caption: caption}
	case msg.Document != nil:
		return Payload{Kind: KindDocument, FileID: msg.Document.FileID, Caption: caption}
	case msg.Video != nil:
		return Payload{Kind: KindVideo, FileID: msg.Video.FileID, Caption: caption}
	case msg.Voice != nil:
		return Payload{Kind: KindVoice, FileID: msg.Voice.FileID, Caption: caption}
	case msg.Audio != nil:
		return Payload{Kind: KindAudio, FileID: msg.Audio.FileID, Caption: caption}
	case msg.Sticker != nil:
		return Payload{Kind: KindSticker, FileID: msg.Sticker.FileID}
	default:
		return Payload{Kind: KindOther}
	}
}

func (p Payload) mediaKind() (telegram.MediaKind, bool) {
	switch p.Kind {
	case KindPhoto:
		return telegram.MediaPhoto, true
	case KindDocument:
		return telegram.MediaDocument, true
	case KindVideo:
		return telegram.MediaVideo, true
	case KindVoice:
		return telegram.MediaVoice, true
	case KindAudio:
		return telegram.MediaAudio, true
	case KindSticker:
		return telegram.MediaSticker, true
	default:
		return "", false
	}
}
