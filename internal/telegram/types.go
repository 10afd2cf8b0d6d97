package telegram

import "strings"

// Subset of the Bot API object model used by the relay.

type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
	ChannelPost   *Message `json:"channel_post,omitempty"`
}

type Message struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool   `json:"is_topic_message,omitempty"`
	Date            int64  `json:"date,omitempty"`
	EditDate        int64  `json:"edit_date,omitempty"`
	Chat            *Chat  `json:"chat,omitempty"`
	From            *User  `json:"from,omitempty"`
	SenderChat      *Chat  `json:"sender_chat,omitempty"` // anonymous admins post as the group
	Text            string `json:"text,omitempty"`
	Caption         string `json:"caption,omitempty"`

	Document *Document   `json:"document,omitempty"`
	Photo    []PhotoSize `json:"photo,omitempty"`
	Video    *FileRef    `json:"video,omitempty"`
	Voice    *FileRef    `json:"voice,omitempty"`
	Audio    *FileRef    `json:"audio,omitempty"`
	Sticker  *FileRef    `json:"sticker,omitempty"`

	// Forum service messages. Only presence matters.
	ForumTopicCreated  *struct{} `json:"forum_topic_created,omitempty"`
	ForumTopicEdited   *struct{} `json:"forum_topic_edited,omitempty"`
	ForumTopicClosed   *struct{} `json:"forum_topic_closed,omitempty"`
	ForumTopicReopened *struct{} `json:"forum_topic_reopened,omitempty"`
	PinnedMessage      *Message  `json:"pinned_message,omitempty"`
}

// IsForumService reports whether msg is a topic lifecycle or pin notice
// rather than content somebody wrote.
func (m *Message) IsForumService() bool {
	if m == nil {
		return false
	}
	return m.ForumTopicCreated != nil ||
		m.ForumTopicEdited != nil ||
		m.ForumTopicClosed != nil ||
		m.ForumTopicReopened != nil ||
		m.PinnedMessage != nil
}

// ChatID returns the id of the chat the message belongs to, or 0.
func (m *Message) ChatID() int64 {
	if m == nil || m.Chat == nil {
		return 0
	}
	return m.Chat.ID
}

type Chat struct {
	ID            int64    `json:"id"`
	Type          string   `json:"type,omitempty"` // private|group|supergroup|channel
	Title         string   `json:"title,omitempty"`
	IsForum       bool     `json:"is_forum,omitempty"`
	PinnedMessage *Message `json:"pinned_message,omitempty"`
}

func (c *Chat) IsPrivate() bool {
	return c != nil && c.Type == "private"
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName mirrors how Telegram clients show a user: full name, then
// @username, then empty.
func DisplayName(u *User) string {
	if u == nil {
		return ""
	}
	first := strings.TrimSpace(u.FirstName)
	last := strings.TrimSpace(u.LastName)
	username := strings.TrimSpace(u.Username)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	case username != "":
		return "@" + username
	default:
		return ""
	}
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// FileRef covers video, voice, audio and sticker objects; the relay only
// needs their file_id.
type FileRef struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
}

type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

type ForumTopic struct {
	MessageThreadID int64  `json:"message_thread_id"`
	Name            string `json:"name"`
}

// MessageRef identifies a message for copy/delete/pin calls.
type MessageRef struct {
	MessageID int64 `json:"message_id"`
}
