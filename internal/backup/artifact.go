package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

// Format selects how a backup is published.
type Format string

const (
	// FormatDocument uploads the JSON as a named file with a tagged caption.
	FormatDocument Format = "document"
	// FormatText posts the tag and JSON as a plain text message.
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatDocument:
		return FormatDocument, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown backup format %q (want document|text)", s)
	}
}

// Artifact describes how backup messages are recognised in the admin group.
type Artifact struct {
	FileName string
	Tag      string
}

func (a Artifact) normalized() Artifact {
	a.FileName = strings.TrimSpace(a.FileName)
	if a.FileName == "" {
		a.FileName = DefaultFileName
	}
	a.Tag = strings.TrimSpace(a.Tag)
	if a.Tag == "" {
		a.Tag = DefaultTag
	}
	return a
}

// Matches reports whether msg is a backup artifact: a document with the
// backup file name, or a message whose text or caption starts with the tag.
func (a Artifact) Matches(msg *telegram.Message) bool {
	if msg == nil {
		return false
	}
	a = a.normalized()
	if msg.Document != nil && msg.Document.FileName == a.FileName {
		return true
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), a.Tag) {
		return true
	}
	return msg.Document == nil && strings.HasPrefix(strings.TrimSpace(msg.Caption), a.Tag)
}

func (a Artifact) caption(n int) string {
	return fmt.Sprintf("%s threads backup (%d users)", a.normalized().Tag, n)
}

// Record is a restored snapshot plus the handle of the message it came from.
type Record struct {
	Threads     threads.Map
	MessageID   int64
	PublishedAt time.Time
	Source      string
}

func emptyRecord() Record {
	return Record{Threads: threads.Map{}}
}

// FileAPI is the part of the transport needed to read an uploaded backup.
type FileAPI interface {
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error)
}

const maxBackupBytes = 8 * 1024 * 1024

// readArtifact loads the mapping carried by msg, downloading the document
// when there is one.
func readArtifact(ctx context.Context, api FileAPI, a Artifact, msg *telegram.Message) (threads.Map, error) {
	a = a.normalized()
	if msg.Document != nil && msg.Document.FileID != "" {
		f, err := api.GetFile(ctx, msg.Document.FileID)
		if err != nil {
			return nil, fmt.Errorf("resolve backup file: %w", err)
		}
		data, err := api.DownloadFile(ctx, f.FilePath, maxBackupBytes)
		if err != nil {
			return nil, fmt.Errorf("download backup file: %w", err)
		}
		return Decode(data)
	}
	return DecodeText(a.Tag, msg.Text)
}

func messageTime(msg *telegram.Message) time.Time {
	ts := msg.Date
	if msg.EditDate > ts {
		ts = msg.EditDate
	}
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
