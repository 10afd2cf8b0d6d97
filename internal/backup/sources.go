package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/israel303/Lollypop/internal/fsstore"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

// Candidate is a backup found by a Source. Its payload is fetched lazily so
// only the winning candidate is ever downloaded.
type Candidate struct {
	Source      string
	MessageID   int64
	PublishedAt time.Time
	Fetch       func(ctx context.Context) (threads.Map, error)
}

// Source finds backup candidates in one place.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}

type UpdatesAPI interface {
	FileAPI
	GetUpdates(ctx context.Context, req telegram.GetUpdatesRequest) ([]telegram.Update, error)
}

// UpdatesSource scans the bounded window of not yet acknowledged updates for
// backup artifacts posted in the admin group. Telegram only serves
// getUpdates while no webhook is set.
type UpdatesSource struct {
	API      UpdatesAPI
	ChatID   int64
	Artifact Artifact
	// ThreadID restricts matches to one topic when non-zero.
	ThreadID int64
	Window   int
}

func (s *UpdatesSource) Name() string { return "updates" }

func (s *UpdatesSource) Candidates(ctx context.Context) ([]Candidate, error) {
	window := s.Window
	if window <= 0 || window > 100 {
		window = 100
	}
	updates, err := s.API.GetUpdates(ctx, telegram.GetUpdatesRequest{Limit: window})
	if err != nil {
		return nil, fmt.Errorf("scan updates: %w", err)
	}
	var out []Candidate
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		for _, msg := range []*telegram.Message{u.Message, u.EditedMessage, u.ChannelPost} {
			if !s.accepts(msg) {
				continue
			}
			out = append(out, candidateFromMessage(s.Name(), s.API, s.Artifact, msg))
		}
	}
	return out, nil
}

func (s *UpdatesSource) accepts(msg *telegram.Message) bool {
	if msg == nil || msg.ChatID() != s.ChatID {
		return false
	}
	if s.ThreadID != 0 && msg.MessageThreadID != s.ThreadID {
		return false
	}
	return s.Artifact.Matches(msg)
}

type PinnedAPI interface {
	FileAPI
	GetChat(ctx context.Context, chatID int64) (*telegram.Chat, error)
}

// PinnedSource reads the admin group's pinned message. The publisher pins
// each new backup, so the pin always points at the latest one.
type PinnedSource struct {
	API      PinnedAPI
	ChatID   int64
	Artifact Artifact
}

func (s *PinnedSource) Name() string { return "pinned" }

func (s *PinnedSource) Candidates(ctx context.Context) ([]Candidate, error) {
	chat, err := s.API.GetChat(ctx, s.ChatID)
	if err != nil {
		return nil, fmt.Errorf("read pinned message: %w", err)
	}
	msg := chat.PinnedMessage
	if msg == nil || !s.Artifact.Matches(msg) {
		return nil, nil
	}
	if msg.Chat == nil {
		msg.Chat = &telegram.Chat{ID: s.ChatID}
	}
	return []Candidate{candidateFromMessage(s.Name(), s.API, s.Artifact, msg)}, nil
}

func candidateFromMessage(source string, api FileAPI, a Artifact, msg *telegram.Message) Candidate {
	return Candidate{
		Source:      source,
		MessageID:   msg.MessageID,
		PublishedAt: messageTime(msg),
		Fetch: func(ctx context.Context) (threads.Map, error) {
			return readArtifact(ctx, api, a, msg)
		},
	}
}

// mirrorFile is the on-disk layout of the local mirror.
type mirrorFile struct {
	SavedAt   time.Time       `json:"saved_at"`
	MessageID int64           `json:"message_id,omitempty"`
	Threads   json.RawMessage `json:"threads"`
}

func encodeMirror(m threads.Map, messageID int64, savedAt time.Time) ([]byte, error) {
	payload, err := Encode(m)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(mirrorFile{
		SavedAt:   savedAt.UTC(),
		MessageID: messageID,
		Threads:   json.RawMessage(payload),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// MirrorSource reads the optional local copy written by the publisher.
type MirrorSource struct {
	Path string
}

func (s *MirrorSource) Name() string { return "mirror" }

func (s *MirrorSource) Candidates(ctx context.Context) ([]Candidate, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, nil
	}
	data, ok, err := fsstore.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var mf mirrorFile
	if err := json.Unmarshal(data, &mf); err != nil {
		// Still a candidate: its decode failure is handled like any other.
		return []Candidate{{
			Source: s.Name(),
			Fetch: func(context.Context) (threads.Map, error) {
				return nil, &DecodeError{Reason: "invalid mirror file", Err: err}
			},
		}}, nil
	}
	return []Candidate{{
		Source:      s.Name(),
		MessageID:   mf.MessageID,
		PublishedAt: mf.SavedAt,
		Fetch: func(context.Context) (threads.Map, error) {
			return Decode(mf.Threads)
		},
	}}, nil
}
