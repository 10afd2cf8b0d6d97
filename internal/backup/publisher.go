package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/israel303/Lollypop/internal/fsstore"
	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

// Mode selects how a new backup supersedes the previous one.
type Mode string

const (
	// ModeReplace posts a new artifact and then deletes the old one.
	ModeReplace Mode = "replace"
	// ModeEdit edits a text artifact in place, falling back to replace.
	ModeEdit Mode = "edit"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeEdit:
		return ModeEdit, nil
	default:
		return "", fmt.Errorf("unknown backup mode %q (want replace|edit)", s)
	}
}

type PublishAPI interface {
	SendDocumentBytes(ctx context.Context, upload telegram.SendDocumentUpload) (*telegram.Message, error)
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	PinChatMessage(ctx context.Context, chatID, messageID int64, disableNotification bool) error
}

// Snapshotter yields the mapping to publish.
type Snapshotter interface {
	All() threads.Map
}

type PublisherOptions struct {
	ChatID int64
	// ThreadID is the topic backups are posted to; 0 means the group root.
	ThreadID   int64
	Artifact   Artifact
	Format     Format
	Mode       Mode
	Pin        bool
	MirrorPath string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Publisher writes the current mapping to the admin group and retires the
// artifact it supersedes. The new artifact is always confirmed before the
// old one is touched, so a published backup exists at every point in time.
type Publisher struct {
	mu     sync.Mutex
	api    PublishAPI
	store  Snapshotter
	opts   PublisherOptions
	handle int64
	status Status
}

func NewPublisher(api PublishAPI, store Snapshotter, opts PublisherOptions) (*Publisher, error) {
	if api == nil {
		return nil, fmt.Errorf("publish api is required")
	}
	if store == nil {
		return nil, fmt.Errorf("thread store is required")
	}
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("admin chat id is required")
	}
	opts.Artifact = opts.Artifact.normalized()
	if opts.Format == "" {
		opts.Format = FormatDocument
	}
	if opts.Mode == "" {
		opts.Mode = ModeReplace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{api: api, store: store, opts: opts}, nil
}

// Adopt records the artifact recovery restored from, so the next publish
// retires it.
func (p *Publisher) Adopt(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = rec.MessageID
	if rec.MessageID != 0 {
		p.status.adopt(rec.MessageID, rec.PublishedAt)
	}
}

// Handle returns the message id of the current artifact, 0 if none.
func (p *Publisher) Handle() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *Publisher) Status() StatusSnapshot {
	return p.status.Snapshot()
}

// Publish snapshots the store and publishes it. Periodic and shutdown
// publishes of an empty mapping are skipped.
func (p *Publisher) Publish(ctx context.Context, trigger Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := p.opts.Logger.With("trigger", string(trigger))
	snap := p.store.All()
	if len(snap) == 0 && (trigger == TriggerPeriodic || trigger == TriggerShutdown) {
		logger.Debug("backup_skipped_empty")
		return nil
	}

	msgID, err := p.publishLocked(ctx, logger, snap)
	if err != nil {
		p.status.failure(trigger, err)
		p.opts.Metrics.BackupPublished(string(trigger), "error")
		logger.Error("backup_publish_failed", "threads", len(snap), "error", err.Error())
		return err
	}
	p.status.success(p.opts.Now(), trigger, msgID)
	p.opts.Metrics.BackupPublished(string(trigger), "ok")
	logger.Info("backup_published", "threads", len(snap), "message_id", msgID)
	return nil
}

func (p *Publisher) publishLocked(ctx context.Context, logger *slog.Logger, snap threads.Map) (int64, error) {
	format := p.opts.Format
	var text string
	if format == FormatText {
		var err error
		text, err = EncodeText(p.opts.Artifact.Tag, snap)
		if err != nil {
			return 0, err
		}
		if len([]rune(text)) > telegram.MaxTextLength {
			logger.Warn("backup_text_too_long", "chars", len([]rune(text)), "fallback", string(FormatDocument))
			format = FormatDocument
		}
	}

	if format == FormatText && p.opts.Mode == ModeEdit && p.handle != 0 {
		err := p.api.EditMessageText(ctx, p.opts.ChatID, p.handle, text)
		if err == nil || telegram.IsMessageNotModified(err) {
			p.writeMirror(ctx, logger, snap, p.handle)
			return p.handle, nil
		}
		p.opts.Metrics.TransportError("editMessageText")
		logger.Warn("backup_edit_failed", "message_id", p.handle, "error", err.Error())
	}

	var msg *telegram.Message
	var err error
	switch format {
	case FormatText:
		msg, err = p.api.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID:              p.opts.ChatID,
			MessageThreadID:     p.opts.ThreadID,
			Text:                text,
			DisableNotification: true,
		})
	default:
		var payload []byte
		payload, err = Encode(snap)
		if err != nil {
			return 0, err
		}
		msg, err = p.api.SendDocumentBytes(ctx, telegram.SendDocumentUpload{
			ChatID:              p.opts.ChatID,
			MessageThreadID:     p.opts.ThreadID,
			FileName:            p.opts.Artifact.FileName,
			Caption:             p.opts.Artifact.caption(len(snap)),
			Content:             payload,
			DisableNotification: true,
		})
	}
	if err != nil {
		p.opts.Metrics.TransportError("publish_backup")
		return 0, fmt.Errorf("publish backup: %w", err)
	}
	if msg == nil || msg.MessageID == 0 {
		return 0, fmt.Errorf("publish backup: transport returned no message id")
	}

	previous := p.handle
	p.handle = msg.MessageID

	if p.opts.Pin {
		if err := p.api.PinChatMessage(ctx, p.opts.ChatID, msg.MessageID, true); err != nil {
			p.opts.Metrics.TransportError("pinChatMessage")
			logger.Warn("backup_pin_failed", "message_id", msg.MessageID, "error", err.Error())
		}
	}
	p.writeMirror(ctx, logger, snap, msg.MessageID)

	if previous != 0 && previous != msg.MessageID {
		if err := p.api.DeleteMessage(ctx, p.opts.ChatID, previous); err != nil {
			p.opts.Metrics.BackupRetireFailed()
			logger.Warn("backup_retire_failed", "message_id", previous, "error", err.Error())
		} else {
			logger.Debug("backup_retired", "message_id", previous)
		}
	}
	return msg.MessageID, nil
}

func (p *Publisher) writeMirror(ctx context.Context, logger *slog.Logger, snap threads.Map, messageID int64) {
	path := strings.TrimSpace(p.opts.MirrorPath)
	if path == "" {
		return
	}
	data, err := encodeMirror(snap, messageID, p.opts.Now())
	if err == nil {
		err = fsstore.Replace(ctx, path, data)
	}
	if err != nil {
		logger.Warn("backup_mirror_failed", "path", path, "error", err.Error())
	}
}
