package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/outputfmt"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

// DefaultWelcomeText answers /start in a private chat.
const DefaultWelcomeText = "📚 ברוך הבא לספריית אולדטאון! כתוב לי כל דבר שתרצה לשתף עם ההנהלה."

// Transport is the part of the Bot API the router sends through.
type Transport interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	SendMedia(ctx context.Context, kind telegram.MediaKind, req telegram.SendMediaRequest) (*telegram.Message, error)
	CopyMessage(ctx context.Context, req telegram.CopyMessageRequest) (int64, error)
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
}

// Publisher persists the mapping. *backup.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, trigger backup.Trigger) error
	Status() backup.StatusSnapshot
}

// ThreadCreationError means a user's first message could not get a thread;
// the message is dropped.
type ThreadCreationError struct {
	UserID threads.UserID
	Err    error
}

func (e *ThreadCreationError) Error() string {
	return fmt.Sprintf("create thread for user %d: %v", e.UserID, e.Err)
}

func (e *ThreadCreationError) Unwrap() error { return e.Err }

type Options struct {
	AdminChatID int64
	// BotID is the relay's own user id. Its messages in the admin group are
	// never copied back; other bot authors, such as anonymous admins posting
	// as GroupAnonymousBot, are.
	BotID         int64
	WelcomeText   string
	IntroTemplate string
	Artifact      backup.Artifact
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Router relays private messages into per-user forum topics of the admin
// group and copies admin replies in those topics back to the user. It is
// not safe for concurrent HandleUpdate calls on the same user; the
// dispatcher feeds it one update at a time.
type Router struct {
	api         Transport
	store       *threads.Store
	pub         Publisher
	adminChatID int64
	botID       int64
	welcome     string
	intro       *template.Template
	artifact    backup.Artifact
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewRouter(api Transport, store *threads.Store, pub Publisher, opts Options) (*Router, error) {
	if api == nil {
		return nil, errors.New("relay transport is required")
	}
	if store == nil {
		return nil, errors.New("thread store is required")
	}
	if pub == nil {
		return nil, errors.New("backup publisher is required")
	}
	if opts.AdminChatID == 0 {
		return nil, errors.New("admin chat id is required")
	}
	intro, err := ParseIntroTemplate(opts.IntroTemplate)
	if err != nil {
		return nil, err
	}
	welcome := strings.TrimSpace(opts.WelcomeText)
	if welcome == "" {
		welcome = DefaultWelcomeText
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		api:         api,
		store:       store,
		pub:         pub,
		adminChatID: opts.AdminChatID,
		botID:       opts.BotID,
		welcome:     welcome,
		intro:       intro,
		artifact:    opts.Artifact,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// HandleUpdate routes one update. Failures are logged and the update is
// dropped; nothing is retried.
func (r *Router) HandleUpdate(ctx context.Context, u telegram.Update) {
	logger := r.logger.With("update_id", u.UpdateID, "correlation_id", uuid.NewString())
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		logger.Debug("update_ignored", "reason", "no_message")
		return
	}
	switch {
	case msg.Chat.IsPrivate():
		r.handlePrivate(ctx, logger, msg)
	case msg.Chat.ID == r.adminChatID:
		r.handleAdmin(ctx, logger, msg)
	default:
		logger.Debug("update_ignored", "reason", "foreign_chat", "chat_id", msg.Chat.ID)
	}
}

func (r *Router) handlePrivate(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	if msg.From == nil || msg.From.IsBot {
		logger.Debug("update_ignored", "reason", "no_human_sender")
		return
	}
	user := threads.UserID(msg.From.ID)
	logger = logger.With("user_id", int64(user))

	if cmd, ok := commandOf(msg.Text); ok && cmd == "start" {
		r.reply(ctx, logger, msg, r.welcome)
		return
	}

	thread, err := r.ensureThread(ctx, logger, msg.From)
	if err != nil {
		r.metrics.ThreadCreationFailed()
		logger.Error("thread_creation_failed", "error", outputfmt.FormatErrorForDisplay(err))
		return
	}
	logger = logger.With("thread_id", int64(thread))

	p := PayloadOf(msg)
	if err := r.forward(ctx, msg, p, thread); err != nil {
		r.metrics.TransportError("relay_to_admin")
		logger.Error("relay_to_admin_failed", "kind", string(p.Kind), "error", outputfmt.FormatErrorForDisplay(err))
		return
	}
	r.metrics.MessageRelayed("to_admin", string(p.Kind))
	logger.Info("relayed_to_admin", "kind", string(p.Kind))
}

// ensureThread returns the user's thread, creating and persisting one
// first when the user has none.
func (r *Router) ensureThread(ctx context.Context, logger *slog.Logger, from *telegram.User) (threads.ThreadID, error) {
	user := threads.UserID(from.ID)
	if thread, ok := r.store.Get(user); ok {
		return thread, nil
	}

	topic, err := r.api.CreateForumTopic(ctx, r.adminChatID, topicName(from))
	if err != nil {
		return 0, &ThreadCreationError{UserID: user, Err: err}
	}
	if topic == nil || topic.MessageThreadID <= 0 {
		return 0, &ThreadCreationError{UserID: user, Err: errors.New("transport returned no thread id")}
	}
	thread := threads.ThreadID(topic.MessageThreadID)

	card, err := renderIntro(r.intro, introDataFor(from))
	if err == nil {
		_, err = r.api.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID:          r.adminChatID,
			MessageThreadID: int64(thread),
			Text:            card,
		})
	}
	if err != nil {
		r.metrics.TransportError("send_intro")
		logger.Warn("thread_intro_failed", "thread_id", int64(thread), "error", outputfmt.FormatErrorForDisplay(err))
	}

	r.store.Set(user, thread)
	r.metrics.ThreadCreated()
	r.metrics.SetThreads(r.store.Len())
	logger.Info("thread_created", "thread_id", int64(thread), "threads", r.store.Len())

	// The mapping is published before the first message is relayed. A
	// failed publish is logged and relaying continues; the next publish
	// carries the mapping.
	if err := r.pub.Publish(ctx, backup.TriggerThreadCreated); err != nil {
		logger.Warn("thread_backup_failed", "thread_id", int64(thread), "error", outputfmt.FormatErrorForDisplay(err))
	}
	return thread, nil
}

func (r *Router) forward(ctx context.Context, msg *telegram.Message, p Payload, thread threads.ThreadID) error {
	if p.Kind == KindText {
		_, err := r.api.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID:          r.adminChatID,
			MessageThreadID: int64(thread),
			Text:            p.Text,
		})
		return err
	}
	if kind, ok := p.mediaKind(); ok {
		_, err := r.api.SendMedia(ctx, kind, telegram.SendMediaRequest{
			ChatID:          r.adminChatID,
			MessageThreadID: int64(thread),
			FileID:          p.FileID,
			Caption:         p.Caption,
		})
		return err
	}
	_, err := r.api.CopyMessage(ctx, telegram.CopyMessageRequest{
		ChatID:          r.adminChatID,
		MessageThreadID: int64(thread),
		FromChatID:      msg.Chat.ID,
		MessageID:       msg.MessageID,
	})
	return err
}

func (r *Router) handleAdmin(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	if r.botID != 0 && msg.From != nil && msg.From.ID == r.botID {
		logger.Debug("update_ignored", "reason", "own_message")
		return
	}
	if cmd, ok := commandOf(msg.Text); ok {
		switch cmd {
		case "backup":
			r.handleBackupCommand(ctx, logger, msg)
			return
		case "status":
			r.handleStatusCommand(ctx, logger, msg)
			return
		}
	}
	if r.artifact.Matches(msg) {
		logger.Debug("update_ignored", "reason", "backup_artifact", "message_id", msg.MessageID)
		return
	}
	if msg.IsForumService() {
		logger.Debug("update_ignored", "reason", "forum_service")
		return
	}
	if !msg.IsTopicMessage || msg.MessageThreadID == 0 {
		logger.Debug("update_ignored", "reason", "outside_thread")
		return
	}

	thread := threads.ThreadID(msg.MessageThreadID)
	logger = logger.With("thread_id", int64(thread))
	user, ok := r.store.FindUserByThread(thread)
	if !ok {
		logger.Debug("admin_reply_orphaned")
		return
	}
	logger = logger.With("user_id", int64(user))
	if _, err := r.api.CopyMessage(ctx, telegram.CopyMessageRequest{
		ChatID:     int64(user),
		FromChatID: msg.Chat.ID,
		MessageID:  msg.MessageID,
	}); err != nil {
		r.metrics.TransportError("relay_to_user")
		logger.Error("relay_to_user_failed", "error", outputfmt.FormatErrorForDisplay(err))
		return
	}
	r.metrics.MessageRelayed("to_user", string(PayloadOf(msg).Kind))
	logger.Info("relayed_to_user")
}

func (r *Router) handleBackupCommand(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	if err := r.pub.Publish(ctx, backup.TriggerManual); err != nil {
		r.reply(ctx, logger, msg, "❌ הגיבוי נכשל: "+outputfmt.FormatErrorForDisplay(err))
		return
	}
	r.reply(ctx, logger, msg, fmt.Sprintf("✅ הגיבוי נשמר בהצלחה! (%d threads)", r.store.Len()))
}

func (r *Router) handleStatusCommand(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	st := r.pub.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "threads: %d\n", r.store.Len())
	if st.LastSuccess.IsZero() {
		b.WriteString("last backup: never\n")
	} else {
		fmt.Fprintf(&b, "last backup: %s (message %d)\n", st.LastSuccess.UTC().Format("2006-01-02 15:04:05 MST"), st.MessageID)
	}
	fmt.Fprintf(&b, "published since start: %d\n", st.Published)
	if st.Failures > 0 {
		fmt.Fprintf(&b, "consecutive failures: %d\nlast error: %s\n", st.Failures, st.LastError)
	}
	r.reply(ctx, logger, msg, strings.TrimSpace(b.String()))
}

// reply answers msg in the same chat and topic.
func (r *Router) reply(ctx context.Context, logger *slog.Logger, msg *telegram.Message, text string) {
	req := telegram.SendMessageRequest{
		ChatID:           msg.Chat.ID,
		Text:             text,
		ReplyToMessageID: msg.MessageID,
	}
	if msg.IsTopicMessage {
		req.MessageThreadID = msg.MessageThreadID
	}
	if _, err := r.api.SendMessage(ctx, req); err != nil {
		r.metrics.TransportError("reply")
		logger.Warn("reply_failed", "error", outputfmt.FormatErrorForDisplay(err))
	}
}

// commandOf extracts the bot command from text: "/backup@lollypop_bot now"
// yields "backup".
func commandOf(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(cmd)
	return cmd, cmd != ""
}
