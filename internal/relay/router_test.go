package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

const adminChat int64 = -100500

type sentMedia struct {
	Kind telegram.MediaKind
	Req  telegram.SendMediaRequest
}

type fakeTransport struct {
	mu        sync.Mutex
	nextTopic int64
	topics    []string
	messages  []telegram.SendMessageRequest
	media     []sentMedia
	copies    []telegram.CopyMessageRequest
	topicErr  error
	sendErr   error
	copyErr   error
}

func (f *fakeTransport) SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, req)
	return &telegram.Message{MessageID: int64(len(f.messages))}, nil
}

func (f *fakeTransport) SendMedia(ctx context.Context, kind telegram.MediaKind, req telegram.SendMediaRequest) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, sentMedia{Kind: kind, Req: req})
	return &telegram.Message{MessageID: 1}, nil
}

func (f *fakeTransport) CopyMessage(ctx context.Context, req telegram.CopyMessageRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.copies = append(f.copies, req)
	return 1, nil
}

func (f *fakeTransport) CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topicErr != nil {
		return nil, f.topicErr
	}
	f.topics = append(f.topics, name)
	if f.nextTopic == 0 {
		f.nextTopic = 7
	}
	id := f.nextTopic
	f.nextTopic++
	return &telegram.ForumTopic{MessageThreadID: id, Name: name}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	store    *threads.Store
	triggers []backup.Trigger
	seen     []threads.Map
	err      error
	status   backup.StatusSnapshot
}

func (p *fakePublisher) Publish(ctx context.Context, trigger backup.Trigger) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.triggers = append(p.triggers, trigger)
	if p.store != nil {
		p.seen = append(p.seen, p.store.All())
	}
	return p.err
}

func (p *fakePublisher) Status() backup.StatusSnapshot {
	return p.status
}

func newTestRouter(t *testing.T) (*Router, *fakeTransport, *fakePublisher, *threads.Store) {
	t.Helper()
	store := threads.NewStore()
	api := &fakeTransport{}
	pub := &fakePublisher{store: store}
	r, err := NewRouter(api, store, pub, Options{
		AdminChatID: adminChat,
		BotID:       relayBotID,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return r, api, pub, store
}

const relayBotID int64 = 4242

func privateText(updateID, userID int64, text string) telegram.Update {
	return telegram.Update{UpdateID: updateID, Message: &telegram.Message{
		MessageID: updateID,
		Chat:      &telegram.Chat{ID: userID, Type: "private"},
		From:      &telegram.User{ID: userID, FirstName: "Alice", Username: "alice"},
		Text:      text,
	}}
}

func adminReply(updateID, threadID int64, text string) telegram.Update {
	return telegram.Update{UpdateID: updateID, Message: &telegram.Message{
		MessageID:       500 + updateID,
		MessageThreadID: threadID,
		IsTopicMessage:  true,
		Chat:            &telegram.Chat{ID: adminChat, Type: "supergroup", IsForum: true},
		From:            &telegram.User{ID: 1, FirstName: "Admin"},
		Text:            text,
	}}
}

func TestNewRouterValidates(t *testing.T) {
	t.Parallel()

	store := threads.NewStore()
	api := &fakeTransport{}
	pub := &fakePublisher{}
	if _, err := NewRouter(nil, store, pub, Options{AdminChatID: 1}); err == nil {
		t.Fatalf("expected error for nil transport")
	}
	if _, err := NewRouter(api, store, pub, Options{}); err == nil {
		t.Fatalf("expected error for missing admin chat")
	}
	if _, err := NewRouter(api, store, pub, Options{AdminChatID: 1, IntroTemplate: "{{.Nope}}"}); err == nil {
		t.Fatalf("expected error for unknown template field")
	}
}

func TestFirstMessageCreatesOneThreadAndOnePublish(t *testing.T) {
	t.Parallel()

	r, api, pub, store := newTestRouter(t)
	ctx := context.Background()
	r.HandleUpdate(ctx, privateText(1, 100, "hello"))
	r.HandleUpdate(ctx, privateText(2, 100, "again"))
	r.HandleUpdate(ctx, privateText(3, 100, "and again"))

	if len(api.topics) != 1 {
		t.Fatalf("topics created = %d, want 1", len(api.topics))
	}
	if len(pub.triggers) != 1 || pub.triggers[0] != backup.TriggerThreadCreated {
		t.Fatalf("publishes = %v, want one thread_created", pub.triggers)
	}
	if !pub.seen[0].Equal(threads.Map{100: 7}) {
		t.Fatalf("published mapping = %v, want {100:7}", pub.seen[0])
	}
	if got, _ := store.Get(100); got != 7 {
		t.Fatalf("Get(100) = %d, want 7", got)
	}

	// intro card + three relayed texts, all in thread 7
	if len(api.messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(api.messages))
	}
	for _, m := range api.messages {
		if m.ChatID != adminChat || m.MessageThreadID != 7 {
			t.Fatalf("message sent to %d/%d, want admin thread 7", m.ChatID, m.MessageThreadID)
		}
	}
	if !strings.Contains(api.messages[0].Text, "100") || !strings.Contains(api.messages[0].Text, "@alice") {
		t.Fatalf("intro card = %q", api.messages[0].Text)
	}
	if api.messages[1].Text != "hello" {
		t.Fatalf("first relay = %q, want hello", api.messages[1].Text)
	}
}

func TestThreadPersistedBeforeFirstRelay(t *testing.T) {
	t.Parallel()

	r, api, pub, _ := newTestRouter(t)
	r.HandleUpdate(context.Background(), privateText(1, 100, "hello"))

	// The publish snapshot already holds the mapping, and only the intro
	// card was sent at that point.
	if len(pub.seen) != 1 || len(pub.seen[0]) != 1 {
		t.Fatalf("publish snapshots = %v", pub.seen)
	}
	if len(api.messages) != 2 {
		t.Fatalf("messages = %d, want intro + relay", len(api.messages))
	}
}

func TestPublishFailureStillRelays(t *testing.T) {
	t.Parallel()

	r, api, pub, store := newTestRouter(t)
	pub.err = errors.New("telegram down")
	r.HandleUpdate(context.Background(), privateText(1, 100, "hello"))
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1", store.Len())
	}
	if got := api.messages[len(api.messages)-1].Text; got != "hello" {
		t.Fatalf("last message = %q, want relayed hello", got)
	}
}

func TestThreadCreationFailureDropsMessage(t *testing.T) {
	t.Parallel()

	r, api, pub, store := newTestRouter(t)
	api.topicErr = &telegram.RequestError{Method: "createForumTopic", StatusCode: 400, Description: "not enough rights"}
	r.HandleUpdate(context.Background(), privateText(1, 100, "hello"))
	if store.Len() != 0 || len(api.messages) != 0 || len(pub.triggers) != 0 {
		t.Fatalf("store %d messages %d publishes %d, want nothing", store.Len(), len(api.messages), len(pub.triggers))
	}

	err := error(&ThreadCreationError{UserID: 100, Err: api.topicErr})
	var reqErr *telegram.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("ThreadCreationError should unwrap to the transport error")
	}

	api.topicErr = nil
	r.HandleUpdate(context.Background(), privateText(2, 100, "retry"))
	if store.Len() != 1 {
		t.Fatalf("next message should create the thread, store len = %d", store.Len())
	}
}

func TestStartCommandRepliesWithoutThread(t *testing.T) {
	t.Parallel()

	r, api, _, store := newTestRouter(t)
	r.HandleUpdate(context.Background(), privateText(1, 100, "/start"))
	if store.Len() != 0 || len(api.topics) != 0 {
		t.Fatalf("/start must not create a thread")
	}
	if len(api.messages) != 1 || api.messages[0].ChatID != 100 || api.messages[0].Text != DefaultWelcomeText {
		t.Fatalf("messages = %+v, want welcome to user", api.messages)
	}
}

func TestMediaRelayPreservesKindAndCaption(t *testing.T) {
	t.Parallel()

	r, api, _, _ := newTestRouter(t)
	u := privateText(1, 100, "")
	u.Message.Photo = []telegram.PhotoSize{{FileID: "small"}, {FileID: "large"}}
	u.Message.Caption = "look"
	r.HandleUpdate(context.Background(), u)

	sticker := privateText(2, 100, "")
	sticker.Message.Sticker = &telegram.FileRef{FileID: "stk"}
	r.HandleUpdate(context.Background(), sticker)

	if len(api.media) != 2 {
		t.Fatalf("media sends = %d, want 2", len(api.media))
	}
	photo := api.media[0]
	if photo.Kind != telegram.MediaPhoto || photo.Req.FileID != "large" || photo.Req.Caption != "look" || photo.Req.MessageThreadID != 7 {
		t.Fatalf("photo relay = %+v", photo)
	}
	if api.media[1].Kind != telegram.MediaSticker || api.media[1].Req.FileID != "stk" {
		t.Fatalf("sticker relay = %+v", api.media[1])
	}
}

func TestOtherPayloadFallsBackToCopy(t *testing.T) {
	t.Parallel()

	r, api, _, _ := newTestRouter(t)
	r.HandleUpdate(context.Background(), privateText(9, 100, ""))
	if len(api.copies) != 1 {
		t.Fatalf("copies = %d, want 1", len(api.copies))
	}
	c := api.copies[0]
	if c.ChatID != adminChat || c.MessageThreadID != 7 || c.FromChatID != 100 || c.MessageID != 9 {
		t.Fatalf("copy = %+v", c)
	}
}

func TestAdminReplyScenario(t *testing.T) {
	t.Parallel()

	r, api, _, _ := newTestRouter(t)
	ctx := context.Background()
	r.HandleUpdate(ctx, privateText(1, 100, "hello"))
	r.HandleUpdate(ctx, adminReply(2, 7, "hi there"))

	if len(api.copies) != 1 {
		t.Fatalf("copies = %d, want 1", len(api.copies))
	}
	c := api.copies[0]
	if c.ChatID != 100 || c.FromChatID != adminChat || c.MessageID != 502 {
		t.Fatalf("copy = %+v, want admin message 502 copied to user 100", c)
	}
}

func TestRecoveredMappingIsReused(t *testing.T) {
	t.Parallel()

	r, api, pub, store := newTestRouter(t)
	store.Replace(threads.Map{100: 7})
	r.HandleUpdate(context.Background(), privateText(1, 100, "back again"))
	if len(api.topics) != 0 || len(pub.triggers) != 0 {
		t.Fatalf("recovered user should reuse thread 7")
	}
	if api.messages[0].MessageThreadID != 7 {
		t.Fatalf("relayed into thread %d, want 7", api.messages[0].MessageThreadID)
	}
}

func TestAdminIgnoredMessages(t *testing.T) {
	t.Parallel()

	r, api, _, store := newTestRouter(t)
	store.Set(100, 7)
	ctx := context.Background()

	artifactDoc := adminReply(1, 7, "")
	artifactDoc.Message.Document = &telegram.Document{FileID: "f", FileName: backup.DefaultFileName}
	artifactText := adminReply(2, 7, backup.DefaultTag+"\n{\"100\": 7}")
	outside := adminReply(3, 0, "general chatter")
	outside.Message.IsTopicMessage = false
	orphan := adminReply(4, 99, "who is this")
	service := adminReply(5, 7, "")
	service.Message.ForumTopicEdited = &struct{}{}
	ownMessage := adminReply(6, 7, "echo")
	ownMessage.Message.From = &telegram.User{ID: relayBotID, IsBot: true, Username: "lollypop_bot"}
	foreign := privateText(7, 100, "x")
	foreign.Message.Chat = &telegram.Chat{ID: -42, Type: "supergroup"}

	for _, u := range []telegram.Update{artifactDoc, artifactText, outside, orphan, service, ownMessage, foreign, {UpdateID: 8}} {
		r.HandleUpdate(ctx, u)
	}
	if len(api.copies) != 0 || len(api.messages) != 0 {
		t.Fatalf("copies %v messages %v, want nothing routed", api.copies, api.messages)
	}
}

func TestAnonymousAdminReplyReachesUser(t *testing.T) {
	t.Parallel()

	r, api, _, store := newTestRouter(t)
	store.Set(100, 7)

	u := adminReply(1, 7, "we are on it")
	u.Message.From = &telegram.User{ID: 1087968824, IsBot: true, FirstName: "Group", Username: "GroupAnonymousBot"}
	u.Message.SenderChat = &telegram.Chat{ID: adminChat, Type: "supergroup"}
	r.HandleUpdate(context.Background(), u)

	if len(api.copies) != 1 {
		t.Fatalf("copies = %d, want 1", len(api.copies))
	}
	if got := api.copies[0]; got.ChatID != 100 || got.MessageID != u.Message.MessageID {
		t.Fatalf("copy = %+v, want message %d to user 100", got, u.Message.MessageID)
	}
}

func TestBackupAndStatusCommands(t *testing.T) {
	t.Parallel()

	r, api, pub, store := newTestRouter(t)
	store.Set(100, 7)
	pub.status = backup.StatusSnapshot{Published: 3, MessageID: 88, LastSuccess: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	cmd := adminReply(1, 0, "/backup@lollypop_bot")
	cmd.Message.IsTopicMessage = false
	r.HandleUpdate(ctx, cmd)
	if len(pub.triggers) != 1 || pub.triggers[0] != backup.TriggerManual {
		t.Fatalf("publishes = %v, want manual", pub.triggers)
	}
	if len(api.messages) != 1 || api.messages[0].ReplyToMessageID != cmd.Message.MessageID {
		t.Fatalf("confirmation = %+v", api.messages)
	}

	r.HandleUpdate(ctx, adminReply(2, 7, "/status"))
	if len(api.copies) != 0 {
		t.Fatalf("/status inside a thread must not reach the user")
	}
	status := api.messages[1]
	if status.MessageThreadID != 7 || !strings.Contains(status.Text, "threads: 1") || !strings.Contains(status.Text, "message 88") {
		t.Fatalf("status reply = %+v", status)
	}

	pub.err = errors.New(`Post "https://api.telegram.org/bot1:SECRET/sendDocument": timeout`)
	r.HandleUpdate(ctx, adminReply(3, 0, "/backup"))
	last := api.messages[len(api.messages)-1].Text
	if strings.Contains(last, "SECRET") || !strings.Contains(last, "timeout") {
		t.Fatalf("failure reply = %q", last)
	}
}

func TestCommandOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/start", "start", true},
		{"  /Backup@lollypop_bot now", "backup", true},
		{"/", "", false},
		{"hello /start", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := commandOf(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("commandOf(%q) = %q, %v, want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPayloadOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  *telegram.Message
		want Payload
	}{
		{"text", &telegram.Message{Text: "hi"}, Payload{Kind: KindText, Text: "hi"}},
		{"document", &telegram.Message{Document: &telegram.Document{FileID: "d"}, Caption: "c"}, Payload{Kind: KindDocument, FileID: "d", Caption: "c"}},
		{"video", &telegram.Message{Video: &telegram.FileRef{FileID: "v"}}, Payload{Kind: KindVideo, FileID: "v"}},
		{"voice", &telegram.Message{Voice: &telegram.FileRef{FileID: "o"}}, Payload{Kind: KindVoice, FileID: "o"}},
		{"audio", &telegram.Message{Audio: &telegram.FileRef{FileID: "a"}, Caption: "song"}, Payload{Kind: KindAudio, FileID: "a", Caption: "song"}},
		{"sticker drops caption", &telegram.Message{Sticker: &telegram.FileRef{FileID: "s"}, Caption: "x"}, Payload{Kind: KindSticker, FileID: "s"}},
		{"other", &telegram.Message{}, Payload{Kind: KindOther}},
		{"nil", nil, Payload{Kind: KindOther}},
	}
	for _, tc := range cases {
		if got := PayloadOf(tc.msg); got != tc.want {
			t.Fatalf("%s: PayloadOf() = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}
