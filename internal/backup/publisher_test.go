package backup

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
)

func newTestPublisher(t *testing.T, f *fakeTelegram, store *threads.Store, opts PublisherOptions) *Publisher {
	t.Helper()
	if opts.ChatID == 0 {
		opts.ChatID = adminChat
	}
	opts.Logger = quietLogger()
	p, err := NewPublisher(f, store, opts)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	return p
}

func TestNewPublisherValidates(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	if _, err := NewPublisher(nil, threads.NewStore(), PublisherOptions{ChatID: 1}); err == nil {
		t.Fatalf("expected error for nil api")
	}
	if _, err := NewPublisher(f, nil, PublisherOptions{ChatID: 1}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewPublisher(f, threads.NewStore(), PublisherOptions{}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestPublishNewBeforeRetiringOld(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	store := threads.NewStore()
	store.Set(100, 7)
	p := newTestPublisher(t, f, store, PublisherOptions{})
	p.Adopt(Record{MessageID: 55, PublishedAt: time.Unix(10, 0)})

	if err := p.Publish(context.Background(), TriggerThreadCreated); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	calls := f.callLog()
	want := []string{"sendDocument", "deleteMessage"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if len(f.deleted) != 1 || f.deleted[0] != 55 {
		t.Fatalf("deleted = %v, want [55]", f.deleted)
	}
	if p.Handle() != 1001 {
		t.Fatalf("Handle() = %d, want 1001", p.Handle())
	}

	doc := f.documents[0]
	if doc.FileName != DefaultFileName || !doc.DisableNotification {
		t.Fatalf("document = %+v", doc)
	}
	if !strings.HasPrefix(doc.Caption, DefaultTag) {
		t.Fatalf("caption = %q, want tag prefix", doc.Caption)
	}
	got, err := Decode(doc.Content)
	if err != nil || !got.Equal(threads.Map{100: 7}) {
		t.Fatalf("published content = %v, %v", got, err)
	}

	st := p.Status()
	if st.Published != 1 || st.MessageID != 1001 || st.LastTrigger != TriggerThreadCreated {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestPublishedBackupIsRecoverable(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	store := threads.NewStore()
	store.Set(100, 7)
	store.Set(200, 8)
	p := newTestPublisher(t, f, store, PublisherOptions{Pin: true})
	if err := p.Publish(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	f.chat = &telegram.Chat{ID: adminChat, PinnedMessage: &telegram.Message{
		MessageID: p.Handle(),
		Date:      time.Now().Unix(),
		Document:  &telegram.Document{FileID: "doc-1001", FileName: DefaultFileName},
	}}
	if len(f.pinned) != 1 || f.pinned[0] != p.Handle() {
		t.Fatalf("pinned = %v, want [%d]", f.pinned, p.Handle())
	}

	rec := (&Loader{Logger: quietLogger(), Sources: []Source{&PinnedSource{API: f, ChatID: adminChat}}}).Load(context.Background())
	if !rec.Threads.Equal(store.All()) {
		t.Fatalf("recovered %v, want %v", rec.Threads, store.All())
	}
	if rec.MessageID != p.Handle() {
		t.Fatalf("recovered handle %d, want %d", rec.MessageID, p.Handle())
	}
}

func TestPublishRetireFailureKeepsNewHandle(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	f.deleteErr = errors.New("message can't be deleted")
	store := threads.NewStore()
	store.Set(1, 2)
	p := newTestPublisher(t, f, store, PublisherOptions{})
	p.Adopt(Record{MessageID: 9})

	if err := p.Publish(context.Background(), TriggerPeriodic); err != nil {
		t.Fatalf("Publish() error = %v, retire failure must not fail the publish", err)
	}
	if p.Handle() != 1001 {
		t.Fatalf("Handle() = %d, want new artifact 1001", p.Handle())
	}
}

func TestPublishSendFailureKeepsOldHandle(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	f.sendErr = errors.New("bad gateway")
	store := threads.NewStore()
	store.Set(1, 2)
	p := newTestPublisher(t, f, store, PublisherOptions{})
	p.Adopt(Record{MessageID: 9})

	if err := p.Publish(context.Background(), TriggerManual); err == nil {
		t.Fatalf("Publish() expected error")
	}
	if p.Handle() != 9 {
		t.Fatalf("Handle() = %d, want 9", p.Handle())
	}
	if len(f.deleted) != 0 {
		t.Fatalf("old artifact deleted after failed publish: %v", f.deleted)
	}
	st := p.Status()
	if st.Failures != 1 || !strings.Contains(st.LastError, "bad gateway") {
		t.Fatalf("Status() = %+v", st)
	}
}

func TestPublishSkipsEmptyPeriodicAndShutdown(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	p := newTestPublisher(t, f, threads.NewStore(), PublisherOptions{})
	for _, tr := range []Trigger{TriggerPeriodic, TriggerShutdown} {
		if err := p.Publish(context.Background(), tr); err != nil {
			t.Fatalf("Publish(%s) error = %v", tr, err)
		}
	}
	if len(f.callLog()) != 0 {
		t.Fatalf("calls = %v, want none", f.callLog())
	}

	if err := p.Publish(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Publish(manual) error = %v", err)
	}
	got, _ := Decode(f.documents[0].Content)
	if len(got) != 0 {
		t.Fatalf("manual empty publish = %v", got)
	}
}

func TestPublishTextEditMode(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	store := threads.NewStore()
	store.Set(100, 7)
	p := newTestPublisher(t, f, store, PublisherOptions{Format: FormatText, Mode: ModeEdit})

	ctx := context.Background()
	if err := p.Publish(ctx, TriggerManual); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	first := p.Handle()
	if len(f.texts) != 1 || !strings.HasPrefix(f.texts[0].Text, DefaultTag+"\n") {
		t.Fatalf("texts = %+v", f.texts)
	}

	store.Set(200, 8)
	if err := p.Publish(ctx, TriggerThreadCreated); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if p.Handle() != first || len(f.edits) != 1 || f.edits[0] != first {
		t.Fatalf("handle %d edits %v, want in-place edit of %d", p.Handle(), f.edits, first)
	}
	if len(f.deleted) != 0 {
		t.Fatalf("edit mode deleted %v", f.deleted)
	}

	f.editErr = errors.New("message to edit not found")
	store.Set(300, 9)
	if err := p.Publish(ctx, TriggerThreadCreated); err != nil {
		t.Fatalf("third Publish() error = %v", err)
	}
	if p.Handle() == first || len(f.deleted) != 1 || f.deleted[0] != first {
		t.Fatalf("failed edit should fall back to replace: handle %d deleted %v", p.Handle(), f.deleted)
	}
}

func TestPublishEditNotModifiedIsSuccess(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	f.editErr = &telegram.RequestError{Method: "editMessageText", StatusCode: 400, ErrorCode: 400,
		Description: "Bad Request: message is not modified"}
	store := threads.NewStore()
	store.Set(1, 2)
	p := newTestPublisher(t, f, store, PublisherOptions{Format: FormatText, Mode: ModeEdit})
	p.Adopt(Record{MessageID: 77})

	if err := p.Publish(context.Background(), TriggerPeriodic); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if p.Handle() != 77 || len(f.texts) != 0 {
		t.Fatalf("handle %d texts %d, want untouched artifact", p.Handle(), len(f.texts))
	}
}

func TestPublishLongTextFallsBackToDocument(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	store := threads.NewStore()
	for i := int64(1); i <= 400; i++ {
		store.Set(threads.UserID(1_000_000_000+i), threads.ThreadID(100_000+i))
	}
	p := newTestPublisher(t, f, store, PublisherOptions{Format: FormatText})
	if err := p.Publish(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(f.texts) != 0 || len(f.documents) != 1 {
		t.Fatalf("texts %d documents %d, want document fallback", len(f.texts), len(f.documents))
	}
}

func TestPublishWritesMirror(t *testing.T) {
	t.Parallel()

	f := newFakeTelegram()
	store := threads.NewStore()
	store.Set(100, 7)
	path := filepath.Join(t.TempDir(), "state", "threads_mirror.json")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newTestPublisher(t, f, store, PublisherOptions{MirrorPath: path, Now: func() time.Time { return now }})
	if err := p.Publish(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	cands, err := (&MirrorSource{Path: path}).Candidates(context.Background())
	if err != nil || len(cands) != 1 {
		t.Fatalf("mirror candidates = %v, %v", cands, err)
	}
	if cands[0].MessageID != p.Handle() || !cands[0].PublishedAt.Equal(now) {
		t.Fatalf("mirror candidate = %+v", cands[0])
	}
	m, err := cands[0].Fetch(context.Background())
	if err != nil || !m.Equal(threads.Map{100: 7}) {
		t.Fatalf("mirror content = %v, %v", m, err)
	}
}
