package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/israel303/Lollypop/internal/telegram"
)

// fakeTelegram is an in-memory stand-in for the Bot API calls the backup
// package makes.
type fakeTelegram struct {
	mu sync.Mutex

	updates []telegram.Update
	chat    *telegram.Chat
	files   map[string][]byte // file_id -> content

	nextMessageID int64
	documents     []telegram.SendDocumentUpload
	texts         []telegram.SendMessageRequest
	edits         []int64
	deleted       []int64
	pinned        []int64
	calls         []string

	sendErr   error
	editErr   error
	deleteErr error
	pinErr    error
	chatErr   error
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{files: map[string][]byte{}, nextMessageID: 1000}
}

func (f *fakeTelegram) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeTelegram) GetUpdates(ctx context.Context, req telegram.GetUpdatesRequest) ([]telegram.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getUpdates")
	out := f.updates
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}

func (f *fakeTelegram) GetChat(ctx context.Context, chatID int64) (*telegram.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getChat")
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if f.chat == nil {
		return &telegram.Chat{ID: chatID}, nil
	}
	return f.chat, nil
}

func (f *fakeTelegram) GetFile(ctx context.Context, fileID string) (*telegram.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("getFile")
	if _, ok := f.files[fileID]; !ok {
		return nil, &telegram.RequestError{Method: "getFile", StatusCode: 400, Description: "file not found"}
	}
	return &telegram.File{FileID: fileID, FilePath: "documents/" + fileID}, nil
}

func (f *fakeTelegram) DownloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("download")
	id := filePath[len("documents/"):]
	data, ok := f.files[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeTelegram) SendDocumentBytes(ctx context.Context, upload telegram.SendDocumentUpload) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("sendDocument")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextMessageID++
	f.documents = append(f.documents, upload)
	fileID := fmt.Sprintf("doc-%d", f.nextMessageID)
	f.files[fileID] = upload.Content
	return &telegram.Message{
		MessageID: f.nextMessageID,
		Chat:      &telegram.Chat{ID: upload.ChatID},
		Document:  &telegram.Document{FileID: fileID, FileName: upload.FileName},
		Caption:   upload.Caption,
	}, nil
}

func (f *fakeTelegram) SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("sendMessage")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextMessageID++
	f.texts = append(f.texts, req)
	return &telegram.Message{MessageID: f.nextMessageID, Chat: &telegram.Chat{ID: req.ChatID}, Text: req.Text}, nil
}

func (f *fakeTelegram) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("editMessageText")
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, messageID)
	return nil
}

func (f *fakeTelegram) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deleteMessage")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTelegram) PinChatMessage(ctx context.Context, chatID, messageID int64, disableNotification bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pinChatMessage")
	if f.pinErr != nil {
		return f.pinErr
	}
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeTelegram) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
