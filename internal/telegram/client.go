package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/israel303/Lollypop/internal/outputfmt"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL        = "https://api.telegram.org"
	defaultRequestTimeout = 30 * time.Second
	defaultDownloadLimit  = 20 * 1024 * 1024

	// MaxTextLength is the Bot API limit for sendMessage/editMessageText.
	MaxTextLength = 4096
)

type Options struct {
	HTTPClient     *http.Client
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	// RateLimit caps outbound calls per second; <= 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// Client is a small Bot API client. Every method returns *RequestError for
// API-level failures; network errors are returned as-is.
type Client struct {
	http           *http.Client
	baseURL        string
	token          string
	requestTimeout time.Duration
	limiter        *rate.Limiter
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		http:           httpClient,
		baseURL:        baseURL,
		token:          strings.TrimSpace(opts.Token),
		requestTimeout: timeout,
		limiter:        limiter,
	}
}

type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	prefix := "telegram"
	if e.Method != "" {
		prefix = "telegram " + e.Method
	}
	desc := strings.TrimSpace(e.Description)
	if desc != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("%s: http %d: %s", prefix, e.StatusCode, desc)
		}
		return prefix + ": " + desc
	}
	body := strings.TrimSpace(e.Body)
	if e.StatusCode > 0 {
		if body != "" {
			return fmt.Sprintf("%s: http %d: %s", prefix, e.StatusCode, body)
		}
		return fmt.Sprintf("%s: http %d", prefix, e.StatusCode)
	}
	if body != "" {
		return prefix + ": " + body
	}
	return prefix + ": ok=false"
}

// IsMessageNotModified matches the error editMessageText returns when the new
// content equals the old one.
func IsMessageNotModified(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return strings.Contains(strings.ToLower(reqErr.Description), "message is not modified")
}

func IsPollTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}

// redactURLError keeps the error chain intact (timeouts stay detectable)
// but drops the token-bearing request URL.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = outputfmt.SanitizeErrorText(urlErr.URL)
	}
	return err
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// call POSTs a JSON body and decodes the result into out (may be nil).
func (c *Client) call(ctx context.Context, method string, reqBody any, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.post(reqCtx, method, reqBody, out)
}

func (c *Client) post(ctx context.Context, method string, reqBody any, out any) error {
	var body io.Reader = http.NoBody
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("telegram %s: encode request: %w", method, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return redactURLError(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var env apiResponse
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		return &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var out User
	if err := c.call(ctx, "getMe", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type GetUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates fetches pending updates, oldest first. With a positive Timeout
// it long-polls; the request deadline is stretched to cover the poll.
func (c *Client) GetUpdates(ctx context.Context, reqBody GetUpdatesRequest) ([]Update, error) {
	timeout := c.requestTimeout
	if reqBody.Timeout > 0 {
		timeout = time.Duration(reqBody.Timeout)*time.Second + 5*time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var out []Update
	if err := c.post(reqCtx, "getUpdates", reqBody, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NextOffset returns the offset that acknowledges every update in updates.
func NextOffset(offset int64, updates []Update) int64 {
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return next
}

type SetWebhookRequest struct {
	URL                string   `json:"url"`
	SecretToken        string   `json:"secret_token,omitempty"`
	DropPendingUpdates bool     `json:"drop_pending_updates,omitempty"`
	AllowedUpdates     []string `json:"allowed_updates,omitempty"`
}

func (c *Client) SetWebhook(ctx context.Context, reqBody SetWebhookRequest) error {
	if strings.TrimSpace(reqBody.URL) == "" {
		return fmt.Errorf("missing webhook url")
	}
	return c.call(ctx, "setWebhook", reqBody, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": dropPending}, nil)
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var out Chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SendMessageRequest struct {
	ChatID              int64  `json:"chat_id"`
	MessageThreadID     int64  `json:"message_thread_id,omitempty"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
	ReplyToMessageID    int64  `json:"reply_to_message_id,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, reqBody SendMessageRequest) (*Message, error) {
	if strings.TrimSpace(reqBody.Text) == "" {
		return nil, fmt.Errorf("missing text")
	}
	var out Message
	if err := c.call(ctx, "sendMessage", reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MediaKind names a file_id based send method.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
)

var mediaMethods = map[MediaKind]string{
	MediaPhoto:    "sendPhoto",
	MediaDocument: "sendDocument",
	MediaVideo:    "sendVideo",
	MediaVoice:    "sendVoice",
	MediaAudio:    "sendAudio",
	MediaSticker:  "sendSticker",
}

type SendMediaRequest struct {
	ChatID          int64
	MessageThreadID int64
	FileID          string
	// Caption is dropped for stickers, which do not take one.
	Caption string
}

// SendMedia re-sends an already uploaded file by file_id.
func (c *Client) SendMedia(ctx context.Context, kind MediaKind, reqBody SendMediaRequest) (*Message, error) {
	method, ok := mediaMethods[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}
	if strings.TrimSpace(reqBody.FileID) == "" {
		return nil, fmt.Errorf("missing file_id")
	}
	payload := map[string]any{
		"chat_id":    reqBody.ChatID,
		string(kind): reqBody.FileID,
	}
	if reqBody.MessageThreadID != 0 {
		payload["message_thread_id"] = reqBody.MessageThreadID
	}
	if kind != MediaSticker && reqBody.Caption != "" {
		payload["caption"] = reqBody.Caption
	}
	var out Message
	if err := c.call(ctx, method, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SendDocumentUpload struct {
	ChatID              int64
	MessageThreadID     int64
	FileName            string
	Caption             string
	Content             []byte
	DisableNotification bool
}

// SendDocumentBytes uploads content as a new document.
func (c *Client) SendDocumentBytes(ctx context.Context, upload SendDocumentUpload) (*Message, error) {
	filename := strings.TrimSpace(upload.FileName)
	if filename == "" {
		filename = "file"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("chat_id", strconv.FormatInt(upload.ChatID, 10))
	if upload.MessageThreadID != 0 {
		_ = mw.WriteField("message_thread_id", strconv.FormatInt(upload.MessageThreadID, 10))
	}
	if caption := strings.TrimSpace(upload.Caption); caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	if upload.DisableNotification {
		_ = mw.WriteField("disable_notification", "true")
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(upload.Content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.methodURL("sendDocument"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out Message
	if err := c.do(req, "sendDocument", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	if messageID == 0 {
		return fmt.Errorf("missing message_id")
	}
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if messageID == 0 {
		return fmt.Errorf("missing message_id")
	}
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

type CopyMessageRequest struct {
	ChatID          int64 `json:"chat_id"`
	MessageThreadID int64 `json:"message_thread_id,omitempty"`
	FromChatID      int64 `json:"from_chat_id"`
	MessageID       int64 `json:"message_id"`
}

// CopyMessage copies a message without the "forwarded from" header and
// returns the id of the copy.
func (c *Client) CopyMessage(ctx context.Context, reqBody CopyMessageRequest) (int64, error) {
	if reqBody.MessageID == 0 {
		return 0, fmt.Errorf("missing message_id")
	}
	var out MessageRef
	if err := c.call(ctx, "copyMessage", reqBody, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

func (c *Client) PinChatMessage(ctx context.Context, chatID, messageID int64, disableNotification bool) error {
	if messageID == 0 {
		return fmt.Errorf("missing message_id")
	}
	return c.call(ctx, "pinChatMessage", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": disableNotification,
	}, nil)
}

func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (*ForumTopic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("missing topic name")
	}
	// Topic names are capped at 128 characters.
	if r := []rune(name); len(r) > 128 {
		name = string(r[:128])
	}
	var out ForumTopic
	if err := c.call(ctx, "createForumTopic", map[string]any{
		"chat_id": chatID,
		"name":    name,
	}, &out); err != nil {
		return nil, err
	}
	if out.MessageThreadID == 0 {
		return nil, fmt.Errorf("telegram createForumTopic: missing message_thread_id")
	}
	return &out, nil
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, fmt.Errorf("missing file_id")
	}
	var out File
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path")
	}
	return &out, nil
}

// DownloadFile fetches a file previously resolved with GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, fmt.Errorf("missing file_path")
	}
	if maxBytes <= 0 {
		maxBytes = defaultDownloadLimit
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, escapeFilePath(filePath))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redactURLError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{Method: "download", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("telegram file too large (>%d bytes)", maxBytes)
	}
	return data, nil
}

func escapeFilePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
