package service_test

import (
	"context"
	"io"
	"sync"

	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/tracker"
)

var _ chat.Sender = (*mockSender)(nil)

type mockGateway struct {
	createIssueFn  func(ctx context.Context, params tracker.CreateIssueParams) (*tracker.Issue, error)
	getIssueFn     func(ctx context.Context, key string) (*tracker.Issue, error)
	closeIssueFn   func(ctx context.Context, key string) error
	addCommentFn   func(ctx context.Context, key, text string) error
	listCommentsFn func(ctx context.Context, key string) ([]tracker.Comment, error)
	searchIssuesFn func(ctx context.Context, filter map[string]any) ([]tracker.Issue, error)
	attachFileFn   func(ctx context.Context, key, filename string, content io.Reader) error
	createBoardFn  func(ctx context.Context, name, tag string) error
}

func (m *mockGateway) CreateIssue(ctx context.Context, params tracker.CreateIssueParams) (*tracker.Issue, error) {
	if m.createIssueFn != nil {
		return m.createIssueFn(ctx, params)
	}
	return &tracker.Issue{Key: params.Queue + "-1", Summary: params.Summary}, nil
}

func (m *mockGateway) GetIssue(ctx context.Context, key string) (*tracker.Issue, error) {
	if m.getIssueFn != nil {
		return m.getIssueFn(ctx, key)
	}
	return &tracker.Issue{Key: key}, nil
}

func (m *mockGateway) CloseIssue(ctx context.Context, key string) error {
	if m.closeIssueFn != nil {
		return m.closeIssueFn(ctx, key)
	}
	return nil
}

func (m *mockGateway) AddComment(ctx context.Context, key, text string) error {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, key, text)
	}
	return nil
}

func (m *mockGateway) ListComments(ctx context.Context, key string) ([]tracker.Comment, error) {
	if m.listCommentsFn != nil {
		return m.listCommentsFn(ctx, key)
	}
	return nil, nil
}

func (m *mockGateway) SearchIssues(ctx context.Context, filter map[string]any) ([]tracker.Issue, error) {
	if m.searchIssuesFn != nil {
		return m.searchIssuesFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockGateway) AttachFile(ctx context.Context, key, filename string, content io.Reader) error {
	if m.attachFileFn != nil {
		return m.attachFileFn(ctx, key, filename, content)
	}
	return nil
}

func (m *mockGateway) CreateBoard(ctx context.Context, name, tag string) error {
	if m.createBoardFn != nil {
		return m.createBoardFn(ctx, name, tag)
	}
	return nil
}

// sentMessage records one outbound delivery made through the mock sender.
type sentMessage struct {
	ChatID     int64
	Text       string
	ActionData string
	ReplyToID  int
}

// mockSender records every delivery and lets individual calls be failed via
// the fn overrides.
type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage

	nextMessageID int

	sendFn           func(ctx context.Context, chatID int64, text string) (int, error)
	sendWithActionFn func(ctx context.Context, chatID int64, text string, actionData string) (int, error)
	editTextFn       func(ctx context.Context, chatID int64, messageID int, text string) error
	clearActionsFn   func(ctx context.Context, chatID int64, messageID int) error

	cleared   []sentMessage
	edited    []sentMessage
	callbacks []string
}

func (m *mockSender) record(msg sentMessage) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	m.nextMessageID++
	return m.nextMessageID
}

func (m *mockSender) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage{}, m.sent...)
}

func (m *mockSender) SentTo(chatID int64) []sentMessage {
	var out []sentMessage
	for _, msg := range m.Sent() {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSender) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, chatID, text)
	}
	return m.record(sentMessage{ChatID: chatID, Text: text}), nil
}

func (m *mockSender) SendWithAction(ctx context.Context, chatID int64, text string, action chat.Action) (int, error) {
	if m.sendWithActionFn != nil {
		return m.sendWithActionFn(ctx, chatID, text, action.Data)
	}
	return m.record(sentMessage{ChatID: chatID, Text: text, ActionData: action.Data}), nil
}

func (m *mockSender) Reply(ctx context.Context, chatID int64, replyToID int, text string) (int, error) {
	return m.record(sentMessage{ChatID: chatID, Text: text, ReplyToID: replyToID}), nil
}

func (m *mockSender) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if m.editTextFn != nil {
		return m.editTextFn(ctx, chatID, messageID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockSender) ClearActions(ctx context.Context, chatID int64, messageID int) error {
	if m.clearActionsFn != nil {
		return m.clearActionsFn(ctx, chatID, messageID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sentMessage{ChatID: chatID})
	return nil
}

func (m *mockSender) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, text)
	return nil
}

func (m *mockSender) DownloadFile(ctx context.Context, fileID string) (string, io.ReadCloser, error) {
	return "photo.jpg", io.NopCloser(nilReader{}), nil
}

type nilReader struct{}

func (nilReader) Read(p []byte) (int, error) { return 0, io.EOF }

type mockOnceMarker struct {
	mu       sync.Mutex
	acquired map[string]bool
}

func newMockOnceMarker() *mockOnceMarker {
	return &mockOnceMarker{acquired: make(map[string]bool)}
}

func (m *mockOnceMarker) Acquire(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired[key] {
		return false, nil
	}
	m.acquired[key] = true
	return true, nil
}
