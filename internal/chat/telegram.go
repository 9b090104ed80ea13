package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram adapts the bot API to the Sender interface. The underlying
// client serializes nothing itself; it is safe for concurrent calls.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
}

var _ Sender = (*Telegram)(nil)

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot, httpClient: &http.Client{}}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("sending message to chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendWithAction(ctx context.Context, chatID int64, text string, action Action) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(action.Label, action.Data),
		),
	)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("sending actionable message to chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) Reply(ctx context.Context, chatID int64, replyToID int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyToMessageID = replyToID
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("replying in chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if _, err := t.bot.Send(edit); err != nil {
		return fmt.Errorf("editing message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

func (t *Telegram) ClearActions(ctx context.Context, chatID int64, messageID int) error {
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty)
	if _, err := t.bot.Request(edit); err != nil {
		return fmt.Errorf("clearing actions on message %d: %w", messageID, err)
	}
	return nil
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := t.bot.Request(callback); err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}
	return nil
}

// DownloadFile resolves a file id to its hosted URL and streams the content.
// The caller owns closing the reader.
func (t *Telegram) DownloadFile(ctx context.Context, fileID string) (string, io.ReadCloser, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", nil, fmt.Errorf("resolving file %s: %w", fileID, err)
	}

	url := file.Link(t.bot.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("downloading file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", nil, fmt.Errorf("downloading file %s: HTTP %d", fileID, resp.StatusCode)
	}

	filename := path.Base(file.FilePath)
	if filename == "" || filename == "." {
		filename = "attachment"
	}
	return filename, resp.Body, nil
}

// ParseUpdate flattens a raw update into an Event. Returns false for update
// types the system does not handle (edits, channel posts, member changes).
func ParseUpdate(u tgbotapi.Update) (Event, bool) {
	if u.CallbackQuery != nil {
		cq := u.CallbackQuery
		event := Event{
			Kind:         EventCallback,
			UpdateID:     u.UpdateID,
			CallbackID:   cq.ID,
			CallbackData: cq.Data,
		}
		if cq.From != nil {
			event.UserID = cq.From.ID
			event.Username = strings.ToLower(cq.From.UserName)
			event.FirstName = cq.From.FirstName
		}
		if cq.Message != nil {
			event.CallbackChatID = cq.Message.Chat.ID
			event.CallbackMessageID = cq.Message.MessageID
			event.ChatID = cq.Message.Chat.ID
			event.ChatType = cq.Message.Chat.Type
		}
		return event, true
	}

	msg := u.Message
	if msg == nil {
		return Event{}, false
	}

	event := Event{
		Kind:      EventMessage,
		UpdateID:  u.UpdateID,
		ChatID:    msg.Chat.ID,
		ChatType:  msg.Chat.Type,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.From != nil {
		event.UserID = msg.From.ID
		event.Username = strings.ToLower(msg.From.UserName)
		event.FirstName = msg.From.FirstName
	}
	if event.Text == "" {
		event.Text = msg.Caption
	}
	if msg.ReplyToMessage != nil {
		event.ReplyToMessageID = msg.ReplyToMessage.MessageID
		event.ReplyToText = msg.ReplyToMessage.Text
		if event.ReplyToText == "" {
			event.ReplyToText = msg.ReplyToMessage.Caption
		}
	}
	if len(msg.Photo) > 0 {
		event.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.IsCommand() {
		event.Command = msg.Command()
		event.CommandArgs = strings.TrimSpace(msg.CommandArguments())
	}

	return event, true
}
