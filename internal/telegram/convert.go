// ABOUTME: Conversion between Telegram Bot API types and transport-neutral chat types
// ABOUTME: Captures forward origin, URL entities and inline keyboard callbacks

package telegram

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/mapfeed/internal/chat"
)

// Network is the chat.Update network name for Telegram.
const Network = "telegram"

// toUpdate converts a Bot API update. Updates other than messages and
// callback queries are skipped.
func toUpdate(u tgbotapi.Update) (chat.Update, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return chat.Update{}, false
		}
		out := chat.Update{
			ID:       strconv.Itoa(u.UpdateID),
			Network:  Network,
			ChatID:   strconv.FormatInt(cq.Message.Chat.ID, 10),
			Callback: &chat.Callback{ID: cq.ID, Data: cq.Data},
		}
		if cq.From != nil {
			out.SenderID = strconv.FormatInt(cq.From.ID, 10)
		}
		return out, true

	case u.Message != nil && u.Message.Chat != nil:
		m := u.Message
		out := chat.Update{
			ID:      strconv.Itoa(u.UpdateID),
			Network: Network,
			ChatID:  strconv.FormatInt(m.Chat.ID, 10),
			Message: toMessage(m),
		}
		if m.From != nil {
			out.SenderID = strconv.FormatInt(m.From.ID, 10)
		}
		return out, true

	default:
		return chat.Update{}, false
	}
}

func toMessage(m *tgbotapi.Message) chat.Message {
	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}

	out := chat.Message{Text: text}
	for _, e := range entities {
		out.Entities = append(out.Entities, chat.Entity{
			Type:   e.Type,
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		})
	}
	out.Forward = forwardOrigin(m)
	return out
}

// forwardOrigin returns nil for messages that were not forwarded. Users who
// hide their account still leave a forward date and sender name.
func forwardOrigin(m *tgbotapi.Message) *chat.ForwardOrigin {
	switch {
	case m.ForwardFromChat != nil:
		fc := m.ForwardFromChat
		origin := &chat.ForwardOrigin{
			Network: Network,
			ChatID:  strconv.FormatInt(fc.ID, 10),
			Handle:  fc.UserName,
			Channel: fc.IsChannel(),
		}
		if m.ForwardFromMessageID != 0 {
			origin.MessageID = strconv.Itoa(m.ForwardFromMessageID)
		}
		return origin
	case m.ForwardFrom != nil:
		return &chat.ForwardOrigin{
			Network: Network,
			ChatID:  strconv.FormatInt(m.ForwardFrom.ID, 10),
			Handle:  m.ForwardFrom.UserName,
		}
	case m.ForwardDate != 0 || m.ForwardSenderName != "":
		return &chat.ForwardOrigin{Network: Network}
	default:
		return nil
	}
}

// toMessageConfig renders a reply. Choices become one inline button per row.
func toMessageConfig(chatID int64, r chat.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	msg.DisableWebPagePreview = true
	if len(r.Choices) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.Choices))
		for _, c := range r.Choices {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return msg
}
