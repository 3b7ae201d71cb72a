package dispatcher

import (
	"fmt"
	"html"
	"strings"

	"depositgate/internal/app/model"
	"depositgate/pkg/telegram"
)

const dateLayout = "2006-01-02 15:04:05 MST"

// Render formats the notification text of a pending transaction
func Render(tx *model.Transaction) string {
	title := "New Deposit Request"
	if tx.Type == model.TransactionTypeWithdrawal {
		title = "New Withdrawal Request"
	}

	description := tx.Description
	if description == "" {
		description = "None"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💰 <b>%s</b> 💰\n\n", title)
	fmt.Fprintf(&b, "🆔 <b>ID:</b> <code>%s</code>\n", html.EscapeString(tx.ID))
	fmt.Fprintf(&b, "📱 <b>Phone:</b> %s\n", html.EscapeString(tx.Phone))
	fmt.Fprintf(&b, "💵 <b>Amount:</b> %s ETB\n", tx.Amount.StringFixed(2))
	fmt.Fprintf(&b, "📅 <b>Date:</b> %s\n", tx.CreatedAt.Format(dateLayout))
	fmt.Fprintf(&b, "📝 <b>Description:</b> %s\n\n", html.EscapeString(description))
	b.WriteString("<i>Please review this request</i>")

	return b.String()
}

// Keyboard returns the action buttons of a notification
func Keyboard(tx *model.Transaction) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			{Text: "✅ Approve", CallbackData: model.Approve(tx.ID).CallbackData()},
			{Text: "❌ Reject", CallbackData: model.Reject(tx.ID).CallbackData()},
		},
		{
			{Text: "🧾 History", CallbackData: model.History(tx.Phone).CallbackData()},
		},
	}}
}

func NewMessage(tx *model.Transaction, chatID int64, text string) *telegram.SendMessageRequest {
	return &telegram.SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   telegram.ParseModeHTML,
		ReplyMarkup: Keyboard(tx),
	}
}
