package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adapt/offsite/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts a run summary to one chat.
type TelegramNotifier struct {
	bot     sender
	chatID  int64
	appName string
}

func NewTelegram(botToken string, chatID int64, appName string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, appName), nil
}

func newTelegram(bot sender, chatID int64, appName string) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, appName: appName}
}

func (t *TelegramNotifier) Notify(ctx context.Context, report *domain.Report) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatReport(t.appName, report))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

// FormatReport renders the plain-text message for report.
func FormatReport(appName string, report *domain.Report) string {
	var b strings.Builder

	if report.Succeeded() {
		fmt.Fprintf(&b, "✅ %s backup completed\n\n", appName)
	} else {
		fmt.Fprintf(&b, "❌ %s backup failed\n\n", appName)
	}

	fmt.Fprintf(&b, "🆔 Run: %s\n", report.RunID)
	fmt.Fprintf(&b, "🕐 Duration: %s\n", report.Duration().Round(time.Second))

	if report.Succeeded() {
		fmt.Fprintf(&b, "📦 Objects: %d\n", len(report.Uploads))
		fmt.Fprintf(&b, "📊 Size: %.2f MB\n", float64(report.UploadedBytes())/(1024*1024))
		return b.String()
	}

	fmt.Fprintf(&b, "⚠️ Step: %s\n", report.FailedStep)
	for _, u := range report.Uploads {
		if u.Err != nil {
			fmt.Fprintf(&b, "• %s: upload failed\n", u.Key.Path)
		}
	}
	if report.Err != nil {
		fmt.Fprintf(&b, "\n%v", report.Err)
	}
	return b.String()
}
