package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"villaops/internal/config"
	"villaops/internal/domain"
	"villaops/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// InAppSender publishes a notification to the staff inbox.
type InAppSender struct {
	store domain.NotificationStore
}

func NewInAppSender(store domain.NotificationStore) *InAppSender {
	return &InAppSender{store: store}
}

func (s *InAppSender) Channel() models.Channel { return models.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, n *models.Notification) error {
	return s.store.MarkInAppDelivered(ctx, n.ID)
}

// BotAPI is the part of the Telegram client the push channel uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers the push channel as a Telegram message to the staff chat.
type TelegramSender struct {
	bot   BotAPI
	staff domain.StaffStore
}

func NewTelegramSender(bot BotAPI, staff domain.StaffStore) *TelegramSender {
	return &TelegramSender{bot: bot, staff: staff}
}

func (s *TelegramSender) Channel() models.Channel { return models.ChannelPush }

func (s *TelegramSender) Send(ctx context.Context, n *models.Notification) error {
	member, err := s.staff.GetStaff(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("staff %s: %w", n.RecipientID, domain.ErrUnreachable)
		}
		return err
	}
	if member.TelegramChatID == 0 {
		return fmt.Errorf("staff %s has no telegram chat: %w", member.ID, domain.ErrUnreachable)
	}

	msg := tgbotapi.NewMessage(member.TelegramChatID, formatPush(n))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatPush(n *models.Notification) string {
	var b strings.Builder
	if n.Priority == models.PriorityUrgent || n.Priority == models.PriorityHigh {
		b.WriteString("❗ ")
	}
	b.WriteString("*")
	b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Title))
	b.WriteString("*\n")
	b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, n.Message))
	return b.String()
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers the email channel over SMTP.
type EmailSender struct {
	addr     string
	auth     smtp.Auth
	from     string
	staff    domain.StaffStore
	sendMail SendMailFunc
}

func NewEmailSender(cfg config.SMTPConfig, staff domain.StaffStore) *EmailSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &EmailSender{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		auth:     auth,
		from:     cfg.From,
		staff:    staff,
		sendMail: smtp.SendMail,
	}
}

func (s *EmailSender) Channel() models.Channel { return models.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, n *models.Notification) error {
	member, err := s.staff.GetStaff(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("staff %s: %w", n.RecipientID, domain.ErrUnreachable)
		}
		return err
	}
	if member.Email == "" {
		return fmt.Errorf("staff %s has no email: %w", member.ID, domain.ErrUnreachable)
	}

	msg := buildMail(s.from, member.Email, n)
	if err := s.sendMail(s.addr, s.auth, s.from, []string{member.Email}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMail(from, to string, n *models.Notification) []byte {
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(n.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	if n.Priority == models.PriorityUrgent {
		b.WriteString("X-Priority: 1\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(n.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}
