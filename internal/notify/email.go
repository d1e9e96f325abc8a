// Package notify emails patients the documents their practitioner prepared.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const defaultFromName = "Kiné Assistant"

// EmailSender is implemented by SendGridSender, SESSender and StubEmailSender.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outgoing email. ReplyTo routes patient answers to the
// practitioner instead of the no-reply sender.
type EmailMessage struct {
	To      string
	Subject string
	Body    string // plain text
	HTML    string // optional
	ReplyTo string
}

// prepared trims addresses and fills the HTML part from the text part.
func (m EmailMessage) prepared() EmailMessage {
	m.To = strings.TrimSpace(m.To)
	m.ReplyTo = strings.TrimSpace(m.ReplyTo)
	if m.HTML == "" {
		m.HTML = m.Body
	}
	return m
}

// recipientDomain is what senders log; patient addresses never reach the logs.
func recipientDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// SendGridSender sends emails via the SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// sendGridMessage builds the v3 payload for msg.
func (s *SendGridSender) sendGridMessage(msg EmailMessage) *mail.SGMailV3 {
	msg = msg.prepared()
	out := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Body,
		msg.HTML,
	)
	if msg.ReplyTo != "" {
		out.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	return out
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	domain := recipientDomain(msg.To)

	response, err := s.client.SendWithContext(ctx, s.sendGridMessage(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "recipient_domain", domain)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "recipient_domain", domain)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	s.logger.Info("email sent via sendgrid", "status", response.StatusCode, "recipient_domain", domain)
	return nil
}

// StubEmailSender logs instead of sending. Local development only.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: email not sent", "subject", msg.Subject, "recipient_domain", recipientDomain(msg.To))
	return nil
}
