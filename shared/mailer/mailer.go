package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/wneessen/go-mail"
)

// Message is a single plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds SMTP connection parameters
type Config struct {
	Host     string
	Port     int
	From     string
	FromName string
	Username string
	Password string
	TLS      bool
}

// SMTPMailer sends mail through an SMTP relay, dialing once per message.
type SMTPMailer struct {
	config *Config
	logger *slog.Logger
}

// NewSMTPMailer creates an SMTP backed mailer.
func NewSMTPMailer(config *Config, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{config: config, logger: logger}
}

// Send delivers msg.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm, err := buildMsg(m.config, msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(m.config.Host, clientOptions(m.config)...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Debug("Email sent", slog.String("to", msg.To))
	return nil
}

func buildMsg(config *Config, msg Message) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("failed to build email: no recipient")
	}

	mm := mail.NewMsg()
	var err error
	if config.FromName != "" {
		err = mm.FromFormat(config.FromName, config.From)
	} else {
		err = mm.From(config.From)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set sender: %w", err)
	}
	if err := mm.To(msg.To); err != nil {
		return nil, fmt.Errorf("failed to set recipient: %w", err)
	}
	// header injection
	mm.Subject(strings.NewReplacer("\r", "", "\n", "").Replace(msg.Subject))
	mm.SetBodyString(mail.TypeTextPlain, msg.Body)
	return mm, nil
}

func clientOptions(config *Config) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(config.Port),
	}
	if config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}
	if config.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	return opts
}

// LogMailer writes an EMAIL[ADDRESS] line per message instead of sending
// anything. It is the default for local runs.
type LogMailer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogMailer creates a LogMailer writing to out.
func NewLogMailer(out io.Writer) *LogMailer {
	return &LogMailer{out: out}
}

// Send writes the recipient line.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := fmt.Fprintf(m.out, "EMAIL[%s]\n", strings.ToUpper(msg.To))
	return err
}
