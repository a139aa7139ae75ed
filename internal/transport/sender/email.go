package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"progress/internal/application/entity"
	"progress/pkg/config"

	"go.uber.org/zap"
)

// EmailSender — SMTP-транспорт. Соединение открывается на каждый вызов:
// объём нотификаций на инстанс невелик, а живой пул SMTP-сессий не
// переживает таймауты шлюзов.
type EmailSender struct {
	conf   config.SMTPConfig
	logger *zap.SugaredLogger
}

func NewEmailSender(conf config.SMTPConfig, logger *zap.SugaredLogger) *EmailSender {
	return &EmailSender{conf: conf, logger: logger}
}

func (s *EmailSender) Channel() entity.Channel { return entity.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, recipient string, payload []byte) error {
	p, err := decodePayload(payload)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w: %v", addr, ErrTransient, err)
	}

	// Дедлайн контекста распространяется на всю SMTP-сессию.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.conf.Host)
	if err != nil {
		_ = conn.Close()
		return classifySMTP("handshake", err)
	}
	defer client.Close()

	if s.conf.Username != "" {
		auth := smtp.PlainAuth("", s.conf.Username, s.conf.Password, s.conf.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return classifySMTP("auth", err)
			}
		}
	}

	if err := client.Mail(s.conf.From); err != nil {
		return classifySMTP("mail from", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return classifySMTP("rcpt to", err)
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTP("data", err)
	}

	msg := strings.Join([]string{
		"From: " + s.conf.From,
		"To: " + recipient,
		"Subject: " + p.Title,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		p.Message,
	}, "\r\n")

	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w: %v", ErrTransient, err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP("close data", err)
	}

	return client.Quit()
}

// classifySMTP: 4xx — транзиентно (greylisting, rate limit), 5xx — отказ
// навсегда (несуществующий ящик, policy reject).
func classifySMTP(op string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return fmt.Errorf("smtp %s: %w: %v", op, ErrPermanent, err)
		}
		return fmt.Errorf("smtp %s: %w: %v", op, ErrTransient, err)
	}
	return fmt.Errorf("smtp %s: %w: %v", op, ErrTransient, err)
}
