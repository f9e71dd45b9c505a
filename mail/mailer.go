// Package mail sends the mention notice mailed to local actors.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"go.uber.org/zap"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPMailer struct {
	addr    string
	auth    smtp.Auth
	from    string
	enabled bool
	send    SendFunc
	log     *zap.Logger
	now     func() time.Time
}

// NewSMTPMailer builds a mailer from the mail section of the config.
// A disabled mailer accepts every mention and sends nothing.
func NewSMTPMailer(conf *util.AppConfig, log *zap.Logger) *SMTPMailer {
	m := &SMTPMailer{
		addr:    net.JoinHostPort(conf.Mail.Host, strconv.Itoa(conf.Mail.Port)),
		from:    conf.Mail.From,
		enabled: conf.Mail.Enabled && conf.Mail.Host != "",
		send:    smtp.SendMail,
		log:     log,
		now:     time.Now,
	}
	if conf.Mail.Username != "" {
		m.auth = smtp.PlainAuth("", conf.Mail.Username, conf.Mail.Password, conf.Mail.Host)
	}
	if m.from == "" {
		m.from = fmt.Sprintf("%s@%s", util.Name, conf.Conf.SslDomain)
	}
	return m
}

// WithSender replaces the transport, used by tests.
func (m *SMTPMailer) WithSender(send SendFunc) *SMTPMailer {
	m.send = send
	return m
}

func (m *SMTPMailer) Enabled() bool {
	return m.enabled
}

// SendMention mails recipient that author mentioned them in msg.
func (m *SMTPMailer) SendMention(ctx context.Context, recipient, author *domain.Actor, msg *domain.Message) error {
	if !m.enabled {
		return nil
	}
	if recipient.Email == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := m.mentionMessage(recipient, author, msg)
	if err := m.send(m.addr, m.auth, m.from, []string{recipient.Email}, body); err != nil {
		return fmt.Errorf("sending mention mail to %s: %w", recipient.Username, err)
	}
	m.log.Debug("Mail: mention sent",
		zap.String("recipient", recipient.Username),
		zap.String("status", msg.URI))
	return nil
}

func (m *SMTPMailer) mentionMessage(recipient, author *domain.Actor, msg *domain.Message) []byte {
	var b bytes.Buffer
	subject := fmt.Sprintf("%s mentioned you", author.Handle())

	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", recipient.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "Hi %s,\r\n\r\n", recipient.Username)
	fmt.Fprintf(&b, "%s mentioned you:\r\n\r\n", author.Handle())
	for _, line := range strings.Split(util.StripHTML(msg.Content), "\n") {
		fmt.Fprintf(&b, "> %s\r\n", strings.TrimRight(line, "\r"))
	}
	fmt.Fprintf(&b, "\r\n%s\r\n", msg.URI)
	return b.Bytes()
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
