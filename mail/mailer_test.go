package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	addr string
	from string
	to   []string
	body string
}

func testConf() *util.AppConfig {
	conf := util.DefaultConf()
	conf.Conf.SslDomain = "local.example"
	conf.Mail.Enabled = true
	conf.Mail.Host = "smtp.local.example"
	conf.Mail.Port = 2525
	return conf
}

func fixtures() (*domain.Actor, *domain.Actor, *domain.Message) {
	alice := &domain.Actor{Username: "alice", Email: "alice@mail.example", Local: true}
	bob := &domain.Actor{Username: "bob", Domain: "remote.example"}
	msg := &domain.Message{
		URI:     "https://remote.example/notes/1",
		Content: "<p>hello <a href=\"https://local.example/users/alice\">@alice</a></p>",
	}
	return alice, bob, msg
}

func TestSendMention(t *testing.T) {
	var got []sent
	m := NewSMTPMailer(testConf(), zap.NewNop()).WithSender(func(addr string, _ smtp.Auth, from string, to []string, body []byte) error {
		got = append(got, sent{addr: addr, from: from, to: to, body: string(body)})
		return nil
	})
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	alice, bob, msg := fixtures()
	require.NoError(t, m.SendMention(context.Background(), alice, bob, msg))

	require.Len(t, got, 1)
	assert.Equal(t, "smtp.local.example:2525", got[0].addr)
	assert.Equal(t, "ivory@local.example", got[0].from)
	assert.Equal(t, []string{"alice@mail.example"}, got[0].to)
	assert.Contains(t, got[0].body, "Subject: @bob@remote.example mentioned you\r\n")
	assert.Contains(t, got[0].body, "> hello @alice\r\n")
	assert.Contains(t, got[0].body, "https://remote.example/notes/1")
	assert.True(t, strings.Contains(got[0].body, "Date: Fri, 01 Mar 2024 12:00:00 +0000"))
}

func TestSendMentionDisabled(t *testing.T) {
	conf := testConf()
	conf.Mail.Enabled = false
	called := false
	m := NewSMTPMailer(conf, zap.NewNop()).WithSender(func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	})

	alice, bob, msg := fixtures()
	require.NoError(t, m.SendMention(context.Background(), alice, bob, msg))
	assert.False(t, called)
	assert.False(t, m.Enabled())
}

func TestSendMentionWithoutEmail(t *testing.T) {
	called := false
	m := NewSMTPMailer(testConf(), zap.NewNop()).WithSender(func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	})

	alice, bob, msg := fixtures()
	alice.Email = ""
	require.NoError(t, m.SendMention(context.Background(), alice, bob, msg))
	assert.False(t, called)
}

func TestSendMentionTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	m := NewSMTPMailer(testConf(), zap.NewNop()).WithSender(func(string, smtp.Auth, string, []string, []byte) error {
		return boom
	})

	alice, bob, msg := fixtures()
	err := m.SendMention(context.Background(), alice, bob, msg)
	assert.ErrorIs(t, err, boom)
}
