package mail

import (
	"context"
	"strings"
	"testing"

	"tokenpay/internal/config"
)

func TestNewMailerFallsBackToLog(t *testing.T) {
	m := NewMailer(&config.MailConfig{})
	if _, ok := m.(LogMailer); !ok {
		t.Fatalf("NewMailer() = %T, want LogMailer", m)
	}
	if err := m.Send(context.Background(), "a@example.com", "subject", "body"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if _, ok := NewMailer(&config.MailConfig{Host: "smtp.example.com"}).(*SMTPMailer); !ok {
		t.Fatal("configured host should produce SMTPMailer")
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("no-reply@example.com", "a@example.com", "验证码", "<b>123456</b>"))
	for _, want := range []string{"From: no-reply@example.com\r\n", "To: a@example.com\r\n", "Subject: 验证码\r\n", "\r\n\r\n<b>123456</b>"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}
