package smtp

import (
	"context"
	"errors"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/mailroomd/mailroom/internal/channel"
)

func newTestMailer(t *testing.T, sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error) *Mailer {
	t.Helper()

	mailer, err := NewMailer("smtp.example.com", 587, "user", "pass")
	if err != nil {
		t.Fatalf("NewMailer() error = %v", err)
	}
	mailer.sendMail = sendMail
	return mailer
}

func TestNewMailerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewMailer("", 587, "user", "pass"); err == nil {
		t.Error("expected error for empty host")
	}
	if _, err := NewMailer("smtp.example.com", 0, "user", "pass"); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := NewMailer("smtp.example.com", 70000, "user", "pass"); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestMailerSendSuccess(t *testing.T) {
	t.Parallel()

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotTo = to
		gotMsg = msg
		return nil
	})

	msg := channel.Message{
		From:    "Mailroom <no-reply@example.com>",
		To:      "a@example.com",
		Subject: "hello",
		Body:    "line one\nline two",
	}

	if err := mailer.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "no-reply@example.com" {
		t.Errorf("envelope from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "a@example.com" {
		t.Errorf("to = %v", gotTo)
	}

	payload := string(gotMsg)
	for _, want := range []string{
		"From: Mailroom <no-reply@example.com>\r\n",
		"To: a@example.com\r\n",
		"Subject: hello\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"\r\n\r\nline one\nline two",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}
}

func TestMailerSendNeutralizesHeaderNewlines(t *testing.T) {
	t.Parallel()

	var gotMsg []byte
	mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotMsg = msg
		return nil
	})

	err := mailer.Send(context.Background(), channel.Message{
		From:    "no-reply@example.com",
		To:      "a@example.com",
		Subject: "hello\r\nBcc: attacker@evil.example",
		Body:    "body",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	headers, _, found := strings.Cut(string(gotMsg), "\r\n\r\n")
	if !found {
		t.Fatalf("payload has no header separator:\n%s", gotMsg)
	}
	for _, line := range strings.Split(headers, "\r\n") {
		if strings.HasPrefix(line, "Bcc:") {
			t.Fatalf("newline in subject produced a header line %q", line)
		}
	}
	if !strings.Contains(headers, "Subject: hello Bcc: attacker@evil.example") {
		t.Errorf("subject not flattened into one line:\n%s", headers)
	}
}

func TestMailerSendInvalidRecipientIsPermanent(t *testing.T) {
	t.Parallel()

	called := false
	mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		called = true
		return nil
	})

	err := mailer.Send(context.Background(), channel.Message{
		From: "no-reply@example.com",
		To:   "not an address",
	})
	if err == nil {
		t.Fatal("expected error for invalid recipient")
	}
	if channel.IsTransient(err) {
		t.Error("invalid recipient should be permanent")
	}
	if called {
		t.Error("transport must not be touched for an invalid recipient")
	}
}

func TestMailerSendInvalidSenderIsPermanent(t *testing.T) {
	t.Parallel()

	called := false
	mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		called = true
		return nil
	})

	err := mailer.Send(context.Background(), channel.Message{
		From: "not an address",
		To:   "a@example.com",
	})
	if err == nil {
		t.Fatal("expected error for invalid sender")
	}
	if channel.IsTransient(err) {
		t.Error("invalid sender should be permanent")
	}
	if called {
		t.Error("transport must not be touched for an invalid sender")
	}
}

func TestMailerSendClassifiesReplyCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		err           error
		wantTransient bool
		wantCode      int
	}{
		{
			name:          "4yz is transient",
			err:           &textproto.Error{Code: 421, Msg: "service not available"},
			wantTransient: true,
			wantCode:      421,
		},
		{
			name:          "5yz is permanent",
			err:           &textproto.Error{Code: 550, Msg: "mailbox unavailable"},
			wantTransient: false,
			wantCode:      550,
		},
		{
			name:          "no reply code is transient",
			err:           errors.New("dial tcp: connection refused"),
			wantTransient: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
				return tc.err
			})

			err := mailer.Send(context.Background(), channel.Message{
				From: "no-reply@example.com",
				To:   "a@example.com",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := channel.IsTransient(err); got != tc.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var channelErr *channel.ChannelError
			if !errors.As(err, &channelErr) {
				t.Fatalf("error type = %T, want *channel.ChannelError", err)
			}
			if channelErr.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", channelErr.Code, tc.wantCode)
			}
		})
	}
}

func TestMailerSendTimeout(t *testing.T) {
	t.Parallel()

	mailer := newTestMailer(t, func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		time.Sleep(time.Second)
		return nil
	})
	mailer.sendTimeout = 20 * time.Millisecond

	err := mailer.Send(context.Background(), channel.Message{
		From: "no-reply@example.com",
		To:   "a@example.com",
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !channel.IsTransient(err) {
		t.Error("timeout should be transient")
	}
}
