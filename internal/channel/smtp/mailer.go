package smtp

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/mailroomd/mailroom/internal/channel"
)

const defaultSendTimeout = 15 * time.Second

var _ channel.Channel = (*Mailer)(nil)

// Mailer delivers messages over SMTP with PLAIN auth. Every send is bounded
// by a timeout so a hung server cannot stall the dispatch loop.
type Mailer struct {
	addr        string
	host        string
	username    string
	password    string
	sendTimeout time.Duration
	sendMail    func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(host string, port int, username, password string) (*Mailer, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid smtp port %d", port)
	}

	return &Mailer{
		addr:        fmt.Sprintf("%s:%d", host, port),
		host:        host,
		username:    username,
		password:    password,
		sendTimeout: defaultSendTimeout,
		sendMail:    smtp.SendMail,
	}, nil
}

func (m *Mailer) Send(ctx context.Context, msg channel.Message) error {
	if m == nil || m.sendMail == nil {
		return fmt.Errorf("mailer is not initialized")
	}

	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return &channel.ChannelError{
			Message:   fmt.Sprintf("invalid recipient address %q", msg.To),
			Transient: false,
			Cause:     err,
		}
	}

	// The envelope sender must be a bare address even when the From header
	// carries a display name.
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return &channel.ChannelError{
			Message:   fmt.Sprintf("invalid sender address %q", msg.From),
			Transient: false,
			Cause:     err,
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	payload := buildMessage(msg)
	done := make(chan error, 1)
	go func() {
		done <- m.sendMail(m.addr, auth, from.Address, []string{to.Address}, payload)
	}()

	select {
	case <-ctx.Done():
		return &channel.ChannelError{
			Message:   "smtp send timed out",
			Transient: true,
			Cause:     ctx.Err(),
		}
	case err := <-done:
		if err == nil {
			return nil
		}
		return classifySMTPError(err)
	}
}

// classifySMTPError maps SMTP reply codes to retryability: 4yz replies are
// transient, 5yz permanent. Failures without a reply code (dial errors,
// resets) are treated as transient.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &channel.ChannelError{
			Code:      protoErr.Code,
			Message:   protoErr.Msg,
			Transient: protoErr.Code >= 400 && protoErr.Code < 500,
			Cause:     err,
		}
	}

	return &channel.ChannelError{
		Message:   "smtp send failed",
		Transient: true,
		Cause:     err,
	}
}

func buildMessage(msg channel.Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sanitizeHeader(msg.From))
	fmt.Fprintf(&b, "To: %s\r\n", sanitizeHeader(msg.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// sanitizeHeader strips CR and LF from header values. Titles and addresses
// come from externally-created records; a raw newline here would terminate the
// header line and smuggle extra headers into the message.
func sanitizeHeader(value string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, value)
}
