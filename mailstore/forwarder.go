package mailstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/tdaniel1925/easemail-rules/rules"
)

// SMTPForwarder delivers forwarded copies through an SMTP relay.
type SMTPForwarder struct {
	// Addr is the relay's host:port; port 587 implies STARTTLS.
	Addr     string
	Username string
	Password string
	// From is the envelope and header sender for forwarded copies.
	From string
}

// NewSMTPForwarder creates a forwarder for the given relay.
func NewSMTPForwarder(addr, username, password, from string) *SMTPForwarder {
	return &SMTPForwarder{
		Addr:     addr,
		Username: username,
		Password: password,
		From:     from,
	}
}

// Forward composes a forwarded copy of the message and submits it to the
// relay. The relay client carries its own dial and I/O timeouts; the engine
// does not add one on top.
func (f *SMTPForwarder) Forward(ctx context.Context, msg *rules.Message, address string) error {
	var auth sasl.Client
	if f.Username != "" {
		auth = sasl.NewPlainClient("", f.Username, f.Password)
	}

	raw := composeForward(f.From, address, msg)
	if err := smtp.SendMail(f.Addr, auth, f.From, []string{address}, strings.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	return nil
}

// composeForward builds the RFC 5322 text of the forwarded copy: the usual
// Fwd: framing with the original sender and date quoted above the body.
func composeForward(from, to string, msg *rules.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Fwd: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	b.WriteString("---------- Forwarded message ----------\r\n")
	if msg.FromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", msg.FromName, msg.FromAddress)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", msg.FromAddress)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", msg.ReceivedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("\r\n")

	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}
	b.WriteString(body)
	b.WriteString("\r\n")

	return b.String()
}
