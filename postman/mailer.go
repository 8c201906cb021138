package postman

import (
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
)

// Message is an assembled email ready for delivery.
type Message struct {
	To      string
	Cc      string
	Bcc     string
	From    string
	Subject string
	Body    string

	// Headers holds additional headers. From, Cc and Bcc are folded in
	// at send time.
	Headers map[string]string
}

// headers returns the full header map including From, Cc and Bcc.
func (m *Message) headers() map[string]string {
	headers := make(map[string]string, len(m.Headers)+3)
	for k, v := range m.Headers {
		headers[k] = v
	}

	headers["From"] = m.From
	if m.Cc != "" {
		headers["Cc"] = m.Cc
	}
	if m.Bcc != "" {
		headers["Bcc"] = m.Bcc
	}

	return headers
}

// Mailer delivers assembled messages. The orchestrator treats delivery
// as a single attempt; retrying is the caller's responsibility.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPMailer delivers messages through a plain SMTP server.
type SMTPMailer struct {
	Addr string
	Auth smtp.Auth
}

// Send submits the message to the configured SMTP server.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recipients := []string{msg.To}
	if msg.Cc != "" {
		recipients = append(recipients, msg.Cc)
	}
	if msg.Bcc != "" {
		recipients = append(recipients, msg.Bcc)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	for k, v := range msg.headers() {
		if k == "Bcc" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return smtp.SendMail(m.Addr, m.Auth, msg.From, recipients, []byte(b.String()))
}

// DumpMailer writes the message to an io.Writer instead of sending it.
// Useful if you can't send email or don't want a very full inbox.
type DumpMailer struct {
	Out io.Writer
}

// Send prints the message and reports success.
func (m *DumpMailer) Send(ctx context.Context, msg *Message) error {
	_, err := fmt.Fprintf(m.Out, "To: %s\nSubject: %s\nHeaders: %s\nContent:\n\n%s\n",
		msg.To, msg.Subject, flattenHeaders(msg.headers()), msg.Body)

	return err
}
