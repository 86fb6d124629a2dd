package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SubjectPrefix is prepended to every email subject for filtering.
const SubjectPrefix = "Monitoring Report: "

// Recipient validation errors.
var (
	ErrNoRecipients     = errors.New("no email recipients configured")
	ErrRecipientSpaces  = errors.New("spaces in email address")
	ErrRecipientComma   = errors.New("comma in email address, use ';' to separate addresses")
	ErrRecipientAt      = errors.New("no or more than one '@' sign in email address")
	ErrRecipientNoDot   = errors.New("no '.' after the '@' sign")
	ErrRecipientNoLabel = errors.New("no text between '@' and '.', or after '.'")
)

// ParseRecipients splits a ';' separated address list and validates each
// address. It does not check that an address exists.
func ParseRecipients(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, ErrNoRecipients
	}
	var out []string
	for _, raw := range strings.Split(list, ";") {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		if err := validateAddress(addr); err != nil {
			return nil, fmt.Errorf("email %q is not a valid email address: %w", raw, err)
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}

func validateAddress(addr string) error {
	if strings.ContainsAny(addr, " \t") {
		return ErrRecipientSpaces
	}
	if strings.Contains(addr, ",") {
		return ErrRecipientComma
	}
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return ErrRecipientAt
	}
	labels := strings.Split(parts[1], ".")
	if len(labels) == 1 {
		return ErrRecipientNoDot
	}
	if labels[0] == "" || labels[1] == "" {
		return ErrRecipientNoLabel
	}
	return nil
}

// EmailConfig configures the SMTP sink.
type EmailConfig struct {
	// Addr is host:port of the SMTP relay.
	Addr       string
	From       string
	Username   string
	Password   string
	Recipients []string
	// Root resolves job directories to absolute paths in the report header.
	Root string
}

// EmailSink mails reports to the configured recipients.
type EmailSink struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewEmailSink creates an email sink.
func NewEmailSink(cfg EmailConfig) (*EmailSink, error) {
	if len(cfg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:25"
	}
	if cfg.From == "" {
		cfg.From = "simwatch@localhost"
	}
	return &EmailSink{cfg: cfg, send: smtp.SendMail, now: time.Now}, nil
}

// Name implements Sink.
func (e *EmailSink) Name() string { return "email" }

// Deliver implements Sink.
func (e *EmailSink) Deliver(_ context.Context, m Message) error {
	if m.NoEmail {
		return nil
	}
	location := e.location(m.Dir)
	msg, err := e.compose(m, location)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if e.cfg.Username != "" {
		host := e.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, host)
	}
	return e.send(e.cfg.Addr, auth, e.cfg.From, e.cfg.Recipients, msg)
}

func (e *EmailSink) location(dir string) string {
	p := filepath.Join(e.cfg.Root, dir)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p
}

// EmailSubject returns the subject line for a report.
func EmailSubject(m Message, location string) string {
	if m.Subject != "" {
		return SubjectPrefix + m.Subject
	}
	switch {
	case strings.Contains(m.Text, "Error"):
		return SubjectPrefix + "Error encountered"
	case strings.Contains(m.Text, "flagged as fixed"):
		return SubjectPrefix + "Simulation manually fixed"
	case strings.Contains(m.Text, "submitted"):
		return SubjectPrefix + "Successful submission to queue"
	case strings.Contains(m.Text, "FINISHED"):
		return SubjectPrefix + "Simulation finished"
	case strings.Contains(m.Text, "All simulations have"):
		return SubjectPrefix + "All simulations finished"
	}
	return SubjectPrefix + "Regarding " + location
}

// EmailBody returns the plain text body of a report.
func EmailBody(m Message, location string) string {
	report := "# Automated report regarding: "
	dir := "# " + location + "/"
	width := max(len(report)+1, len(dir)+2)
	hashes := strings.Repeat("#", width)

	var b strings.Builder
	b.WriteString(hashes + "\n")
	b.WriteString(padLine(report, width) + "\n")
	b.WriteString(padLine(dir, width) + "\n")
	b.WriteString(hashes + "\n\n")
	switch {
	case strings.HasPrefix(m.Text, "Error"):
		b.WriteString("The following error was encountered:\n")
	case strings.Contains(m.Text, "reached its final time: FINISHED"):
		b.WriteString("The following simulation has reached its finish time:\n")
	}
	b.WriteString(m.Text + "\n")
	return b.String()
}

func padLine(s string, width int) string {
	return s + strings.Repeat(" ", width-len(s)-1) + "#"
}

func (e *EmailSink) compose(m Message, location string) ([]byte, error) {
	body := EmailBody(m, location)
	var attach []string
	for _, a := range m.Attachments {
		if _, err := os.Stat(a); err != nil {
			body += "This email was flagged to attach the following file:\n     " + a +
				".\nThis file does not exist/could not be found and therefore could not be attached to this email.\n"
			continue
		}
		attach = append(attach, a)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.cfg.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", EmailSubject(m, location)))
	fmt.Fprintf(&buf, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, err
	}

	for _, a := range attach {
		data, err := os.ReadFile(a)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", a, err)
		}
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/octet-stream"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filepath.Base(a))},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
