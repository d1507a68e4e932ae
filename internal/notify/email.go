package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends a plain-text summary over SMTP.
type EmailSink struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string

	send SendMailFunc
}

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

func NewEmailSink(cfg EmailConfig) (*EmailSink, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("notify: email requires host, from and at least one recipient")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &EmailSink{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		send:     smtp.SendMail,
	}, nil
}

func (s *EmailSink) Name() string { return "email" }

// Send runs the blocking SMTP exchange in a goroutine so ctx cancellation is honored.
func (s *EmailSink) Send(ctx context.Context, e Event) error {
	msg := s.message(e)
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, s.from, s.to, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EmailSink) message(e Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", EmailSubject(e))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(EmailBody(e), "\n", "\r\n"))
	return []byte(b.String())
}

func EmailSubject(e Event) string {
	if e.Call.NoRecording {
		return "Call Summary: " + callerLabel(e.Call) + " - No Recording"
	}
	return "Call Summary: " + callerLabel(e.Call) + " - " + titleCase(string(e.Summary.Sentiment))
}

func EmailBody(e Event) string {
	c := e.Call
	var b strings.Builder
	b.WriteString("CALL SUMMARY\n\n")
	fmt.Fprintf(&b, "Caller: %s\n", callerLabel(c))
	fmt.Fprintf(&b, "Direction: %s\n", titleCase(string(c.Direction)))
	fmt.Fprintf(&b, "Duration: %dm %ds\n", c.DurationSeconds/60, c.DurationSeconds%60)
	fmt.Fprintf(&b, "Time: %s\n", c.StartTime.UTC().Format(time.RFC1123))

	if c.NoRecording {
		b.WriteString("\nNo recording was available for this call.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nSUMMARY\n%s\n", e.Summary.Summary)
	fmt.Fprintf(&b, "\nSentiment: %s\n", titleCase(string(e.Summary.Sentiment)))
	fmt.Fprintf(&b, "Urgency: %s\n", urgencyLabel(e.Summary.UrgencyScore))
	if len(e.Summary.KeyTopics) > 0 {
		fmt.Fprintf(&b, "Key topics: %s\n", strings.Join(e.Summary.KeyTopics, ", "))
	}

	if len(e.ActionItems) > 0 {
		fmt.Fprintf(&b, "\nACTION ITEMS (%d)\n", len(e.ActionItems))
		for i, it := range e.ActionItems {
			fmt.Fprintf(&b, "%d. %s (Priority: %d/5)", i+1, it.Description, it.Priority)
			if it.AssignedTo != "" {
				fmt.Fprintf(&b, " - %s", it.AssignedTo)
			}
			if it.DueDate != nil {
				fmt.Fprintf(&b, " due %s", it.DueDate.UTC().Format("2006-01-02"))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
