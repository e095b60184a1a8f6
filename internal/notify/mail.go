package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/ocx/elevate/internal/clients"
)

// MailSink mails approval requests to reviewers and approval confirmations to
// beneficiaries through an SMTP relay. The relay password is read from the
// secret store at first send and cached for the process lifetime.
type MailSink struct {
	host       string
	port       int
	sender     string
	username   string
	secrets    clients.SecretStore
	secretPath string
	logger     *log.Logger

	password string
	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailSink(host string, port int, sender, username string,
	secrets clients.SecretStore, secretPath string) *MailSink {
	return &MailSink{
		host:       host,
		port:       port,
		sender:     sender,
		username:   username,
		secrets:    secrets,
		secretPath: secretPath,
		logger:     log.New(log.Writer(), "[MAIL] ", log.LstdFlags),
		send:       smtp.SendMail,
	}
}

func (s *MailSink) Name() string { return "smtp" }

func (s *MailSink) CanSend() bool { return s.host != "" && s.sender != "" }

func (s *MailSink) Send(ctx context.Context, event *Event) error {
	recipients, subject, body := renderMail(event)
	if len(recipients) == 0 {
		return nil
	}
	auth, err := s.auth(ctx)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.sender, strings.Join(recipients, ", "), subject, body)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.send(addr, auth, s.sender, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send %s: %w", event.ID, err)
	}
	s.logger.Printf("sent %s to %d recipient(s)", event.Type, len(recipients))
	return nil
}

func (s *MailSink) auth(ctx context.Context) (smtp.Auth, error) {
	if s.username == "" {
		return nil, nil
	}
	if s.password == "" && s.secrets != nil && s.secretPath != "" {
		data, err := s.secrets.AccessSecret(ctx, s.secretPath)
		if err != nil {
			return nil, err
		}
		s.password = strings.TrimSpace(string(data))
	}
	return smtp.PlainAuth("", s.username, s.password, s.host), nil
}

func renderMail(event *Event) (recipients []string, subject, body string) {
	window := fmt.Sprintf("%s to %s",
		event.StartTime.UTC().Format(time.RFC1123),
		event.EndTime.UTC().Format(time.RFC1123))
	roles := strings.Join(event.Roles, ", ")

	switch event.Type {
	case EventRequestActivation:
		recipients = event.Reviewers
		subject = fmt.Sprintf("%s asks for %s on %s", event.Beneficiary, roles, event.Project)
		body = fmt.Sprintf(
			"%s requests temporary access to %s on project %s.\r\n\r\n"+
				"Justification: %s\r\nWindow: %s\r\n\r\n"+
				"Approve here before %s:\r\n%s\r\n",
			event.Beneficiary, roles, event.Project,
			event.Justification, window,
			event.ExpiresAt.UTC().Format(time.RFC1123), event.ApprovalURL)
	case EventActivationApproved:
		recipients = append([]string{event.Beneficiary}, event.Reviewers...)
		subject = fmt.Sprintf("%s approved %s on %s", event.Approver, roles, event.Project)
		body = fmt.Sprintf(
			"%s approved temporary access to %s on project %s for %s.\r\n\r\n"+
				"Justification: %s\r\nWindow: %s\r\n",
			event.Approver, roles, event.Project, event.Beneficiary,
			event.Justification, window)
	}
	return recipients, subject, body
}
