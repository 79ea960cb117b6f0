package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

// EmailConfig contains SMTP configuration.
type EmailConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	Username    string   `mapstructure:"username"`
	PasswordRef string   `mapstructure:"password_ref"`
	From        string   `mapstructure:"from"`
	To          []string `mapstructure:"to"`
}

type emailNotifier struct {
	id       string
	cfg      EmailConfig
	password string
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(id string, cfg EmailConfig, secrets map[string]string) (Notifier, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 465
	}
	pass, err := secretRef(secrets, cfg.PasswordRef)
	if err != nil {
		return nil, err
	}
	return &emailNotifier{
		id:       id,
		cfg:      cfg,
		password: pass,
	}, nil
}

func (e *emailNotifier) ID() string {
	return e.id
}

func (e *emailNotifier) Notify(ctx context.Context, event Event) error {
	em := e.message(event)
	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.password, e.cfg.SMTPHost)
	}
	tlsConfig := &tls.Config{
		ServerName: e.cfg.SMTPHost,
	}
	errc := make(chan error, 1)
	go func() { errc <- em.SendWithTLS(addr, auth, tlsConfig) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *emailNotifier) message(event Event) *email.Email {
	var body strings.Builder
	fmt.Fprintf(&body, "%s\n\n%s\n\n", event.Title(), event.Summary)
	for _, line := range event.Lines() {
		fmt.Fprintf(&body, "  - %s\n", line)
	}
	fmt.Fprintf(&body, "\nRealm: %s (%d total, %d ok, %d failing)\nRun: %s\n",
		event.RealmStatus, event.Totals.Total, event.Totals.Success, event.Totals.Failure, event.RunID)

	em := email.NewEmail()
	em.From = e.cfg.From
	em.To = append([]string{}, e.cfg.To...)
	em.Subject = event.Title()
	em.Text = []byte(body.String())
	return em
}
