package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const vonageSMSEndpoint = "https://rest.nexmo.com/sms/json"

// SMSConfig configures Vonage SMS delivery.
type SMSConfig struct {
	APIKey        string   `mapstructure:"api_key"`
	APIKeyRef     string   `mapstructure:"api_key_ref"`
	APISecret     string   `mapstructure:"api_secret"`
	APISecretRef  string   `mapstructure:"api_secret_ref"`
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	MessagePrefix string   `mapstructure:"message_prefix"`
	Endpoint      string   `mapstructure:"endpoint"`
}

type smsNotifier struct {
	id        string
	cfg       SMSConfig
	apiKey    string
	apiSecret string
	client    *http.Client
}

// NewSMSNotifier constructs a Vonage (Nexmo) SMS notifier.
func NewSMSNotifier(id string, cfg SMSConfig, secrets map[string]string) (Notifier, error) {
	apiKey, err := inlineOrRef(cfg.APIKey, cfg.APIKeyRef, secrets)
	if err != nil {
		return nil, fmt.Errorf("sms: %w", err)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("sms: api_key or api_key_ref required")
	}
	apiSecret, err := inlineOrRef(cfg.APISecret, cfg.APISecretRef, secrets)
	if err != nil {
		return nil, fmt.Errorf("sms: %w", err)
	}
	if apiSecret == "" {
		return nil, fmt.Errorf("sms: api_secret or api_secret_ref required")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("sms: at least one recipient is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = vonageSMSEndpoint
	}
	return &smsNotifier{
		id:        id,
		cfg:       cfg,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func inlineOrRef(inline, ref string, secrets map[string]string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	return secretRef(secrets, ref)
}

func (s *smsNotifier) ID() string {
	return s.id
}

// Notify sends a single short message; SMS bodies carry counts, not triples.
func (s *smsNotifier) Notify(ctx context.Context, event Event) error {
	body := fmt.Sprintf("%s realm=%s failing=%d/%d run=%s",
		event.Title(),
		event.RealmStatus,
		event.Totals.Failure,
		event.Totals.Total,
		event.RunID,
	)
	if s.cfg.MessagePrefix != "" {
		body = fmt.Sprintf("%s %s", s.cfg.MessagePrefix, body)
	}
	for _, to := range s.cfg.To {
		if err := s.sendMessage(ctx, to, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *smsNotifier) sendMessage(ctx context.Context, to, message string) error {
	form := url.Values{}
	form.Set("api_key", s.apiKey)
	form.Set("api_secret", s.apiSecret)
	form.Set("to", to)
	form.Set("from", s.cfg.From)
	form.Set("text", message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vonage sms failed: %s", resp.Status)
	}
	return nil
}
