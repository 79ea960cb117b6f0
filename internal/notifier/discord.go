package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord rejects message content longer than this.
const discordContentLimit = 2000

// DiscordConfig configures Discord webhook.
type DiscordConfig struct {
	WebhookURLRef string `mapstructure:"webhook_url_ref"`
	Username      string `mapstructure:"username"`
}

type discordNotifier struct {
	id     string
	cfg    DiscordConfig
	url    string
	client *http.Client
}

// NewDiscordNotifier constructs Discord notifier.
func NewDiscordNotifier(id string, cfg DiscordConfig, secrets map[string]string) (Notifier, error) {
	if cfg.WebhookURLRef == "" {
		return nil, fmt.Errorf("webhook_url_ref is required")
	}
	url, err := secretRef(secrets, cfg.WebhookURLRef)
	if err != nil {
		return nil, err
	}
	return &discordNotifier{
		id:  id,
		cfg: cfg,
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (d *discordNotifier) ID() string {
	return d.id
}

func (d *discordNotifier) Notify(ctx context.Context, event Event) error {
	content := fmt.Sprintf("**%s**\n%s\n%s\nRealm: %s | Run: %s",
		event.Title(),
		event.Summary,
		strings.Join(event.Lines(), "\n"),
		event.RealmStatus,
		event.RunID)
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit-3] + "..."
	}
	payload := map[string]interface{}{
		"content": content,
	}
	if d.cfg.Username != "" {
		payload["username"] = d.cfg.Username
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook: %s", resp.Status)
	}
	return nil
}
