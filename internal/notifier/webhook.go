package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/osbits/uptimer/internal/render"
)

const defaultWebhookTemplate = `{{ to_json . }}`

// WebhookConfig represents a generic webhook notifier.
type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Headers  map[string]string `mapstructure:"headers"`
	Template string            `mapstructure:"template"`
}

type webhookNotifier struct {
	id       string
	cfg      WebhookConfig
	secrets  map[string]string
	renderer *render.Engine
	client   *http.Client
}

// NewWebhookNotifier creates a webhook notifier. The URL, headers and body are
// templates rendered against the event.
func NewWebhookNotifier(id string, cfg WebhookConfig, secrets map[string]string, engine *render.Engine) (Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if cfg.Template == "" {
		cfg.Template = defaultWebhookTemplate
	}
	if engine == nil {
		engine = render.New()
	}
	return &webhookNotifier{
		id:       id,
		cfg:      cfg,
		secrets:  secrets,
		renderer: engine,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (w *webhookNotifier) ID() string {
	return w.id
}

func (w *webhookNotifier) Notify(ctx context.Context, event Event) error {
	method := w.cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	ctxRender := render.TemplateContext{
		Secrets: w.secrets,
		Data:    event.Data(),
	}
	url, err := w.renderer.RenderString(w.cfg.URL, ctxRender)
	if err != nil {
		return fmt.Errorf("render url: %w", err)
	}
	payload, err := w.renderer.RenderString(w.cfg.Template, ctxRender)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBufferString(payload))
	if err != nil {
		return err
	}
	if len(w.cfg.Headers) > 0 {
		headers, err := w.renderer.RenderMap(w.cfg.Headers, ctxRender)
		if err != nil {
			return fmt.Errorf("render headers: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		if strings.HasPrefix(strings.TrimSpace(payload), "{") {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "text/plain")
		}
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook response: %s", resp.Status)
	}
	return nil
}
