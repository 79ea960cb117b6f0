package notifier

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/osbits/uptimer/internal/config"
	"github.com/osbits/uptimer/internal/render"
)

// Factory carries what notifier constructors need beyond their own config.
type Factory struct {
	Secrets map[string]string
	Render  *render.Engine
}

// Registry stores notifiers by ID.
type Registry struct {
	items map[string]Notifier
}

// NewRegistry creates a registry.
func NewRegistry() *Registry {
	return &Registry{
		items: map[string]Notifier{},
	}
}

// Add stores a notifier.
func (r *Registry) Add(n Notifier) error {
	if _, exists := r.items[n.ID()]; exists {
		return fmt.Errorf("duplicate notifier %q", n.ID())
	}
	r.items[n.ID()] = n
	return nil
}

// Get returns notifier by id.
func (r *Registry) Get(id string) (Notifier, bool) {
	n, ok := r.items[id]
	return n, ok
}

// All returns the notifiers ordered by ID.
func (r *Registry) All() []Notifier {
	out := make([]Notifier, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered notifiers.
func (r *Registry) Len() int {
	return len(r.items)
}

// Build constructs notifiers from config.
func Build(factory Factory, configs []config.NotifierConfig) (*Registry, error) {
	if factory.Render == nil {
		factory.Render = render.New()
	}
	reg := NewRegistry()
	for _, cfg := range configs {
		n, err := buildNotifier(factory, cfg)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", cfg.ID, err)
		}
		if err := reg.Add(n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildNotifier(factory Factory, cfg config.NotifierConfig) (Notifier, error) {
	switch cfg.Type {
	case "email":
		var nc EmailConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewEmailNotifier(cfg.ID, nc, factory.Secrets)
	case "sms":
		var nc SMSConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewSMSNotifier(cfg.ID, nc, factory.Secrets)
	case "webhook":
		var nc WebhookConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewWebhookNotifier(cfg.ID, nc, factory.Secrets, factory.Render)
	case "telegram":
		var nc TelegramConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewTelegramNotifier(cfg.ID, nc, factory.Secrets)
	case "discord":
		var nc DiscordConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewDiscordNotifier(cfg.ID, nc, factory.Secrets)
	default:
		return nil, fmt.Errorf("unsupported notifier type %q", cfg.Type)
	}
}

func decode(input map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func secretRef(secrets map[string]string, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	val, ok := secrets[ref]
	if !ok {
		return "", fmt.Errorf("missing secret %q", ref)
	}
	return val, nil
}
