package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
)

const (
	PlatformGeneric  = "generic"
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
)

const defaultWebhookTemplate = `{{.Entry.Type}} call {{.Entry.PhoneNumber}} ({{.Entry.FinalStatus}}, {{.Entry.DurationSeconds}}s)`

type WebhookConfig struct {
	URL       string
	Platform  string
	// Template is a text/template executed against the Event.
	Template  string
	ChannelID string
	Timeout   time.Duration
}

// WebhookPublisher posts finished calls to a chat or HTTP endpoint.
// Notices are not forwarded.
type WebhookPublisher struct {
	cfg    WebhookConfig
	tmpl   *template.Template
	client *http.Client
	log    *zap.SugaredLogger
}

func NewWebhookPublisher(cfg WebhookConfig, log *zap.SugaredLogger) (*WebhookPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Template == "" {
		cfg.Template = defaultWebhookTemplate
	}
	if cfg.Platform == "" {
		cfg.Platform = PlatformGeneric
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	tmpl, err := template.New("msg").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}
	return &WebhookPublisher{
		cfg:    cfg,
		tmpl:   tmpl,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, e Event) error {
	if e.Kind != KindCallEnded || e.Entry == nil {
		return nil
	}

	payload, err := p.payload(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	p.log.Debugf("Webhook sent for call %s", e.Entry.ID)
	return nil
}

func (p *WebhookPublisher) payload(e Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, e); err != nil {
		return nil, fmt.Errorf("render webhook template: %w", err)
	}
	text := buf.String()

	var body map[string]any
	switch {
	case p.cfg.Platform == PlatformSlack || strings.Contains(p.cfg.URL, "slack.com"):
		body = map[string]any{"text": text}
	case p.cfg.Platform == PlatformTelegram:
		body = map[string]any{
			"text":       text,
			"parse_mode": "Markdown",
		}
		if p.cfg.ChannelID != "" {
			body["chat_id"] = p.cfg.ChannelID
		}
	default:
		body = map[string]any{
			"text":  text,
			"event": e,
		}
	}
	return json.Marshal(body)
}

func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Multi publishes to every member and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
