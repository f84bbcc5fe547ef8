package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

// alertPayload is the wire format shared by all channels
type alertPayload struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CameraID   string    `json:"camera_id"`
	ObjectType string    `json:"object_type,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	ZoneName   string    `json:"zone_name,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
}

func buildPayload(ev nvr.Event) alertPayload {
	var msg string
	switch ev.Type {
	case nvr.EventZoneViolation:
		msg = fmt.Sprintf("%s entered restricted zone %s on camera %s", ev.ObjectType, ev.ZoneName, ev.CameraID)
	case nvr.EventLoitering:
		msg = fmt.Sprintf("%s loitering for %.0f seconds on camera %s", ev.ObjectType, ev.Duration, ev.CameraID)
	default:
		msg = fmt.Sprintf("%s detected on camera %s", ev.ObjectType, ev.CameraID)
	}
	return alertPayload{
		ID:         ev.ID,
		Type:       string(ev.Type),
		CameraID:   ev.CameraID,
		ObjectType: ev.ObjectType,
		Confidence: ev.Confidence,
		ZoneName:   ev.ZoneName,
		Duration:   ev.Duration,
		Timestamp:  ev.Timestamp,
		Message:    msg,
	}
}

// WebhookChannel POSTs alerts as JSON to a configured URL
type WebhookChannel struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel name
func (c *WebhookChannel) Name() string { return "webhook" }

// Send delivers one alert
func (c *WebhookChannel) Send(ctx context.Context, ev nvr.Event) error {
	body, err := json.Marshal(buildPayload(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MQTTChannel publishes alerts to an MQTT topic
type MQTTChannel struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// NewMQTTChannel connects to the broker and returns the channel
func NewMQTTChannel(cfg config.MQTTConfig) (*MQTTChannel, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "homevision/events"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "homevision"
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTChannel{cfg: cfg, client: client}, nil
}

// Name returns the channel name
func (c *MQTTChannel) Name() string { return "mqtt" }

// Send publishes one alert to the configured topic
func (c *MQTTChannel) Send(ctx context.Context, ev nvr.Event) error {
	body, err := json.Marshal(buildPayload(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := c.client.Publish(c.cfg.Topic, 0, false, body)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker
func (c *MQTTChannel) Close() {
	c.client.Disconnect(250)
}
