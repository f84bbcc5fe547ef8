// Package notify fans accepted security events out to alert channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/home-vision-ai/homevision/internal/bus"
	"github.com/home-vision-ai/homevision/internal/config"
	"github.com/home-vision-ai/homevision/internal/nvr"
)

// Channel delivers one event to an external alert target
type Channel interface {
	Name() string
	Send(ctx context.Context, ev nvr.Event) error
}

// Notifier consumes pipeline events and delivers alerts, subject to
// quiet hours and an hourly rate cap.
type Notifier struct {
	cfg      config.NotificationsConfig
	channels []Channel
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	hourStart time.Time
	sentHour  int
}

// New creates a notifier with the given channels
func New(cfg config.NotificationsConfig, channels ...Channel) *Notifier {
	return &Notifier{
		cfg:      cfg,
		channels: channels,
		logger:   slog.Default().With("component", "notifier"),
		now:      time.Now,
	}
}

// FromConfig builds a notifier with the channels enabled in config
func FromConfig(cfg config.NotificationsConfig) (*Notifier, error) {
	var channels []Channel

	if cfg.Channels.Webhook.Enabled {
		channels = append(channels, NewWebhookChannel(cfg.Channels.Webhook))
	}
	if cfg.Channels.MQTT.Enabled {
		ch, err := NewMQTTChannel(cfg.Channels.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to set up MQTT channel: %w", err)
		}
		channels = append(channels, ch)
	}

	return New(cfg, channels...), nil
}

// AttachBus subscribes the notifier to per-camera event subjects
func (n *Notifier) AttachBus(b *bus.Bus) error {
	_, err := b.Subscribe(bus.SubjectEvents, func(msg *nats.Msg) {
		var ev nvr.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.logger.Error("Failed to decode event", "subject", msg.Subject, "error", err)
			return
		}
		n.Notify(context.Background(), ev)
	})
	return err
}

// Close releases channel resources, such as the MQTT connection
func (n *Notifier) Close() {
	for _, ch := range n.channels {
		if closer, ok := ch.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

// Notify delivers one event to all channels if policy allows
func (n *Notifier) Notify(ctx context.Context, ev nvr.Event) {
	if !n.cfg.Enabled || len(n.channels) == 0 {
		return
	}

	now := n.now()
	if n.inQuietHours(now) {
		n.logger.Debug("Alert suppressed by quiet hours", "event_id", ev.ID)
		return
	}
	if !n.allowSend(now) {
		n.logger.Warn("Alert suppressed by hourly cap", "event_id", ev.ID, "cap", n.cfg.MaxPerHour)
		return
	}

	for _, ch := range n.channels {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := ch.Send(sendCtx, ev)
		cancel()
		if err != nil {
			n.logger.Error("Alert delivery failed", "channel", ch.Name(), "event_id", ev.ID, "error", err)
			continue
		}
		n.logger.Info("Alert sent", "channel", ch.Name(), "event_id", ev.ID, "type", ev.Type)
	}
}

// inQuietHours reports whether now falls inside the configured quiet
// window. Windows may span midnight, e.g. 22:00 to 07:00.
func (n *Notifier) inQuietHours(now time.Time) bool {
	qh := n.cfg.QuietHours
	if !qh.Enabled {
		return false
	}

	start, err1 := parseClock(qh.Start)
	end, err2 := parseClock(qh.End)
	if err1 != nil || err2 != nil {
		n.logger.Warn("Invalid quiet hours configuration", "start", qh.Start, "end", qh.End)
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

// allowSend enforces the per-hour cap with a fixed hourly window
func (n *Notifier) allowSend(now time.Time) bool {
	if n.cfg.MaxPerHour <= 0 {
		return true
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	hour := now.Truncate(time.Hour)
	if !hour.Equal(n.hourStart) {
		n.hourStart = hour
		n.sentHour = 0
	}
	if n.sentHour >= n.cfg.MaxPerHour {
		return false
	}
	n.sentHour++
	return true
}

// parseClock converts "HH:MM" to minutes since midnight
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return h*60 + m, nil
}
