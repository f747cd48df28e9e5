package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sutera/worldloader/internal/events"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertWorldLoadFailed     = "world_load_failed"
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Room      string                 `json:"room"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AlertOptions configures an Alerter. Delays are how long a dependency
// must stay down before an alert goes out.
type AlertOptions struct {
	WebhookURL    string
	RoomID        string
	MQTTDelay     time.Duration
	PostgresDelay time.Duration
}

// outage tracks one dependency between checks.
type outage struct {
	since time.Time
	sent  bool
}

// Alerter posts operational alerts to a webhook. Without a webhook URL
// alerts are only logged.
type Alerter struct {
	opts   AlertOptions
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	outages map[string]*outage
	wg      sync.WaitGroup
}

// NewAlerter creates an alerter.
func NewAlerter(opts AlertOptions) *Alerter {
	if opts.RoomID == "" {
		opts.RoomID = "unknown"
	}
	return &Alerter{
		opts:    opts,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		outages: make(map[string]*outage),
	}
}

// Send delivers an alert in the background.
func (a *Alerter) Send(event, severity, message string, details map[string]interface{}) {
	if a.opts.WebhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", event, severity, message, details)
		return
	}
	p := AlertPayload{
		Room:      a.opts.RoomID,
		Event:     event,
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.post(p); err != nil {
			log.Printf("alert: %v", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) post(p AlertPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resp, err := a.client.Post(a.opts.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Check records the state of a dependency. An alert is sent once it has
// been down for delay, and a recovery notice once it comes back.
func (a *Alerter) Check(event string, up bool, delay time.Duration, severity, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	o := a.outages[event]
	if up {
		if o != nil && o.sent {
			a.Send(event, SeverityInfo, message+" restored", map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		delete(a.outages, event)
		return
	}

	if o == nil {
		o = &outage{since: now}
		a.outages[event] = o
	}
	if !o.sent && now.Sub(o.since) >= delay {
		o.sent = true
		a.Send(event, severity, message+" unavailable", map[string]interface{}{
			"disconnected_since":   o.since.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(now.Sub(o.since).Seconds()),
		})
	}
}

// Monitor checks MQTT and Postgres every interval until ctx is done. Nil
// checks are skipped.
func (a *Alerter) Monitor(ctx context.Context, interval time.Duration, mqttUp func() bool, pgPing func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if mqttUp != nil {
			a.Check(AlertMQTTDisconnected, mqttUp(), a.opts.MQTTDelay, SeverityWarning, "MQTT broker")
		}
		if pgPing != nil {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := pgPing(pctx)
			cancel()
			a.Check(AlertPostgresUnavailable, err == nil, a.opts.PostgresDelay, SeverityCritical, "PostgreSQL")
		}
	}
}

// WatchLoads alerts on every failed world load until ctx is done.
func (a *Alerter) WatchLoads(ctx context.Context) {
	sub := events.Subscribe("world.load.failed")
	defer events.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			a.Send(AlertWorldLoadFailed, SeverityWarning, e.Message, e.Fields)
		}
	}
}
