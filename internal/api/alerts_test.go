package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sutera/worldloader/internal/events"
)

// webhook collects posted alerts.
func webhook(t *testing.T) (string, <-chan AlertPayload) {
	t.Helper()
	ch := make(chan AlertPayload, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p AlertPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("bad alert body: %v", err)
		}
		ch <- p
	}))
	t.Cleanup(srv.Close)
	return srv.URL, ch
}

func expectAlert(t *testing.T, ch <-chan AlertPayload) AlertPayload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return AlertPayload{}
	}
}

func TestAlerterSend(t *testing.T) {
	url, ch := webhook(t)
	a := NewAlerter(AlertOptions{WebhookURL: url, RoomID: "lobby"})

	a.Send(AlertWorldLoadFailed, SeverityWarning, "boom", map[string]interface{}{"kind": "parse_failed"})
	p := expectAlert(t, ch)
	if p.Room != "lobby" || p.Event != AlertWorldLoadFailed || p.Severity != SeverityWarning || p.Details["kind"] != "parse_failed" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestAlerterCheckWaitsForDelay(t *testing.T) {
	url, ch := webhook(t)
	a := NewAlerter(AlertOptions{WebhookURL: url})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.Check(AlertMQTTDisconnected, false, 30*time.Second, SeverityWarning, "MQTT broker")
	now = now.Add(10 * time.Second)
	a.Check(AlertMQTTDisconnected, false, 30*time.Second, SeverityWarning, "MQTT broker")
	a.Wait()
	if len(ch) != 0 {
		t.Fatal("alert sent before the delay elapsed")
	}

	now = now.Add(25 * time.Second)
	a.Check(AlertMQTTDisconnected, false, 30*time.Second, SeverityWarning, "MQTT broker")
	p := expectAlert(t, ch)
	if p.Severity != SeverityWarning || p.Message != "MQTT broker unavailable" || p.Details["disconnected_seconds"] != 35.0 {
		t.Errorf("unexpected payload %+v", p)
	}

	// Still down: no repeat.
	now = now.Add(time.Minute)
	a.Check(AlertMQTTDisconnected, false, 30*time.Second, SeverityWarning, "MQTT broker")
	a.Wait()
	if len(ch) != 0 {
		t.Error("alert repeated during the same outage")
	}

	a.Check(AlertMQTTDisconnected, true, 30*time.Second, SeverityWarning, "MQTT broker")
	if p := expectAlert(t, ch); p.Severity != SeverityInfo || p.Message != "MQTT broker restored" {
		t.Errorf("unexpected recovery %+v", p)
	}
}

func TestAlerterShortOutageIsQuiet(t *testing.T) {
	url, ch := webhook(t)
	a := NewAlerter(AlertOptions{WebhookURL: url})

	a.Check(AlertPostgresUnavailable, false, time.Hour, SeverityCritical, "PostgreSQL")
	a.Check(AlertPostgresUnavailable, true, time.Hour, SeverityCritical, "PostgreSQL")
	a.Wait()
	if len(ch) != 0 {
		t.Error("no alert expected for an outage shorter than the delay")
	}
}

func TestAlerterWatchLoads(t *testing.T) {
	url, ch := webhook(t)
	a := NewAlerter(AlertOptions{WebhookURL: url})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := events.SubscriberCount()
	go a.WatchLoads(ctx)
	waitFor(t, 2*time.Second, func() bool {
		return events.SubscriberCount() > before
	}, "alerter subscription")

	events.Emit("info", "world.load.completed", "", nil)
	events.Emit("error", "world.load.failed", "world: unsupported object type", map[string]interface{}{"kind": "unsupported_object_type"})

	p := expectAlert(t, ch)
	if p.Event != AlertWorldLoadFailed || p.Message != "world: unsupported object type" || p.Details["kind"] != "unsupported_object_type" {
		t.Errorf("unexpected payload %+v", p)
	}
}
