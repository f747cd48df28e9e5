package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/orchestrator"
	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/version"
)

// handleMetrics returns Prometheus-compatible metrics in text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.world.Stats()
	state := s.world.State()

	worldLoaded := 0
	objects := 0
	if cur, ok := s.world.Current(); ok {
		worldLoaded = 1
		if cur.World != nil {
			objects = cur.World.Objects
		}
	}
	nodes := 0
	s.world.Graph().Read(func(root *scene.Node) {
		nodes = root.Count()
	})

	busy := 0
	if stats.Busy {
		busy = 1
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`room="%s",instance="%s",version="%s"`, s.opts.RoomID, hostname, version.Version)

	writeMetric("sutera_uptime_seconds", "gauge",
		"Number of seconds since the loader started", time.Since(s.started).Seconds(), labels)
	writeMetric("sutera_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("sutera_world_loads_total", "counter",
		"Number of world load runs", stats.Loads, labels)
	writeMetric("sutera_world_load_failures_total", "counter",
		"Number of world load runs that failed", stats.Failures, labels)
	writeMetric("sutera_world_load_in_progress", "gauge",
		"Whether a world load is running (1) or not (0)", busy, labels)
	writeMetric("sutera_world_last_load_seconds", "gauge",
		"Duration of the most recent world load", stats.LastDuration.Seconds(), labels)
	writeMetric("sutera_world_loaded", "gauge",
		"Whether a world is live (1) or not (0)", worldLoaded, labels)
	writeMetric("sutera_world_stale", "gauge",
		"Whether the latest load failed while an older world stayed live", boolGauge(state == orchestrator.StateStale), labels)
	writeMetric("sutera_world_objects", "gauge",
		"Number of objects in the live world", objects, labels)
	writeMetric("sutera_scene_nodes", "gauge",
		"Number of nodes in the live scene graph", nodes, labels)
	writeMetric("sutera_event_subscribers", "gauge",
		"Number of active event subscribers", events.SubscriberCount(), labels)
	writeMetric("sutera_events_dropped_total", "counter",
		"Events not delivered because a subscriber was full", events.Dropped(), labels)

	if s.opts.MQTTConnected != nil {
		writeMetric("sutera_mqtt_connected", "gauge",
			"Whether MQTT broker is connected (1) or not (0)", boolGauge(s.opts.MQTTConnected()), labels)
	}
	if s.opts.PostgresPing != nil {
		writeMetric("sutera_postgres_connected", "gauge",
			"Whether PostgreSQL is connected (1) or not (0)", boolGauge(s.opts.PostgresPing(r.Context()) == nil), labels)
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
