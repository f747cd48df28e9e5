package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	SetOutput(io.Discard)
	os.Exit(m.Run())
}

type appended struct {
	event  string
	loadID string
}

type fakeStore struct {
	mu   sync.Mutex
	rows []appended
	err  error
}

func (s *fakeStore) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, loadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, appended{event: event, loadID: loadID})
	return s.err
}

func TestEmitRejectsUnknownEvent(t *testing.T) {
	Clear()
	if _, err := Emit("info", "node.started", "", nil); err == nil {
		t.Fatal("expected error for unregistered event")
	}
	if TotalCount() != 0 {
		t.Errorf("rejected event was buffered")
	}
}

func TestEmitWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(io.Discard)

	b, err := Emit("error", "world.load.failed", "world: missing key \"model\"", map[string]interface{}{"kind": "key_missing"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Name != "world.load.failed" || e.Level != "error" || e.Fields["kind"] != "key_missing" {
		t.Errorf("unexpected event %+v", e)
	}
	if got, want := buf.String(), string(b)+"\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEmitPersistsWithLoadID(t *testing.T) {
	s := &fakeStore{}
	SetStore(s)
	defer SetStore(nil)

	Emit("info", "world.load.started", "", map[string]interface{}{"load_id": "abc", "path": "w.yaml"})
	Emit("info", "system.startup", "", nil)

	if len(s.rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(s.rows))
	}
	if s.rows[0].loadID != "abc" || s.rows[1].loadID != "" {
		t.Errorf("unexpected load ids %+v", s.rows)
	}
}

func TestStoreFailureReportedOnce(t *testing.T) {
	Clear()
	SetStore(&fakeStore{err: errors.New("connection refused")})
	defer SetStore(nil)

	for i := 0; i < 3; i++ {
		Emit("info", "world.load.started", "", nil)
	}

	errorsSeen := 0
	for _, e := range Snapshot() {
		if e.Name == "system.error" {
			errorsSeen++
		}
	}
	if errorsSeen != 1 {
		t.Errorf("got %d system.error events, want 1", errorsSeen)
	}
}

func TestTotalCountSurvivesEviction(t *testing.T) {
	Clear()
	for i := 0; i < 300; i++ {
		Emit("debug", "world.object.loaded", "", nil)
	}
	if got := len(Snapshot()); got != 256 {
		t.Errorf("got %d buffered, want 256", got)
	}
	if got := TotalCount(); got != 300 {
		t.Errorf("got total %d, want 300", got)
	}
}

func TestReporterMergesFields(t *testing.T) {
	Clear()
	r := Reporter{Fields: map[string]interface{}{"load_id": "abc", "room": "lobby"}}
	r.Report("info", "world.object.attached", "", map[string]interface{}{"name": "lamp", "room": "override"})

	snap := Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d events, want 1", len(snap))
	}
	f := snap[0].Fields
	if f["load_id"] != "abc" || f["name"] != "lamp" || f["room"] != "override" {
		t.Errorf("unexpected fields %v", f)
	}
}
