// Package events is the structured event log. Every event is a JSON line
// with a registered name; events are kept in a ring buffer, fanned out to
// subscribers and optionally persisted.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var buffer = newBacklog(256)

// Store persists events. The Postgres client implements it.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, loadID string) error
}

var (
	store         Store
	storeMu       sync.RWMutex
	storeErrorLog bool

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetStore sets the store used for event persistence. nil disables it.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeErrorLog = false
	storeMu.Unlock()
}

// SetOutput redirects the JSON log lines. nil silences them.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event and returns its JSON encoding.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.add(e)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		fmt.Fprintln(out, string(b))
	}
	outMu.Unlock()

	return b, nil
}

func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	storeMu.RUnlock()
	if s == nil {
		return
	}

	loadID, _ := e.Fields["load_id"].(string)
	err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields, loadID)
	if err == nil {
		return
	}

	// Report the first failure only. The report goes straight to the
	// buffer so a broken store cannot recurse through Emit.
	storeMu.Lock()
	first := !storeErrorLog
	storeErrorLog = true
	storeMu.Unlock()
	if first {
		errEvent := Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "system.error",
			Message:   "event store append failed",
			Fields:    map[string]interface{}{"error": err.Error()},
		}
		buffer.add(errEvent)
		broadcast(errEvent)
	}
}

// Snapshot returns the buffered events, oldest first.
func Snapshot() []Event {
	return buffer.last(0)
}

// TotalCount is the number of events emitted since the last Clear.
func TotalCount() uint64 {
	return buffer.count()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.reset()
}

// Reporter forwards world loader progress into the event log, adding its
// Fields to every event.
type Reporter struct {
	Fields map[string]interface{}
}

func (r Reporter) Report(level, event, msg string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+len(r.Fields))
	for k, v := range r.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	Emit(level, event, msg, merged)
}
