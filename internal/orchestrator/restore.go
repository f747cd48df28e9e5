package orchestrator

import (
	"context"

	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/storage/postgres"
)

// DefaultRestoreLimit is the default number of events to scan on restore.
const DefaultRestoreLimit = 1000

// EventQuerier reads stored events, newest first.
type EventQuerier interface {
	QueryEvents(ctx context.Context, limit int) ([]postgres.EventRow, error)
}

// RestoredWorld is the last successfully loaded world found in the event log.
type RestoredWorld struct {
	Path   string
	Name   string
	LoadID string
}

// RestoreFromEvents scans stored events for the last world.load.completed
// and returns the world it names. It returns nil when q is nil or no
// completed load is found, along with the number of events scanned.
func RestoreFromEvents(ctx context.Context, q EventQuerier, limit int) (*RestoredWorld, int, error) {
	if q == nil {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = DefaultRestoreLimit
	}

	rows, err := q.QueryEvents(ctx, limit)
	if err != nil {
		return nil, 0, err
	}

	// Rows are newest first, so the first completion wins.
	for _, row := range rows {
		if row.Event != "world.load.completed" {
			continue
		}
		path, _ := row.Fields["path"].(string)
		if path == "" {
			continue
		}
		rw := &RestoredWorld{Path: path}
		rw.Name, _ = row.Fields["name"].(string)
		if row.LoadID != nil {
			rw.LoadID = *row.LoadID
		}
		return rw, len(rows), nil
	}
	return nil, len(rows), nil
}

// RestoreLastWorld reloads the world recorded by the last successful load.
// The boolean is false when there was nothing to restore.
func (o *Orchestrator) RestoreLastWorld(ctx context.Context, q EventQuerier) (Result, bool, error) {
	rw, scanned, err := RestoreFromEvents(ctx, q, DefaultRestoreLimit)
	if err != nil || rw == nil {
		return Result{}, false, err
	}

	res := o.Load(ctx, Request{Path: rw.Path, Source: SourceRestore})
	events.Emit("info", "world.restored", "", map[string]interface{}{
		"room_id":          o.opts.RoomID,
		"path":             rw.Path,
		"previous_load_id": rw.LoadID,
		"load_id":          res.LoadID,
		"ok":               res.OK,
		"scanned":          scanned,
	})
	return res, true, nil
}
