// Package orchestrator owns the live world. It serializes load requests,
// builds each world into a staging root and swaps it in only when the whole
// load succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/storage/postgres"
	"github.com/sutera/worldloader/internal/world"
)

// Load sources.
const (
	SourceStartup = "startup"
	SourceRestore = "restore"
	SourceCLI     = "cli"
	SourceHTTP    = "http"
	SourceMQTT    = "mqtt"
)

// ErrNoWorld is returned by Reload before any world was loaded.
var ErrNoWorld = errors.New("no world has been loaded")

// History records load runs. The Postgres client implements it.
type History interface {
	RecordLoad(ctx context.Context, r postgres.LoadRecord) error
}

// Options configures an Orchestrator.
type Options struct {
	RoomID   string
	Resolver world.Resolver
	Workers  int
	// DefaultPath is loaded when a request names no path.
	DefaultPath string
	History     History
}

// Request asks for a world file to be loaded.
type Request struct {
	Path      string `json:"path"`
	Source    string `json:"source"`
	RequestID string `json:"request_id,omitempty"`
}

// WorldInfo summarises a loaded document.
type WorldInfo struct {
	Format      string            `json:"world_format"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Objects     int               `json:"objects"`
	SpawnPoint  world.SpawnPoint  `json:"spawnpoint"`
	WorldBorder world.WorldBorder `json:"world_border"`
	// SpawnInBorder is false when the spawn point lies outside the border.
	// Such worlds still load.
	SpawnInBorder bool `json:"spawn_in_border"`
}

// Result is the outcome of one load run.
type Result struct {
	LoadID     string     `json:"load_id"`
	RequestID  string     `json:"request_id,omitempty"`
	Path       string     `json:"path"`
	Source     string     `json:"source"`
	OK         bool       `json:"ok"`
	World      *WorldInfo `json:"world,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`

	err error
}

// ErrorInfo is the serialisable form of a load failure.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Context string `json:"context,omitempty"`
	Object  string `json:"object,omitempty"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// Err returns the underlying error of a failed run.
func (r Result) Err() error {
	return r.err
}

// Duration is how long the run took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stats are counters exposed as metrics.
type Stats struct {
	Loads        uint64
	Failures     uint64
	Busy         bool
	LastDuration time.Duration
}

// Orchestrator serializes world loads into a scene.Graph.
type Orchestrator struct {
	graph  *scene.Graph
	assets world.AssetLoader
	opts   Options

	// sem holds one token; a load runs while holding it.
	sem chan struct{}

	mu       sync.RWMutex
	last     *Result
	current  *Result
	loads    uint64
	failures uint64
}

// New creates an orchestrator placing worlds into graph.
func New(graph *scene.Graph, assets world.AssetLoader, opts Options) *Orchestrator {
	if opts.Resolver.Root == "" {
		opts.Resolver.Root = world.DefaultMountRoot
	}
	return &Orchestrator{
		graph:  graph,
		assets: assets,
		opts:   opts,
		sem:    make(chan struct{}, 1),
	}
}

// Graph returns the live scene graph.
func (o *Orchestrator) Graph() *scene.Graph {
	return o.graph
}

// Load runs req to completion. Requests are handled one at a time; a
// request waiting for its turn gives up when ctx is done. A failed load
// leaves the live world untouched.
func (o *Orchestrator) Load(ctx context.Context, req Request) Result {
	if req.Path == "" {
		req.Path = o.opts.DefaultPath
	}
	res := Result{
		LoadID:    uuid.NewString(),
		RequestID: req.RequestID,
		Path:      req.Path,
		Source:    req.Source,
		StartedAt: time.Now().UTC(),
	}
	fields := map[string]interface{}{
		"load_id": res.LoadID,
		"room_id": o.opts.RoomID,
		"path":    req.Path,
		"source":  req.Source,
	}

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		res.FinishedAt = time.Now().UTC()
		o.fail(&res, fmt.Errorf("waiting for previous load: %w", ctx.Err()))
		events.Emit("warning", "world.load.rejected", res.Error.Message, fields)
		o.mu.Lock()
		o.loads++
		o.failures++
		o.mu.Unlock()
		o.record(ctx, res)
		return res
	}
	defer func() { <-o.sem }()

	events.Emit("info", "world.load.requested", "", fields)
	o.record(ctx, res)

	staging := scene.NewRoot("world")
	loader := &world.Loader{
		Assets:   o.assets,
		Resolver: o.opts.Resolver,
		Reporter: events.Reporter{Fields: map[string]interface{}{"load_id": res.LoadID, "room_id": o.opts.RoomID}},
		Workers:  o.opts.Workers,
	}
	doc, err := loader.Load(req.Path, staging)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		o.fail(&res, err)
		o.finish(ctx, res)
		return res
	}

	if doc.Metadata.Name != "" {
		staging.Name = doc.Metadata.Name
	}
	o.graph.Swap(staging)
	res.OK = true
	sp, border := doc.Specs.SpawnPoint, doc.Specs.WorldBorder
	res.World = &WorldInfo{
		Format:        doc.Metadata.Format,
		Name:          doc.Metadata.Name,
		Version:       doc.Metadata.Version,
		Objects:       len(doc.Specs.Objects),
		SpawnPoint:    sp,
		WorldBorder:   border,
		SpawnInBorder: border.Contains(sp.X, sp.Y, sp.Z),
	}
	o.finish(ctx, res)
	return res
}

// Reload loads the path of the current world again.
func (o *Orchestrator) Reload(ctx context.Context, source string) (Result, error) {
	cur, ok := o.Current()
	if !ok {
		return Result{}, ErrNoWorld
	}
	return o.Load(ctx, Request{Path: cur.Path, Source: source}), nil
}

func (o *Orchestrator) fail(res *Result, err error) {
	res.err = err
	info := &ErrorInfo{Kind: "internal", Message: err.Error()}
	var werr *world.Error
	if errors.As(err, &werr) {
		info.Kind = werr.Kind.String()
		info.Field = werr.Field
		info.Context = werr.Context
		info.Object = werr.Object
		info.Path = werr.Path
		info.Line = werr.Line
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		info.Kind = "canceled"
	}
	res.Error = info
}

// finish records a run that held the load slot. Rejected requests never
// become Last.
func (o *Orchestrator) finish(ctx context.Context, res Result) {
	o.mu.Lock()
	o.loads++
	if !res.OK {
		o.failures++
	}
	o.last = &res
	if res.OK {
		o.current = &res
	}
	o.mu.Unlock()
	o.record(ctx, res)
}

// record writes the run to history. History failures are logged and
// never fail the load.
func (o *Orchestrator) record(ctx context.Context, res Result) {
	if o.opts.History == nil {
		return
	}
	rec := postgres.LoadRecord{
		LoadID:    res.LoadID,
		Path:      res.Path,
		Source:    res.Source,
		StartedAt: res.StartedAt,
		OK:        res.OK,
	}
	if !res.FinishedAt.IsZero() {
		finished := res.FinishedAt
		rec.FinishedAt = &finished
	}
	if res.World != nil {
		rec.WorldName = res.World.Name
		rec.Version = res.World.Version
		rec.Objects = res.World.Objects
	}
	if res.Error != nil {
		rec.ErrorKind = res.Error.Kind
		rec.Error = res.Error.Message
	}
	// A canceled request context must not drop the record.
	if err := o.opts.History.RecordLoad(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("orchestrator: %v", err)
	}
}

// Last returns the most recent run, successful or not.
func (o *Orchestrator) Last() (Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}

// Current returns the run that produced the live world.
func (o *Orchestrator) Current() (Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return Result{}, false
	}
	return *o.current, true
}

// Stats returns load counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := Stats{Loads: o.loads, Failures: o.failures, Busy: len(o.sem) > 0}
	if o.last != nil {
		s.LastDuration = o.last.Duration()
	}
	return s
}
