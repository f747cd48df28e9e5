package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sutera/worldloader/internal/events"
	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/storage/postgres"
	"github.com/sutera/worldloader/internal/world"
)

func TestMain(m *testing.M) {
	events.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const transform = `{position_x: 1, position_y: 0, position_z: 0, rotation_x: 0, rotation_y: 0, rotation_z: 0, rotation_w: 1, scale_x: 1, scale_y: 1, scale_z: 1}`

func writeWorld(t *testing.T, name string, models ...string) string {
	t.Helper()
	doc := `metadata: {world_format: sutera-world, name: ` + name + `, version: "1"}
specs:
  spawnpoint: {x: 0, y: 0, z: 0, pitch: 0, yaw: 0}
  world_border: {x_min: -5, x_max: 5, y_min: -5, y_max: 5, z_min: -5, z_max: 5}
  objects:`
	if len(models) == 0 {
		doc += " []"
	}
	for _, m := range models {
		doc += "\n    - {name: " + m + ", model: {type: gltf, path: " + m + ".glb, transform: " + transform + "}}"
	}
	p := filepath.Join(t.TempDir(), name+".yaml")
	if err := os.WriteFile(p, []byte(doc+"\n"), 0o600); err != nil {
		t.Fatalf("write world: %v", err)
	}
	return p
}

// meshAssets builds a single mesh node per asset and fails for paths in broken.
func meshAssets(broken ...string) world.AssetLoader {
	return world.AssetLoaderFunc(func(p string) (world.Node, error) {
		for _, b := range broken {
			if p == b {
				return nil, errors.New("corrupt glb")
			}
		}
		n := scene.NewNode(path.Base(p), scene.KindMesh)
		n.Source = p
		return n, nil
	})
}

type fakeHistory struct {
	mu      sync.Mutex
	records []postgres.LoadRecord
}

func (h *fakeHistory) RecordLoad(_ context.Context, r postgres.LoadRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func TestLoadSwapsWorld(t *testing.T) {
	events.Clear()
	hist := &fakeHistory{}
	g := scene.NewGraph()
	o := New(g, meshAssets(), Options{RoomID: "lobby", History: hist})

	if o.State() != StateEmpty {
		t.Fatalf("got state %s, want empty", o.State())
	}

	res := o.Load(context.Background(), Request{Path: writeWorld(t, "hall", "lamp", "chair"), Source: SourceCLI})
	if !res.OK {
		t.Fatalf("load failed: %v", res.Err())
	}
	if res.LoadID == "" || res.World == nil || res.World.Name != "hall" || res.World.Objects != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.World.SpawnInBorder {
		t.Error("spawn point at the origin should be inside the border")
	}
	if o.State() != StateReady || !o.HasWorld() {
		t.Errorf("got state %s, want ready", o.State())
	}

	var names []string
	g.Read(func(root *scene.Node) {
		if root.Name != "hall" {
			t.Errorf("got root %q, want hall", root.Name)
		}
		for _, c := range root.Children() {
			names = append(names, c.Name)
		}
	})
	if len(names) != 2 || names[0] != "lamp.glb" || names[1] != "chair.glb" {
		t.Errorf("got children %v", names)
	}

	if len(hist.records) != 2 {
		t.Fatalf("got %d history records, want start and finish", len(hist.records))
	}
	final := hist.records[1]
	if !final.OK || final.LoadID != res.LoadID || final.Objects != 2 || final.FinishedAt == nil {
		t.Errorf("unexpected final record %+v", final)
	}

	found := false
	for _, e := range events.Snapshot() {
		if e.Name == "world.load.completed" && e.Fields["load_id"] == res.LoadID {
			found = true
		}
	}
	if !found {
		t.Error("expected world.load.completed tagged with the load id")
	}
}

func TestSpawnOutsideBorderStillLoads(t *testing.T) {
	doc := `metadata: {world_format: sutera-world, name: edge, version: "1"}
specs:
  spawnpoint: {x: 0, y: 6, z: 0, pitch: 0, yaw: 0}
  world_border: {x_min: -5, x_max: 5, y_min: -5, y_max: 5, z_min: -5, z_max: 5}
  objects: []
`
	p := filepath.Join(t.TempDir(), "edge.yaml")
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatalf("write world: %v", err)
	}

	o := New(scene.NewGraph(), meshAssets(), Options{})
	res := o.Load(context.Background(), Request{Path: p, Source: SourceCLI})
	if !res.OK {
		t.Fatalf("load failed: %v", res.Err())
	}
	if res.World.SpawnInBorder {
		t.Errorf("spawn point %+v reported inside %+v", res.World.SpawnPoint, res.World.WorldBorder)
	}
}

func TestFailedLoadKeepsLiveWorld(t *testing.T) {
	g := scene.NewGraph()
	o := New(g, meshAssets("res://models/broken.glb"), Options{})

	good := o.Load(context.Background(), Request{Path: writeWorld(t, "hall", "lamp")})
	if !good.OK {
		t.Fatalf("first load failed: %v", good.Err())
	}
	rev := g.Revision()

	bad := o.Load(context.Background(), Request{Path: writeWorld(t, "attic", "lamp", "broken")})
	if bad.OK {
		t.Fatal("expected failure")
	}
	if !errors.Is(bad.Err(), world.ErrAssetOpenFailed) {
		t.Errorf("got %v, want AssetOpenFailed", bad.Err())
	}
	if bad.Error.Kind != "asset_open_failed" || bad.Error.Object != "broken" {
		t.Errorf("unexpected error info %+v", bad.Error)
	}

	if g.Revision() != rev {
		t.Error("failed load must not swap the graph")
	}
	g.Read(func(root *scene.Node) {
		if root.Name != "hall" || root.Count() != 2 {
			t.Errorf("live world changed: %s", root.Dump())
		}
	})
	if o.State() != StateStale {
		t.Errorf("got state %s, want stale", o.State())
	}
	cur, _ := o.Current()
	if cur.LoadID != good.LoadID {
		t.Error("current world should still be the first load")
	}
	if s := o.Stats(); s.Loads != 2 || s.Failures != 1 {
		t.Errorf("got stats %+v", s)
	}
}

func TestFailedFirstLoad(t *testing.T) {
	o := New(scene.NewGraph(), meshAssets(), Options{})

	res := o.Load(context.Background(), Request{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	if res.OK || res.Error.Kind != "invalid_path" {
		t.Fatalf("unexpected result %+v", res)
	}
	if o.State() != StateFailed || o.HasWorld() {
		t.Errorf("got state %s, want failed", o.State())
	}
}

func TestDefaultPathAndReload(t *testing.T) {
	p := writeWorld(t, "hall")
	o := New(scene.NewGraph(), meshAssets(), Options{DefaultPath: p})

	if _, err := o.Reload(context.Background(), SourceHTTP); !errors.Is(err, ErrNoWorld) {
		t.Fatalf("got %v, want ErrNoWorld", err)
	}

	res := o.Load(context.Background(), Request{Source: SourceMQTT})
	if !res.OK || res.Path != p {
		t.Fatalf("default path not used: %+v", res)
	}

	again, err := o.Reload(context.Background(), SourceHTTP)
	if err != nil || !again.OK || again.Path != p || again.LoadID == res.LoadID {
		t.Errorf("unexpected reload %+v, %v", again, err)
	}
}

func TestLoadsAreSerialized(t *testing.T) {
	var active, peak int32
	assets := world.AssetLoaderFunc(func(p string) (world.Node, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return scene.NewNode(p, scene.KindMesh), nil
	})
	o := New(scene.NewGraph(), assets, Options{})
	p := writeWorld(t, "hall", "a")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Load(context.Background(), Request{Path: p})
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("got %d concurrent loads, want 1", peak)
	}
	if s := o.Stats(); s.Loads != 4 || s.Failures != 0 {
		t.Errorf("got stats %+v", s)
	}
}

func TestWaitingLoadHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	assets := world.AssetLoaderFunc(func(p string) (world.Node, error) {
		close(started)
		<-release
		return scene.NewNode(p, scene.KindMesh), nil
	})
	o := New(scene.NewGraph(), assets, Options{})
	p := writeWorld(t, "hall", "a")

	done := make(chan Result)
	go func() { done <- o.Load(context.Background(), Request{Path: p}) }()
	<-started
	if o.State() != StateLoading {
		t.Errorf("got state %s, want loading", o.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := o.Load(ctx, Request{Path: p})
	if res.OK || res.Error.Kind != "canceled" {
		t.Errorf("unexpected result %+v", res)
	}

	close(release)
	first := <-done
	if !first.OK {
		t.Errorf("first load failed: %v", first.Err())
	}
	if last, _ := o.Last(); last.LoadID != first.LoadID {
		t.Error("a rejected request must not replace the last run")
	}
	if o.State() != StateReady {
		t.Errorf("got state %s, want ready", o.State())
	}
	if s := o.Stats(); s.Loads != 2 || s.Failures != 1 {
		t.Errorf("got stats %+v", s)
	}
}
