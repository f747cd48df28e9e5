package asset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/world"
)

const lampGLTF = `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [
    {"name": "Base", "children": [1], "translation": [0, 1, 0]},
    {"name": "Shade", "mesh": 0, "rotation": [0, 0.7071, 0, 0.7071], "scale": [2, 2, 2]}
  ],
  "meshes": [{"name": "ShadeMesh", "primitives": [{"attributes": {}}]}]
}`

func writeModel(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func TestFileLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "props/lamp.gltf", lampGLTF)

	node, err := NewFileLoader(dir).Load("res://models/props/lamp.gltf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	root := node.(*scene.Node)
	if root.Name != "lamp" || root.Source != "res://models/props/lamp.gltf" {
		t.Errorf("got name %q source %q", root.Name, root.Source)
	}
	if got := root.Count(); got != 3 {
		t.Fatalf("got %d nodes, want 3", got)
	}

	base := root.Find("Base")
	if base == nil || base.Position != (mgl64.Vec3{0, 1, 0}) {
		t.Fatalf("unexpected base node %+v", base)
	}
	shade := root.Find("Shade")
	if shade.Kind != scene.KindMesh || shade.Mesh != "ShadeMesh" {
		t.Errorf("got kind %q mesh %q", shade.Kind, shade.Mesh)
	}
	if want := float64(float32(0.7071)); shade.Rotation.W != want || shade.Rotation.V[1] != want {
		t.Errorf("got rotation %v", shade.Rotation)
	}
	if shade.Scale != (mgl64.Vec3{2, 2, 2}) {
		t.Errorf("got scale %v", shade.Scale)
	}
}

func TestBuildMatrixTransform(t *testing.T) {
	// Column-major: x scaled by 2 and the basis turned 90 degrees about z.
	const src = `{
  "asset": {"version": "2.0"},
  "scenes": [{"nodes": [0, 1]}],
  "nodes": [
    {"name": "Placed", "matrix": [0, 2, 0, 0, -1, 0, 0, 0, 0, 0, 1, 0, 5, 6, 7, 1]},
    {"name": "Mirrored", "matrix": [-1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1]}
  ]
}`
	dir := t.TempDir()
	writeModel(t, dir, "placed.gltf", src)

	node, err := NewFileLoader(dir).Load("res://models/placed.gltf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	root := node.(*scene.Node)

	placed := root.Find("Placed")
	if placed.Position != (mgl64.Vec3{5, 6, 7}) {
		t.Errorf("got position %v, want (5, 6, 7)", placed.Position)
	}
	if !placed.Scale.ApproxEqual(mgl64.Vec3{2, 1, 1}) {
		t.Errorf("got scale %v, want (2, 1, 1)", placed.Scale)
	}
	want := mgl64.QuatRotate(mgl64.DegToRad(90), mgl64.Vec3{0, 0, 1})
	if !placed.Rotation.ApproxEqualThreshold(want, 1e-6) {
		t.Errorf("got rotation %v, want %v", placed.Rotation, want)
	}

	mirrored := root.Find("Mirrored")
	if !mirrored.Scale.ApproxEqual(mgl64.Vec3{-1, 1, 1}) {
		t.Errorf("got scale %v, want (-1, 1, 1)", mirrored.Scale)
	}
	if !mirrored.Rotation.ApproxEqualThreshold(mgl64.QuatIdent(), 1e-6) {
		t.Errorf("got rotation %v, want identity", mirrored.Rotation)
	}
}

func TestFileLoaderNoScene(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "empty.gltf", `{"asset": {"version": "2.0"}}`)
	writeModel(t, dir, "bare.gltf", `{"asset": {"version": "2.0"}, "scenes": [{"nodes": []}]}`)

	l := NewFileLoader(dir)
	for _, name := range []string{"empty.gltf", "bare.gltf"} {
		_, err := l.Load("res://models/" + name)
		if !errors.Is(err, world.ErrNoScene) {
			t.Errorf("%s: got %v, want ErrNoScene", name, err)
		}
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	_, err := NewFileLoader(t.TempDir()).Load("res://models/nope.glb")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, world.ErrNoScene) {
		t.Errorf("missing file must not look like an empty scene: %v", err)
	}
}

func TestLocate(t *testing.T) {
	l := &FileLoader{Mount: "res://models/", Dir: "/srv/models"}

	got, err := l.Locate("res://models/props/lamp.glb")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if want := filepath.Join("/srv/models", "props", "lamp.glb"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	for _, bad := range []string{
		"res://other/lamp.glb",
		"res://models/../secret.glb",
		"res://models/a/../../secret.glb",
		"res://models/",
		"/etc/passwd",
	} {
		if _, err := l.Locate(bad); err == nil {
			t.Errorf("Locate(%q) should fail", bad)
		}
	}
}

// The loader plugs into world.Loader end to end.
func TestFileLoaderWithWorldLoader(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "lamp.gltf", lampGLTF)
	worldFile := filepath.Join(t.TempDir(), "world.yaml")
	doc := `metadata: {world_format: sutera-world, name: room, version: "1"}
specs:
  spawnpoint: {x: 0, y: 0, z: 0, pitch: 0, yaw: 0}
  world_border: {x_min: -1, x_max: 1, y_min: -1, y_max: 1, z_min: -1, z_max: 1}
  objects:
    - name: lamp
      model:
        type: gltf
        path: lamp.gltf
        transform: {position_x: 5, position_y: 0, position_z: 0, rotation_x: 0, rotation_y: 0, rotation_z: 0, rotation_w: 1, scale_x: 1, scale_y: 1, scale_z: 1}
`
	if err := os.WriteFile(worldFile, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	root := scene.NewRoot("world")
	if err := world.NewLoader(NewFileLoader(dir)).LoadWorld(worldFile, root); err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	lamp := root.Find("lamp")
	if lamp == nil || lamp.Position != (mgl64.Vec3{5, 0, 0}) {
		t.Fatalf("lamp not placed: %+v", lamp)
	}
	if got := root.Find("Base").WorldPosition(); got != (mgl64.Vec3{5, 1, 0}) {
		t.Errorf("got base world position %v, want (5, 1, 0)", got)
	}
}
