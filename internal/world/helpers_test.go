package world

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

const validTransform = `
          position_x: 1
          position_y: 2
          position_z: 3
          rotation_x: 0
          rotation_y: 0.7071
          rotation_z: 0
          rotation_w: 0.7071
          scale_x: 1
          scale_y: 2
          scale_z: 0.5`

// worldYAML wraps an objects block in a complete, valid document.
func worldYAML(objects string) string {
	return `metadata:
  world_format: sutera-world
  name: test world
  version: "0.1.0"
specs:
  spawnpoint:
    x: 0
    y: 1.5
    z: -2
    pitch: 10
    yaw: 90
  world_border:
    x_min: -100
    x_max: 100
    y_min: -10
    y_max: 50
    z_min: -100
    z_max: 100
  objects:` + objects + "\n"
}

// gltfObject renders one object entry with the valid transform.
func gltfObject(name, typ, path string) string {
	return `
    - name: ` + name + `
      model:
        type: ` + typ + `
        path: ` + path + `
        transform:` + validTransform
}

// hostLog records host calls across nodes in the order they happen.
type hostLog struct {
	mu    sync.Mutex
	calls []string
}

func (h *hostLog) add(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *hostLog) count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeNode struct {
	name     string
	log      *hostLog
	position mgl64.Vec3
	rotation mgl64.Quat
	scale    mgl64.Vec3
	children []Node
}

func (n *fakeNode) SetTransform(position mgl64.Vec3, rotation mgl64.Quat, scale mgl64.Vec3) {
	n.position, n.rotation, n.scale = position, rotation, scale
	n.log.add("set_transform:" + n.name)
}

func (n *fakeNode) AddChild(child Node) {
	n.children = append(n.children, child)
	n.log.add("add_child:" + child.(*fakeNode).name)
}

// fakeAssets hands out fakeNodes and records every resolved path it sees.
type fakeAssets struct {
	log   *hostLog
	mu    sync.Mutex
	paths []string
	fail  map[string]error
	delay map[string]func()
}

func (a *fakeAssets) Load(resolvedPath string) (Node, error) {
	a.mu.Lock()
	a.paths = append(a.paths, resolvedPath)
	wait := a.delay[resolvedPath]
	err := a.fail[resolvedPath]
	a.mu.Unlock()
	a.log.add("load_asset:" + resolvedPath)

	if wait != nil {
		wait()
	}
	if err != nil {
		return nil, err
	}
	return &fakeNode{name: resolvedPath, log: a.log}, nil
}

func (a *fakeAssets) loaded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.paths...)
}

// memFiles serves world documents from memory.
func memFiles(files map[string]string) Opener {
	return func(path string) (io.ReadCloser, error) {
		content, ok := files[path]
		if !ok {
			return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
		}
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
	fields []map[string]interface{}
}

func (r *recordingReporter) Report(level, event, msg string, fields map[string]interface{}) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.fields = append(r.fields, fields)
	r.mu.Unlock()
}

var errBrokenAsset = errors.New("unexpected end of GLB chunk")
