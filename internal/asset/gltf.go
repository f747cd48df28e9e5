// Package asset loads model files into scene nodes.
package asset

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"

	"github.com/sutera/worldloader/internal/scene"
	"github.com/sutera/worldloader/internal/world"
)

// FileLoader maps mounted model paths onto a directory and loads glTF
// 2.0 files (.gltf or .glb) from it.
type FileLoader struct {
	// Mount is the logical prefix stripped from resolved paths.
	Mount string
	// Dir is the directory the mount points at.
	Dir string
}

// NewFileLoader returns a loader serving world.DefaultMountRoot from dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Mount: world.DefaultMountRoot, Dir: dir}
}

// Load implements world.AssetLoader.
func (l *FileLoader) Load(resolvedPath string) (world.Node, error) {
	file, err := l.Locate(resolvedPath)
	if err != nil {
		return nil, err
	}
	doc, err := gltf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", resolvedPath, err)
	}
	name := strings.TrimSuffix(path.Base(resolvedPath), path.Ext(resolvedPath))
	root, err := Build(doc, name)
	if err != nil {
		return nil, err
	}
	root.Source = resolvedPath
	return root, nil
}

// Locate returns the file backing resolvedPath. Paths outside the mount
// or escaping Dir are rejected.
func (l *FileLoader) Locate(resolvedPath string) (string, error) {
	mount := strings.TrimSuffix(l.Mount, "/") + "/"
	rel, ok := strings.CutPrefix(resolvedPath, mount)
	if !ok {
		return "", fmt.Errorf("%s is outside mount %s", resolvedPath, l.Mount)
	}
	rel = path.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", fmt.Errorf("%s escapes mount %s", resolvedPath, l.Mount)
	}
	return filepath.Join(l.Dir, filepath.FromSlash(rel)), nil
}

// Build converts the default scene of doc into a scene subtree rooted at
// a group named name. The first scene is used when no default is set.
func Build(doc *gltf.Document, name string) (*scene.Node, error) {
	if len(doc.Scenes) == 0 {
		return nil, fmt.Errorf("%w: no scenes", world.ErrNoScene)
	}
	idx := 0
	if doc.Scene != nil {
		idx = int(*doc.Scene)
	}
	if idx < 0 || idx >= len(doc.Scenes) {
		return nil, fmt.Errorf("default scene %d out of range", idx)
	}
	sc := doc.Scenes[idx]
	if len(sc.Nodes) == 0 {
		return nil, fmt.Errorf("%w: scene %d has no nodes", world.ErrNoScene, idx)
	}

	b := builder{doc: doc, seen: make(map[int]bool)}
	root := scene.NewNode(name, scene.KindGroup)
	for _, n := range sc.Nodes {
		child, err := b.node(int(n))
		if err != nil {
			return nil, err
		}
		root.Append(child)
	}
	return root, nil
}

var errCycle = errors.New("node hierarchy contains a cycle")

type builder struct {
	doc  *gltf.Document
	seen map[int]bool
}

func (b *builder) node(i int) (*scene.Node, error) {
	if i < 0 || i >= len(b.doc.Nodes) {
		return nil, fmt.Errorf("node %d out of range", i)
	}
	if b.seen[i] {
		return nil, fmt.Errorf("node %d: %w", i, errCycle)
	}
	b.seen[i] = true

	src := b.doc.Nodes[i]
	name := src.Name
	if name == "" {
		name = fmt.Sprintf("node%d", i)
	}
	out := scene.NewNode(name, scene.KindGroup)
	if src.Mesh != nil {
		m := int(*src.Mesh)
		if m < 0 || m >= len(b.doc.Meshes) {
			return nil, fmt.Errorf("node %d: mesh %d out of range", i, m)
		}
		out.Kind = scene.KindMesh
		out.Mesh = b.doc.Meshes[m].Name
		if out.Mesh == "" {
			out.Mesh = fmt.Sprintf("mesh%d", m)
		}
	}

	out.SetTransform(nodeTransform(src))

	for _, c := range src.Children {
		child, err := b.node(int(c))
		if err != nil {
			return nil, err
		}
		out.Append(child)
	}
	return out, nil
}

// nodeTransform returns n's local transform. A non-identity matrix takes
// precedence over the TRS properties and is decomposed into them; shear is
// dropped.
func nodeTransform(n *gltf.Node) (mgl64.Vec3, mgl64.Quat, mgl64.Vec3) {
	if m := n.MatrixOrDefault(); m != gltf.DefaultMatrix {
		return decompose(mat4(m))
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	return vec3(t),
		mgl64.Quat{W: float64(r[3]), V: mgl64.Vec3{float64(r[0]), float64(r[1]), float64(r[2])}},
		vec3(s)
}

// decompose splits a column-major affine matrix into translation,
// rotation and per-axis scale.
func decompose(m mgl64.Mat4) (mgl64.Vec3, mgl64.Quat, mgl64.Vec3) {
	translation := m.Col(3).Vec3()

	var scale mgl64.Vec3
	basis := mgl64.Ident4()
	for c := 0; c < 3; c++ {
		col := m.Col(c).Vec3()
		scale[c] = col.Len()
		if scale[c] == 0 {
			continue
		}
		col = col.Mul(1 / scale[c])
		basis.SetCol(c, col.Vec4(0))
	}
	// A negative determinant means a mirrored basis; fold it into x.
	if basis.Det() < 0 {
		scale[0] = -scale[0]
		basis.SetCol(0, basis.Col(0).Mul(-1))
	}
	return translation, mgl64.Mat4ToQuat(basis).Normalize(), scale
}

func mat4(m [16]float32) mgl64.Mat4 {
	var out mgl64.Mat4
	for i, v := range m {
		out[i] = float64(v)
	}
	return out
}

func vec3(v [3]float32) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
