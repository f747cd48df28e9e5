// Package scene is the in-process scene graph that world loads are placed
// into. Nodes carry a position, rotation and scale and compose them into
// matrices on demand.
package scene

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/sutera/worldloader/internal/world"
)

// Node kinds.
const (
	KindRoot  = "root"
	KindGroup = "group"
	KindMesh  = "mesh"
)

// Node is a scene-graph node. A Node is not safe for concurrent mutation;
// use Graph to share a tree between goroutines.
type Node struct {
	ID   uuid.UUID
	Name string
	Kind string
	// Mesh names the mesh a KindMesh node draws.
	Mesh string
	// Source is the resolved asset path the node was loaded from, if any.
	Source string

	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3

	parent   *Node
	children []*Node
}

// NewNode returns a node with an identity transform.
func NewNode(name, kind string) *Node {
	return &Node{
		ID:       uuid.New(),
		Name:     name,
		Kind:     kind,
		Rotation: mgl64.QuatIdent(),
		Scale:    mgl64.Vec3{1, 1, 1},
	}
}

// NewRoot returns an empty root node.
func NewRoot(name string) *Node {
	return NewNode(name, KindRoot)
}

// SetTransform replaces the local transform. Values are stored as given.
func (n *Node) SetTransform(position mgl64.Vec3, rotation mgl64.Quat, scale mgl64.Vec3) {
	n.Position = position
	n.Rotation = rotation
	n.Scale = scale
}

// AddChild attaches child as the last child of n. Children must be nodes
// from this package; anything else panics.
func (n *Node) AddChild(child world.Node) {
	c, ok := child.(*Node)
	if !ok {
		panic(fmt.Sprintf("scene: cannot attach %T", child))
	}
	n.Append(c)
}

// Append attaches c as the last child of n, detaching it from any previous parent.
func (n *Node) Append(c *Node) {
	if c.parent != nil {
		c.parent.remove(c)
	}
	c.parent = n
	n.children = append(n.children, c)
}

func (n *Node) remove(c *Node) {
	for i, x := range n.children {
		if x == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			c.parent = nil
			return
		}
	}
}

// Parent returns the parent node, or nil for a detached node.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the children in attach order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// LocalMatrix composes translation, rotation and scale, in that order.
func (n *Node) LocalMatrix() mgl64.Mat4 {
	t := mgl64.Translate3D(n.Position.X(), n.Position.Y(), n.Position.Z())
	s := mgl64.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
	return t.Mul4(n.Rotation.Mat4()).Mul4(s)
}

// WorldMatrix is the product of every local matrix from the root down to n.
func (n *Node) WorldMatrix() mgl64.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

// WorldPosition returns the origin of n in root space.
func (n *Node) WorldPosition() mgl64.Vec3 {
	return mgl64.TransformCoordinate(mgl64.Vec3{}, n.WorldMatrix())
}

// Walk visits n and its descendants depth-first, parents before children.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.children {
		c.walk(fn, depth+1)
	}
}

// Find returns the first node named name in depth-first order.
func (n *Node) Find(name string) *Node {
	var found *Node
	n.Walk(func(x *Node, _ int) bool {
		if found != nil {
			return false
		}
		if x.Name == name {
			found = x
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node, int) bool {
		total++
		return true
	})
	return total
}

// Dump renders the subtree as an indented outline, one node per line.
func (n *Node) Dump() string {
	var b strings.Builder
	n.Walk(func(x *Node, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&b, "%s [%s]", x.Name, x.Kind)
		if x.Mesh != "" {
			fmt.Fprintf(&b, " mesh=%s", x.Mesh)
		}
		if x.Position != (mgl64.Vec3{}) {
			fmt.Fprintf(&b, " pos=(%g, %g, %g)", x.Position[0], x.Position[1], x.Position[2])
		}
		b.WriteByte('\n')
		return true
	})
	return b.String()
}
