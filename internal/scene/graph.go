package scene

import (
	"sync"
	"time"
)

// Graph guards the live scene tree. Loads build into a staging root and
// swap it in whole, so readers never see a partially placed world.
type Graph struct {
	mu       sync.RWMutex
	root     *Node
	swapped  time.Time
	revision int
}

// NewGraph returns a graph holding an empty root.
func NewGraph() *Graph {
	return &Graph{root: NewRoot("world")}
}

// Swap replaces the live root and returns the previous one.
func (g *Graph) Swap(root *Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.root
	g.root = root
	g.swapped = time.Now().UTC()
	g.revision++
	return old
}

// Revision counts swaps since the graph was created.
func (g *Graph) Revision() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// SwappedAt returns when the live root was last replaced.
func (g *Graph) SwappedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.swapped
}

// Read runs fn with the live root under a read lock. fn must not retain
// or modify the tree.
func (g *Graph) Read(fn func(root *Node)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.root)
}

// Snapshot is a JSON-friendly copy of a subtree.
type Snapshot struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Mesh     string      `json:"mesh,omitempty"`
	Source   string      `json:"source,omitempty"`
	Position [3]float64  `json:"position"`
	Rotation [4]float64  `json:"rotation"` // x, y, z, w
	Scale    [3]float64  `json:"scale"`
	Children []*Snapshot `json:"children,omitempty"`
}

// Snapshot copies the live tree.
func (g *Graph) Snapshot() *Snapshot {
	var s *Snapshot
	g.Read(func(root *Node) { s = root.Snapshot() })
	return s
}

// Snapshot copies the subtree rooted at n.
func (n *Node) Snapshot() *Snapshot {
	s := &Snapshot{
		ID:       n.ID.String(),
		Name:     n.Name,
		Kind:     n.Kind,
		Mesh:     n.Mesh,
		Source:   n.Source,
		Position: n.Position,
		Rotation: [4]float64{n.Rotation.V[0], n.Rotation.V[1], n.Rotation.V[2], n.Rotation.W},
		Scale:    n.Scale,
	}
	for _, c := range n.children {
		s.Children = append(s.Children, c.Snapshot())
	}
	return s
}
