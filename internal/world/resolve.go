package world

import "strings"

// DefaultMountRoot is the logical root that object model paths hang off.
const DefaultMountRoot = "res://models"

// Resolver turns an object's logical model path into the path handed to the
// asset loader. Resolution is plain concatenation: no cleaning, escaping or
// traversal checks.
type Resolver struct {
	Root string
}

// Resolve returns "<root>/<path>".
func (r Resolver) Resolve(path string) string {
	root := r.Root
	if root == "" {
		root = DefaultMountRoot
	}
	return strings.TrimSuffix(root, "/") + "/" + path
}
