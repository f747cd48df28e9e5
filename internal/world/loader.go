package world

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"
)

// Node is the part of a host scene-graph node the loader needs.
// Implementations apply position, then rotation, then scale.
type Node interface {
	SetTransform(position mgl64.Vec3, rotation mgl64.Quat, scale mgl64.Vec3)
	AddChild(child Node)
}

// AssetLoader turns a resolved model path into a placeable subtree.
// Errors wrapping ErrNoScene mean the asset opened but yielded nothing to place.
type AssetLoader interface {
	Load(resolvedPath string) (Node, error)
}

// AssetLoaderFunc adapts a function to AssetLoader.
type AssetLoaderFunc func(resolvedPath string) (Node, error)

func (f AssetLoaderFunc) Load(resolvedPath string) (Node, error) {
	return f(resolvedPath)
}

// ErrNoScene is returned by asset loaders for assets without placeable content.
var ErrNoScene = errors.New("asset contains no scene")

// Opener opens a world document for reading.
type Opener func(path string) (io.ReadCloser, error)

// Reporter receives progress events from a load. See internal/events.
type Reporter interface {
	Report(level, event, msg string, fields map[string]interface{})
}

// LoadedObject pairs a loaded subtree with its transform until it is attached.
type LoadedObject struct {
	Index     int
	Name      string
	Path      string
	Node      Node
	Transform Transform
}

// Loader reads world documents and places their objects under a parent node.
//
// A load is all-or-nothing at the attach step: every object is resolved,
// loaded and transformed first, and the parent is only touched once all of
// them succeeded.
type Loader struct {
	Assets   AssetLoader
	Resolver Resolver
	Open     Opener
	Reporter Reporter

	// Workers bounds concurrent asset loads. Values below 2 load strictly
	// in document order on the calling goroutine.
	Workers int
}

// NewLoader creates a sequential loader using the default mount root.
func NewLoader(assets AssetLoader) *Loader {
	return &Loader{
		Assets:   assets,
		Resolver: Resolver{Root: DefaultMountRoot},
	}
}

// LoadWorld loads the world file at path and attaches its objects to parent.
func (l *Loader) LoadWorld(path string, parent Node) error {
	_, err := l.Load(path, parent)
	return err
}

// Load is LoadWorld that also returns the decoded document.
func (l *Loader) Load(path string, parent Node) (*Document, error) {
	l.report("info", "world.load.started", "", map[string]interface{}{"path": path})

	doc, err := l.load(path, parent)
	if err != nil {
		l.report("error", "world.load.failed", err.Error(), map[string]interface{}{
			"path":    path,
			"kind":    err.Kind.String(),
			"field":   err.Field,
			"context": err.Context,
			"object":  err.Object,
			"trace":   err.Trace.String(),
		})
		return nil, err
	}

	l.report("info", "world.load.completed", "", map[string]interface{}{
		"path":    path,
		"name":    doc.Metadata.Name,
		"version": doc.Metadata.Version,
		"objects": len(doc.Specs.Objects),
	})
	return doc, nil
}

func (l *Loader) load(path string, parent Node) (*Document, *Error) {
	data, err := l.read(path)
	if err != nil {
		return nil, err
	}
	doc, err := decode(data)
	if err != nil {
		return nil, err.Map(func(e Error) Error {
			if e.Kind == KindParseFailed && e.Path == "" {
				e.Path = path
			}
			return e
		})
	}

	staged, err := l.loadObjects(doc.Specs.Objects)
	if err != nil {
		return nil, err
	}
	for _, obj := range staged {
		attach(parent, obj.Node)
		l.report("debug", "world.object.attached", "", map[string]interface{}{
			"index": obj.Index,
			"name":  obj.Name,
		})
	}
	return doc, nil
}

func (l *Loader) read(path string) ([]byte, *Error) {
	if path == "" {
		return nil, errInvalidPath(path, nil)
	}
	open := l.Open
	if open == nil {
		open = func(p string) (io.ReadCloser, error) { return os.Open(p) }
	}
	f, err := open(path)
	if err != nil {
		return nil, errInvalidPath(path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errFileRead(path, err.Error(), err)
	}
	if !utf8.Valid(data) {
		return nil, errFileRead(path, "content is not valid UTF-8", nil)
	}
	return data, nil
}

// loadObjects loads every object. On failure it returns the error of the
// first failing object in document order, whatever the worker count.
func (l *Loader) loadObjects(objects []Object) ([]LoadedObject, *Error) {
	if l.Workers < 2 || len(objects) < 2 {
		staged := make([]LoadedObject, 0, len(objects))
		for i := range objects {
			obj, err := l.loadObject(i, &objects[i])
			if err != nil {
				return nil, err
			}
			staged = append(staged, obj)
		}
		return staged, nil
	}

	staged := make([]LoadedObject, len(objects))
	errs := make([]*Error, len(objects))
	var g errgroup.Group
	g.SetLimit(l.Workers)
	for i := range objects {
		g.Go(func() error {
			staged[i], errs[i] = l.loadObject(i, &objects[i])
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return staged, nil
}

func (l *Loader) loadObject(index int, obj *Object) (LoadedObject, *Error) {
	ctx := fmt.Sprintf("specs.objects[%d]", index)
	label := withObject(obj.Name)

	switch obj.Model.Type {
	case ModelTypeGLTF:
	case "":
		return LoadedObject{}, errInvalidObjectType(ctx+".model", "type tag is empty", nil).Map(label)
	default:
		return LoadedObject{}, errUnsupportedObjectType(obj.Model.Type, ctx+".model").Map(label)
	}

	resolved := l.Resolver.Resolve(obj.Model.Path)
	if l.Assets == nil {
		return LoadedObject{}, errAssetOpen(resolved, errors.New("no asset loader configured")).Map(label)
	}
	node, err := l.Assets.Load(resolved)
	switch {
	case err != nil && errors.Is(err, ErrNoScene):
		return LoadedObject{}, errSceneGeneration(resolved, err).Map(label)
	case err != nil:
		return LoadedObject{}, errAssetOpen(resolved, err).Map(label)
	case node == nil:
		return LoadedObject{}, errSceneGeneration(resolved, ErrNoScene).Map(label)
	}

	t := obj.Model.Transform.Transform()
	t.ApplyTo(node)
	l.report("debug", "world.object.loaded", "", map[string]interface{}{
		"index": index,
		"name":  obj.Name,
		"path":  resolved,
	})
	return LoadedObject{Index: index, Name: obj.Name, Path: resolved, Node: node, Transform: t}, nil
}

// attach hands a placed subtree to the host. It cannot fail here.
func attach(parent, subtree Node) {
	parent.AddChild(subtree)
}

func (l *Loader) report(level, event, msg string, fields map[string]interface{}) {
	if l.Reporter != nil {
		l.Reporter.Report(level, event, msg, fields)
	}
}
