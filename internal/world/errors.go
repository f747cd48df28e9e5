package world

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies why a world load failed.
type Kind int

const (
	KindInvalidPath Kind = iota + 1
	KindFileReadFailed
	KindParseFailed
	KindKeyMissing
	KindWrongType
	KindUnsupportedObjectType
	KindInvalidObjectType
	KindAssetOpenFailed
	KindSceneGenerationFailed
)

var kindNames = map[Kind]string{
	KindInvalidPath:           "invalid_path",
	KindFileReadFailed:        "file_read_failed",
	KindParseFailed:           "parse_failed",
	KindKeyMissing:            "key_missing",
	KindWrongType:             "wrong_type",
	KindUnsupportedObjectType: "unsupported_object_type",
	KindInvalidObjectType:     "invalid_object_type",
	KindAssetOpenFailed:       "asset_open_failed",
	KindSceneGenerationFailed: "scene_generation_failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInvalidPath           = &Error{Kind: KindInvalidPath}
	ErrFileReadFailed        = &Error{Kind: KindFileReadFailed}
	ErrParseFailed           = &Error{Kind: KindParseFailed}
	ErrKeyMissing            = &Error{Kind: KindKeyMissing}
	ErrWrongType             = &Error{Kind: KindWrongType}
	ErrUnsupportedObjectType = &Error{Kind: KindUnsupportedObjectType}
	ErrInvalidObjectType     = &Error{Kind: KindInvalidObjectType}
	ErrAssetOpenFailed       = &Error{Kind: KindAssetOpenFailed}
	ErrSceneGenerationFailed = &Error{Kind: KindSceneGenerationFailed}
)

// Error is the single error type returned by the world loading pipeline.
//
// The trace is captured when the error is first constructed and is carried
// unchanged through Map. An Error is never mutated after construction.
type Error struct {
	Kind Kind

	// Field is the schema key the failure is about (position_x, model, type).
	Field string
	// Context is the dotted location of the owning mapping, e.g.
	// specs.objects[2].model.transform.
	Context string
	// Object is the name of the world object being processed, if known.
	Object string
	// Path is the document path or the resolved asset path.
	Path string
	// Tag is the offending model type tag.
	Tag    string
	Reason string

	Line   int
	Column int

	Err   error
	Trace Trace
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("world: ")
	switch e.Kind {
	case KindInvalidPath:
		fmt.Fprintf(&b, "cannot open world file %q", e.Path)
	case KindFileReadFailed:
		fmt.Fprintf(&b, "cannot read world file %q", e.Path)
	case KindParseFailed:
		b.WriteString("invalid world document")
		if e.Path != "" {
			fmt.Fprintf(&b, " %q", e.Path)
		}
	case KindKeyMissing:
		fmt.Fprintf(&b, "missing key %q", e.Field)
	case KindWrongType:
		fmt.Fprintf(&b, "wrong type for key %q", e.Field)
	case KindUnsupportedObjectType:
		fmt.Fprintf(&b, "unsupported object type %q", e.Tag)
	case KindInvalidObjectType:
		fmt.Fprintf(&b, "invalid object type in key %q", e.Field)
	case KindAssetOpenFailed:
		fmt.Fprintf(&b, "cannot open asset %q", e.Path)
	case KindSceneGenerationFailed:
		fmt.Fprintf(&b, "asset %q produced no scene", e.Path)
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Object != "" {
		fmt.Fprintf(&b, " in object %q", e.Object)
	}
	if e.Context != "" {
		fmt.Fprintf(&b, " at %s", e.Context)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d, column %d)", e.Line, e.Column)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Unwrap returns the lower-level cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Map returns a new Error whose payload is f applied to a copy of e.
// The trace captured at the origin is preserved regardless of what f returns.
func (e *Error) Map(f func(Error) Error) *Error {
	out := f(*e)
	out.Trace = e.Trace
	return &out
}

// Detail returns the message followed by the captured trace.
func (e *Error) Detail() string {
	if len(e.Trace) == 0 {
		return e.Error()
	}
	return e.Error() + "\n" + e.Trace.String()
}

// withObject attaches the owning object's name to an error raised below it.
func withObject(name string) func(Error) Error {
	return func(e Error) Error {
		if e.Object == "" {
			e.Object = name
		}
		return e
	}
}

func newError(e Error) *Error {
	e.Trace = captureTrace()
	return &e
}

func errInvalidPath(path string, err error) *Error {
	reason := "empty path"
	if err != nil {
		reason = err.Error()
	}
	return newError(Error{Kind: KindInvalidPath, Path: path, Reason: reason, Err: err})
}

func errFileRead(path, reason string, err error) *Error {
	return newError(Error{Kind: KindFileReadFailed, Path: path, Reason: reason, Err: err})
}

func errParse(reason string, at *yaml.Node, err error) *Error {
	e := Error{Kind: KindParseFailed, Reason: reason, Err: err}
	if at != nil {
		e.Line, e.Column = at.Line, at.Column
	}
	return newError(e)
}

func errKeyMissing(field, context string, owner *yaml.Node) *Error {
	e := Error{Kind: KindKeyMissing, Field: field, Context: context}
	if owner != nil {
		e.Line, e.Column = owner.Line, owner.Column
	}
	return newError(e)
}

func errWrongType(field, context, want string, value *yaml.Node) *Error {
	e := Error{
		Kind:    KindWrongType,
		Field:   field,
		Context: context,
		Reason:  fmt.Sprintf("expected %s, found %s", want, describe(value)),
	}
	if value != nil {
		e.Line, e.Column = value.Line, value.Column
	}
	return newError(e)
}

func errInvalidObjectType(context, reason string, at *yaml.Node) *Error {
	e := Error{Kind: KindInvalidObjectType, Field: "type", Context: context, Reason: reason}
	if at != nil {
		e.Line, e.Column = at.Line, at.Column
	}
	return newError(e)
}

func errUnsupportedObjectType(tag, context string) *Error {
	return newError(Error{
		Kind:    KindUnsupportedObjectType,
		Field:   "type",
		Tag:     tag,
		Context: context,
		Reason:  fmt.Sprintf("only %q models can be loaded", ModelTypeGLTF),
	})
}

func errAssetOpen(path string, err error) *Error {
	return newError(Error{Kind: KindAssetOpenFailed, Path: path, Reason: err.Error(), Err: err})
}

func errSceneGeneration(path string, err error) *Error {
	return newError(Error{Kind: KindSceneGenerationFailed, Path: path, Reason: err.Error(), Err: err})
}

// describe names a YAML value's type without echoing its content.
func describe(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return "null"
		case "!!str":
			return "a string"
		case "!!int":
			return "an integer"
		case "!!float":
			return "a float"
		case "!!bool":
			return "a boolean"
		default:
			return n.ShortTag()
		}
	case yaml.AliasNode:
		return describe(n.Alias)
	}
	return "an unknown node"
}
