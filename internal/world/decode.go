package world

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode validates a world document and returns its typed form.
//
// Validation is top-down and stops at the first problem. Every error names
// the offending key, the dotted location of its owner and the YAML position.
func Decode(data []byte) (*Document, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode serializes a document in the same layout Decode accepts.
func Encode(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

func decode(data []byte) (*Document, *Error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errParse(err.Error(), nil, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errParse("document is empty", nil, nil)
	}
	top := resolve(root.Content[0])
	if top.Kind != yaml.MappingNode {
		return nil, errParse(fmt.Sprintf("top level must be a mapping, found %s", describe(top)), top, nil)
	}
	m, err := asMapping(top, "", "", "")
	if err != nil {
		return nil, err
	}

	var doc Document

	meta, err := m.child("metadata")
	if err != nil {
		return nil, err
	}
	if doc.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}

	specs, err := m.child("specs")
	if err != nil {
		return nil, err
	}
	spawn, err := specs.child("spawnpoint")
	if err != nil {
		return nil, err
	}
	if doc.Specs.SpawnPoint, err = decodeSpawnPoint(spawn); err != nil {
		return nil, err
	}
	border, err := specs.child("world_border")
	if err != nil {
		return nil, err
	}
	if doc.Specs.WorldBorder, err = decodeWorldBorder(border); err != nil {
		return nil, err
	}

	// The object list must be a sequence before any element is looked at.
	seq, err := specs.sequence("objects")
	if err != nil {
		return nil, err
	}
	doc.Specs.Objects = make([]Object, 0, len(seq.Content))
	for i, item := range seq.Content {
		obj, err := decodeObject(resolve(item), specs.ctx, i)
		if err != nil {
			return nil, err
		}
		doc.Specs.Objects = append(doc.Specs.Objects, obj)
	}
	return &doc, nil
}

func decodeMetadata(m mapping) (Metadata, *Error) {
	var md Metadata
	var err *Error
	if md.Format, err = m.str("world_format"); err != nil {
		return Metadata{}, err
	}
	if md.Name, err = m.str("name"); err != nil {
		return Metadata{}, err
	}
	if md.Version, err = m.str("version"); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func decodeSpawnPoint(m mapping) (SpawnPoint, *Error) {
	var sp SpawnPoint
	err := m.floats(
		field{"x", &sp.X}, field{"y", &sp.Y}, field{"z", &sp.Z},
		field{"pitch", &sp.Pitch}, field{"yaw", &sp.Yaw},
	)
	if err != nil {
		return SpawnPoint{}, err
	}
	return sp, nil
}

func decodeWorldBorder(m mapping) (WorldBorder, *Error) {
	var b WorldBorder
	err := m.floats(
		field{"x_min", &b.XMin}, field{"x_max", &b.XMax},
		field{"y_min", &b.YMin}, field{"y_max", &b.YMax},
		field{"z_min", &b.ZMin}, field{"z_max", &b.ZMax},
	)
	if err != nil {
		return WorldBorder{}, err
	}
	return b, nil
}

func decodeObject(item *yaml.Node, specsCtx string, index int) (Object, *Error) {
	ctx := fmt.Sprintf("%s[%d]", join(specsCtx, "objects"), index)
	m, err := asMapping(item, fmt.Sprintf("objects[%d]", index), specsCtx, ctx)
	if err != nil {
		return Object{}, err
	}

	// The name is only a label here; it is validated below.
	label := m.peekString("name")
	wrap := func(e *Error) *Error {
		if label == "" {
			return e
		}
		return e.Map(withObject(label))
	}

	model, err := m.child("model")
	if err != nil {
		return Object{}, wrap(err)
	}
	tag, err := decodeTypeTag(model)
	if err != nil {
		return Object{}, wrap(err)
	}

	obj := Object{Model: ModelSpec{Type: tag}}
	if obj.Name, err = m.str("name"); err != nil {
		return Object{}, wrap(err)
	}
	if obj.Model.Path, err = model.str("path"); err != nil {
		return Object{}, wrap(err)
	}
	tn, err := model.value("transform")
	if err != nil {
		return Object{}, wrap(err)
	}
	if obj.Model.Transform, err = decodeTransformSpec(tn, join(model.ctx, "transform")); err != nil {
		return Object{}, wrap(err)
	}
	return obj, nil
}

// decodeTypeTag checks that model.type is a non-empty string. Whether the
// tag is supported is decided when the object is loaded.
func decodeTypeTag(model mapping) (string, *Error) {
	raw := model.get("type")
	if raw == nil {
		return "", errInvalidObjectType(model.ctx, "type tag is missing", model.node)
	}
	n := resolve(raw)
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!str" {
		return "", errInvalidObjectType(model.ctx, "type tag must be a string, found "+describe(n), n)
	}
	if n.Value == "" {
		return "", errInvalidObjectType(model.ctx, "type tag is empty", n)
	}
	return n.Value, nil
}

// mapping is a YAML mapping node together with its dotted location.
type mapping struct {
	node *yaml.Node
	ctx  string
}

type field struct {
	key string
	dst *float64
}

// asMapping checks that n is a mapping without duplicate keys. key and
// owner describe where n was found, for the wrong-type error.
func asMapping(n *yaml.Node, key, owner, ctx string) (mapping, *Error) {
	n = resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return mapping{}, errWrongType(key, owner, "a mapping", n)
	}
	seen := make(map[string]bool, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if seen[k] {
			return mapping{}, newError(Error{
				Kind:    KindParseFailed,
				Field:   k,
				Context: ctx,
				Reason:  "duplicate key",
				Line:    n.Content[i].Line,
				Column:  n.Content[i].Column,
			})
		}
		seen[k] = true
	}
	return mapping{node: n, ctx: ctx}, nil
}

// get returns the raw value for key, following merge keys, or nil.
func (m mapping) get(key string) *yaml.Node {
	return lookup(m.node, key, 0)
}

func lookup(n *yaml.Node, key string, depth int) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode || depth > 8 {
		return nil
	}
	var merge *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if k.Value == key {
			return n.Content[i+1]
		}
		if k.ShortTag() == "!!merge" {
			merge = resolve(n.Content[i+1])
		}
	}
	if merge == nil {
		return nil
	}
	if merge.Kind == yaml.SequenceNode {
		for _, src := range merge.Content {
			if v := lookup(resolve(src), key, depth+1); v != nil {
				return v
			}
		}
		return nil
	}
	return lookup(merge, key, depth+1)
}

func (m mapping) value(key string) (*yaml.Node, *Error) {
	v := m.get(key)
	if v == nil {
		return nil, errKeyMissing(key, m.ctx, m.node)
	}
	return resolve(v), nil
}

func (m mapping) child(key string) (mapping, *Error) {
	v, err := m.value(key)
	if err != nil {
		return mapping{}, err
	}
	return asMapping(v, key, m.ctx, join(m.ctx, key))
}

func (m mapping) sequence(key string) (*yaml.Node, *Error) {
	v, err := m.value(key)
	if err != nil {
		return nil, err
	}
	if v.Kind != yaml.SequenceNode {
		return nil, errWrongType(key, m.ctx, "a sequence", v)
	}
	return v, nil
}

func (m mapping) str(key string) (string, *Error) {
	v, err := m.value(key)
	if err != nil {
		return "", err
	}
	if v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" {
		return "", errWrongType(key, m.ctx, "a string", v)
	}
	return v.Value, nil
}

// only rejects keys outside allowed. Merge keys are always accepted.
func (m mapping) only(allowed ...string) *Error {
	for i := 0; i+1 < len(m.node.Content); i += 2 {
		k := m.node.Content[i]
		if k.ShortTag() == "!!merge" || slices.Contains(allowed, k.Value) {
			continue
		}
		return newError(Error{
			Kind:    KindParseFailed,
			Field:   k.Value,
			Context: m.ctx,
			Reason:  fmt.Sprintf("unknown key %q", k.Value),
			Line:    k.Line,
			Column:  k.Column,
		})
	}
	return nil
}

// peekString returns key's value if it is a string, without failing.
func (m mapping) peekString(key string) string {
	v := resolve(m.get(key))
	if v == nil || v.Kind != yaml.ScalarNode || v.ShortTag() != "!!str" {
		return ""
	}
	return v.Value
}

func (m mapping) float(key string) (float64, *Error) {
	v, err := m.value(key)
	if err != nil {
		return 0, err
	}
	f, ok := scalarFloat(v)
	if !ok {
		return 0, errWrongType(key, m.ctx, "a number", v)
	}
	return f, nil
}

// floats decodes fields in the given order and stops at the first failure.
func (m mapping) floats(fields ...field) *Error {
	for _, f := range fields {
		v, err := m.float(f.key)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

// scalarFloat accepts integer and float scalars, including .nan and .inf.
// Quoted numbers are strings and are rejected.
func scalarFloat(n *yaml.Node) (float64, bool) {
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, false
	}
	switch n.ShortTag() {
	case "!!int", "!!float":
	default:
		return 0, false
	}
	var f float64
	if err := n.Decode(&f); err != nil {
		return 0, false
	}
	return f, true
}

func resolve(n *yaml.Node) *yaml.Node {
	for i := 0; n != nil && n.Kind == yaml.AliasNode && i < 16; i++ {
		n = n.Alias
	}
	return n
}

func join(ctx, key string) string {
	if ctx == "" {
		return key
	}
	return ctx + "." + key
}

// parentOf strips the last dotted segment from ctx.
func parentOf(ctx string) string {
	if i := strings.LastIndexByte(ctx, '.'); i >= 0 {
		return ctx[:i]
	}
	return ""
}
