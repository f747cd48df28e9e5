package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// transformKeys is the order in which transform fields are validated.
// The first failing key is the one reported.
var transformKeys = [10]string{
	"position_x", "position_y", "position_z",
	"rotation_x", "rotation_y", "rotation_z", "rotation_w",
	"scale_x", "scale_y", "scale_z",
}

// TransformSpec is the serialized form of a Transform: ten independent scalars.
type TransformSpec struct {
	PositionX float64 `yaml:"position_x"`
	PositionY float64 `yaml:"position_y"`
	PositionZ float64 `yaml:"position_z"`
	RotationX float64 `yaml:"rotation_x"`
	RotationY float64 `yaml:"rotation_y"`
	RotationZ float64 `yaml:"rotation_z"`
	RotationW float64 `yaml:"rotation_w"`
	ScaleX    float64 `yaml:"scale_x"`
	ScaleY    float64 `yaml:"scale_y"`
	ScaleZ    float64 `yaml:"scale_z"`
}

// fields returns pointers to s's values in transformKeys order.
func (s *TransformSpec) fields() [10]*float64 {
	return [10]*float64{
		&s.PositionX, &s.PositionY, &s.PositionZ,
		&s.RotationX, &s.RotationY, &s.RotationZ, &s.RotationW,
		&s.ScaleX, &s.ScaleY, &s.ScaleZ,
	}
}

// Transform converts s 1:1. The quaternion is not normalized.
func (s TransformSpec) Transform() Transform {
	return Transform{
		Position: mgl64.Vec3{s.PositionX, s.PositionY, s.PositionZ},
		Rotation: mgl64.Quat{W: s.RotationW, V: mgl64.Vec3{s.RotationX, s.RotationY, s.RotationZ}},
		Scale:    mgl64.Vec3{s.ScaleX, s.ScaleY, s.ScaleZ},
	}
}

// Transform places a loaded subtree: position, rotation quaternion and
// non-uniform scale. No unit-quaternion invariant is enforced.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3
}

// ApplyTo sets t on n.
func (t Transform) ApplyTo(n Node) {
	n.SetTransform(t.Position, t.Rotation, t.Scale)
}

func (t Transform) String() string {
	return fmt.Sprintf("position:(%g, %g, %g) rotation:(%g, %g, %g, %g) scale:(%g, %g, %g)",
		t.Position[0], t.Position[1], t.Position[2],
		t.Rotation.V[0], t.Rotation.V[1], t.Rotation.V[2], t.Rotation.W,
		t.Scale[0], t.Scale[1], t.Scale[2])
}

// EncodeTransform is the inverse of TransformSpec.Transform.
func EncodeTransform(t Transform) TransformSpec {
	return TransformSpec{
		PositionX: t.Position[0],
		PositionY: t.Position[1],
		PositionZ: t.Position[2],
		RotationX: t.Rotation.V[0],
		RotationY: t.Rotation.V[1],
		RotationZ: t.Rotation.V[2],
		RotationW: t.Rotation.W,
		ScaleX:    t.Scale[0],
		ScaleY:    t.Scale[1],
		ScaleZ:    t.Scale[2],
	}
}

// DecodeTransform reads a transform. The mapping form names each of the
// ten values; the sequence form lists them in field order. context is the
// dotted location of the transform and is used in error messages.
func DecodeTransform(node *yaml.Node, context string) (Transform, error) {
	spec, err := decodeTransformSpec(node, context)
	if err != nil {
		return Transform{}, err
	}
	return spec.Transform(), nil
}

func decodeTransformSpec(node *yaml.Node, context string) (TransformSpec, *Error) {
	if n := resolve(node); n != nil && n.Kind == yaml.SequenceNode {
		return decodeTransformSeq(n, context)
	}
	m, err := asMapping(node, "transform", parentOf(context), context)
	if err != nil {
		return TransformSpec{}, err
	}
	var spec TransformSpec
	dst := spec.fields()
	for i, key := range transformKeys {
		v, err := m.float(key)
		if err != nil {
			return TransformSpec{}, err
		}
		*dst[i] = v
	}
	if err := m.only(transformKeys[:]...); err != nil {
		return TransformSpec{}, err
	}
	return spec, nil
}

func decodeTransformSeq(seq *yaml.Node, context string) (TransformSpec, *Error) {
	var spec TransformSpec
	dst := spec.fields()
	for i, key := range transformKeys {
		if i >= len(seq.Content) {
			return TransformSpec{}, errKeyMissing(key, context, seq)
		}
		item := resolve(seq.Content[i])
		v, ok := scalarFloat(item)
		if !ok {
			return TransformSpec{}, errWrongType(key, context, "a number", item)
		}
		*dst[i] = v
	}
	if len(seq.Content) > len(transformKeys) {
		extra := seq.Content[len(transformKeys)]
		return TransformSpec{}, newError(Error{
			Kind:    KindParseFailed,
			Context: context,
			Reason:  fmt.Sprintf("transform takes %d values, found %d", len(transformKeys), len(seq.Content)),
			Line:    extra.Line,
			Column:  extra.Column,
		})
	}
	return spec, nil
}
