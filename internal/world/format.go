// Package world decodes Sutera world documents and places their objects
// into a host scene graph.
//
// A world document is YAML with two top-level mappings: metadata
// (world_format, name, version) and specs (spawnpoint, world_border,
// objects). Each object names a model by type tag, logical path and a
// ten-field transform.
package world

// Document is a decoded world file. It is built once per load and is not
// modified afterwards.
type Document struct {
	Metadata Metadata `yaml:"metadata"`
	Specs    Specs    `yaml:"specs"`
}

// Metadata identifies the document. Version is kept as an opaque string.
type Metadata struct {
	Format  string `yaml:"world_format"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Specs holds the world content. Objects are loaded and placed in order.
type Specs struct {
	SpawnPoint  SpawnPoint  `yaml:"spawnpoint"`
	WorldBorder WorldBorder `yaml:"world_border"`
	Objects     []Object    `yaml:"objects"`
}

// SpawnPoint is where players enter the world. Values are not clamped.
type SpawnPoint struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
	Pitch float64 `yaml:"pitch"`
	Yaw   float64 `yaml:"yaw"`
}

// WorldBorder bounds the playable volume.
//
// Min <= Max is not checked: an inverted border decodes without error.
type WorldBorder struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	YMin float64 `yaml:"y_min"`
	YMax float64 `yaml:"y_max"`
	ZMin float64 `yaml:"z_min"`
	ZMax float64 `yaml:"z_max"`
}

// Contains reports whether p lies inside the border, bounds inclusive.
func (b WorldBorder) Contains(x, y, z float64) bool {
	return x >= b.XMin && x <= b.XMax &&
		y >= b.YMin && y <= b.YMax &&
		z >= b.ZMin && z <= b.ZMax
}

// Object is one placed model. Names are free-form and may repeat.
type Object struct {
	Name  string    `yaml:"name"`
	Model ModelSpec `yaml:"model"`
}

// ModelSpec references the asset backing an object.
type ModelSpec struct {
	Type      string        `yaml:"type"`
	Path      string        `yaml:"path"`
	Transform TransformSpec `yaml:"transform"`
}

// ModelTypeGLTF is the only model type the loader can place.
const ModelTypeGLTF = "gltf"
