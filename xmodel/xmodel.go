// Package xmodel reads and writes XMODEL_EXPORT (version 6) text files.
package xmodel

import (
	"fmt"

	"github.com/binzume/xmodelconv/geom"
)

// Version is the only supported format version.
const Version = 6

type Model struct {
	Version int

	// Header counts as declared in the file. Not validated against the tables.
	NumBones     int
	NumVertices  int
	NumFaces     int
	NumObjects   int
	NumMaterials int

	Bones     []*Bone
	Vertices  []*Vertex
	Objects   []*Object
	Materials []*Material
}

func NewModel() *Model {
	return &Model{Version: Version, NumFaces: -1}
}

type Bone struct {
	Index  int
	Parent int // -1: root
	Name   string

	Offset geom.Vector3
	X      geom.Vector3
	Y      geom.Vector3
	Z      geom.Vector3
	Scale  geom.Vector3

	// Vertices weighted to this bone. Indices into Model.Vertices.
	Vertices []int
}

func NewBone(index, parent int, name string) *Bone {
	return &Bone{
		Index:  index,
		Parent: parent,
		Name:   name,
		Scale:  geom.Vector3{X: 1, Y: 1, Z: 1},
	}
}

// Matrix returns the bone transform with X, Y, Z as basis columns and Offset as translation.
func (b *Bone) Matrix() *geom.Matrix4 {
	return geom.NewMatrix4FromColumns(&b.X, &b.Y, &b.Z, &b.Offset)
}

// SetMatrix is the inverse of Matrix.
func (b *Bone) SetMatrix(m *geom.Matrix4) {
	b.X = *m.Column(0)
	b.Y = *m.Column(1)
	b.Z = *m.Column(2)
	b.Offset = *m.Translation()
}

type Influence struct {
	Bone   int
	Weight float32
}

type Vertex struct {
	Offset     geom.Vector3
	Normal     geom.Vector3
	UV         geom.Vector2
	Influences []Influence
}

type Face struct {
	Object   int
	Material int
	Vertices []int
}

type Object struct {
	Index int
	Name  string
	Faces []*Face
}

func NewObject(index int) *Object {
	return &Object{Index: index, Name: fmt.Sprintf("UnnamedObject_%d", index)}
}

type Material struct {
	Index       int
	Name        string
	Shading     string
	TexturePath string
}

// BoneByName returns nil if no bone has the name.
func (m *Model) BoneByName(name string) *Bone {
	for _, b := range m.Bones {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Children returns the direct children of bone index parent (-1 for roots).
func (m *Model) Children(parent int) []*Bone {
	var bones []*Bone
	for _, b := range m.Bones {
		if b.Parent == parent {
			bones = append(bones, b)
		}
	}
	return bones
}

// Builder receives a fully parsed model. It is not called when parsing fails.
type Builder interface {
	Build(model *Model) error
}

type BuilderFunc func(model *Model) error

func (f BuilderFunc) Build(model *Model) error {
	return f(model)
}
