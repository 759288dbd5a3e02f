package xmodel

import (
	"github.com/binzume/xmodelconv/geom"
)

// Scene is the host data the writer exports.
type Scene struct {
	Bones  []*SceneBone
	Meshes []*SceneMesh
}

type SceneBone struct {
	Name   string
	Parent string // "": root. Must precede the bone in Scene.Bones.
	Matrix geom.Matrix4
}

type SceneMesh struct {
	Name         string
	VertexGroups []string // group index -> name. Names must match bone names.
	Vertices     []*SceneVertex
	Polygons     []*ScenePolygon
	Image        *SceneImage
}

type SceneVertex struct {
	Position geom.Vector3
	Normal   geom.Vector3
	Groups   []GroupWeight
}

type GroupWeight struct {
	Group  int
	Weight float32
}

// ScenePolygon lists mesh-local vertex indices and one UV per corner.
type ScenePolygon struct {
	Vertices []int
	UVs      []geom.Vector2
}

type SceneImage struct {
	Material string
	Path     string
}

// NewSceneFromModel converts a parsed model back to writer input.
// Each object becomes a mesh holding the vertices its faces reference.
func NewSceneFromModel(m *Model) *Scene {
	scene := &Scene{}
	for _, b := range m.Bones {
		sb := &SceneBone{Name: b.Name, Matrix: *b.Matrix()}
		if b.Parent >= 0 && b.Parent < len(m.Bones) {
			sb.Parent = m.Bones[b.Parent].Name
		}
		scene.Bones = append(scene.Bones, sb)
	}

	groups := make([]string, len(m.Bones))
	for i, b := range m.Bones {
		groups[i] = b.Name
	}

	for _, obj := range m.Objects {
		mesh := &SceneMesh{Name: obj.Name, VertexGroups: groups}
		vmap := map[int]int{}
		material := -1
		for _, f := range obj.Faces {
			if material < 0 {
				material = f.Material
			}
			poly := &ScenePolygon{}
			for _, vi := range f.Vertices {
				local, ok := vmap[vi]
				if !ok {
					v := m.Vertices[vi]
					local = len(mesh.Vertices)
					vmap[vi] = local
					sv := &SceneVertex{Position: v.Offset, Normal: v.Normal}
					for _, inf := range v.Influences {
						sv.Groups = append(sv.Groups, GroupWeight{Group: inf.Bone, Weight: inf.Weight})
					}
					mesh.Vertices = append(mesh.Vertices, sv)
				}
				poly.Vertices = append(poly.Vertices, local)
				poly.UVs = append(poly.UVs, m.Vertices[vi].UV)
			}
			mesh.Polygons = append(mesh.Polygons, poly)
		}
		if material >= 0 && material < len(m.Materials) {
			mat := m.Materials[material]
			mesh.Image = &SceneImage{Material: mat.Name, Path: mat.TexturePath}
		}
		scene.Meshes = append(scene.Meshes, mesh)
	}
	return scene
}
