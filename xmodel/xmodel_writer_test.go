package xmodel

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/binzume/xmodelconv/geom"
	"github.com/pkg/errors"
)

func newTriangleScene() *Scene {
	normal := geom.Vector3{Z: 1}
	return &Scene{
		Bones: []*SceneBone{
			{Name: "root", Matrix: *geom.NewMatrix4()},
		},
		Meshes: []*SceneMesh{
			{
				Name:         "cube",
				VertexGroups: []string{"root"},
				Vertices: []*SceneVertex{
					{Position: geom.Vector3{}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
					{Position: geom.Vector3{X: 1}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
					{Position: geom.Vector3{Y: 1}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
				},
				Polygons: []*ScenePolygon{
					{Vertices: []int{0, 1, 2}, UVs: []geom.Vector2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}},
				},
			},
		},
	}
}

const triangleOutput = `MODEL
VERSION 6

NUMBONES 1
BONE 0 -1 "root"

BONE 0
OFFSET 0.000000, 0.000000, 0.000000
SCALE 1.000000, 1.000000, 1.000000
X 1.000000, 0.000000, 0.000000
Y 0.000000, 1.000000, 0.000000
Z 0.000000, 0.000000, 1.000000

NUMVERTS 3
VERT 0
OFFSET 0.000000, 0.000000, 0.000000
BONES 1
BONE 0 1.000000

VERT 1
OFFSET 1.000000, 0.000000, 0.000000
BONES 1
BONE 0 1.000000

VERT 2
OFFSET 0.000000, 1.000000, 0.000000
BONES 1
BONE 0 1.000000

NUMFACES 1
TRI 0 0 0 0
VERT 0
NORMAL 0.000000 0.000000 1.000000
COLOR 1.000000 1.000000 1.000000 1.000000
UV 1 0.000000 1.000000
VERT 1
NORMAL 0.000000 0.000000 1.000000
COLOR 1.000000 1.000000 1.000000 1.000000
UV 1 1.000000 1.000000
VERT 2
NORMAL 0.000000 0.000000 1.000000
COLOR 1.000000 1.000000 1.000000 1.000000
UV 1 0.000000 0.000000

NUMOBJECTS 1
OBJECT 0 "cube"

NUMMATERIALS 1
MATERIAL 0 "material_0" "Phong" ""
COLOR 0.000000 0.000000 0.000000 1.000000
TRANSPARENCY 0.000000 0.000000 0.000000 1.000000
AMBIENTCOLOR 0.000000 0.000000 0.000000 1.000000
INCANDESCENCE 0.000000 0.000000 0.000000 1.000000
COEFFS 0.800000 0.000000
GLOW 0.000000 0
REFRACTIVE 6 1.000000
SPECULARCOLOR -1.000000 -1.000000 -1.000000 1.000000
REFLECTIVECOLOR -1.000000 -1.000000 -1.000000 1.000000
REFLECTIVE -1 -1.000000
BLINN -1.000000 -1.000000
PHONG -1.000000

`

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(newTriangleScene(), &buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.String() != triangleOutput {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestWriteMaterialName(t *testing.T) {
	scene := newTriangleScene()
	var buf bytes.Buffer
	w := NewWriter()
	w.MaterialPrefix = "mtl"
	if err := w.Write(scene, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "MATERIAL 0 \"mtl_0\" \"Phong\" \"\"\n") {
		t.Errorf("material prefix not used:\n%s", buf.String())
	}

	scene.Meshes[0].Image = &SceneImage{Material: "skin", Path: "textures/skin.tga"}
	buf.Reset()
	if err := w.Write(scene, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "MATERIAL 0 \"skin\" \"Phong\" \"textures/skin.tga\"\n") {
		t.Errorf("image material not used:\n%s", buf.String())
	}
}

func newSkinnedScene() *Scene {
	child := geom.NewTranslateMatrix4(0, 2, 0)
	normal := geom.Vector3{Y: 1}
	return &Scene{
		Bones: []*SceneBone{
			{Name: "hips", Matrix: *geom.NewTranslateMatrix4(0, 1, 0)},
			{Name: "spine", Parent: "hips", Matrix: *child},
		},
		Meshes: []*SceneMesh{
			{
				Name:         "body",
				VertexGroups: []string{"spine", "hips"},
				Vertices: []*SceneVertex{
					{Position: geom.Vector3{X: 1, Y: 2, Z: 3}, Normal: normal, Groups: []GroupWeight{{Group: 1, Weight: 1}}},
					{Position: geom.Vector3{X: 4, Y: 5, Z: 6}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 0.25}, {Group: 1, Weight: 0.75}}},
					{Position: geom.Vector3{X: 7, Y: 8, Z: 9}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
				},
				Polygons: []*ScenePolygon{
					{Vertices: []int{2, 1, 0}, UVs: []geom.Vector2{{X: 0.25, Y: 0.5}, {X: 0.5, Y: 0.75}, {X: 0.125, Y: 0.25}}},
				},
			},
			{
				Name:         "head",
				VertexGroups: []string{"spine"},
				Vertices: []*SceneVertex{
					{Position: geom.Vector3{X: -1}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
					{Position: geom.Vector3{Y: -1}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
					{Position: geom.Vector3{Z: -1}, Normal: normal, Groups: []GroupWeight{{Group: 0, Weight: 1}}},
				},
				Polygons: []*ScenePolygon{
					{Vertices: []int{0, 1, 2}, UVs: []geom.Vector2{{X: 0.5, Y: 0.5}, {X: 0.5, Y: 0.5}, {X: 0.5, Y: 0.5}}},
				},
				Image: &SceneImage{Material: "face", Path: "face.png"},
			},
		},
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	scene := newSkinnedScene()
	var buf bytes.Buffer
	if err := Write(scene, &buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	model, err := Parse(&buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if len(model.Bones) != 2 {
		t.Fatalf("expected 2 bones, got %d", len(model.Bones))
	}
	if model.Bones[0].Name != "hips" || model.Bones[0].Parent != -1 {
		t.Errorf("unexpected root: %+v", model.Bones[0])
	}
	if model.Bones[1].Name != "spine" || model.Bones[1].Parent != 0 {
		t.Errorf("unexpected child: %+v", model.Bones[1])
	}
	if model.Bones[1].Offset != (geom.Vector3{Y: 2}) {
		t.Errorf("unexpected child offset %v", model.Bones[1].Offset)
	}
	if *model.Bones[0].Matrix() != scene.Bones[0].Matrix {
		t.Errorf("matrix mismatch: %v", model.Bones[0].Matrix())
	}

	if len(model.Vertices) != 6 {
		t.Fatalf("expected 6 vertices, got %d", len(model.Vertices))
	}
	if model.Vertices[2].Offset != (geom.Vector3{X: 7, Y: 8, Z: 9}) || model.Vertices[3].Offset != (geom.Vector3{X: -1}) {
		t.Errorf("unexpected positions %v %v", model.Vertices[2].Offset, model.Vertices[3].Offset)
	}
	// group 0 of "body" is "spine" (bone 1)
	inf := model.Vertices[1].Influences
	if len(inf) != 2 || inf[0].Bone != 1 || inf[0].Weight != 0.25 || inf[1].Bone != 0 || inf[1].Weight != 0.75 {
		t.Errorf("unexpected influences %v", inf)
	}

	if len(model.Objects) != 2 || model.Objects[0].Name != "body" || model.Objects[1].Name != "head" {
		t.Fatalf("unexpected objects %v", model.Objects)
	}
	f := model.Objects[0].Faces[0]
	if len(f.Vertices) != 3 || f.Vertices[0] != 2 || f.Vertices[1] != 1 || f.Vertices[2] != 0 {
		t.Errorf("unexpected face %v", f.Vertices)
	}
	f = model.Objects[1].Faces[0]
	if f.Vertices[0] != 3 || f.Vertices[1] != 4 || f.Vertices[2] != 5 || f.Material != 1 {
		t.Errorf("unexpected face %+v", f)
	}

	for _, poly := range scene.Meshes[0].Polygons {
		for c, vi := range poly.Vertices {
			got := model.Vertices[vi].UV
			want := poly.UVs[c]
			if !approx(got.X, want.X) || !approx(got.Y, want.Y) {
				t.Errorf("vertex %d: expected uv %v, got %v", vi, want, got)
			}
		}
	}

	if len(model.Materials) != 2 || model.Materials[0].Name != "material_0" || model.Materials[1].Name != "face" || model.Materials[1].TexturePath != "face.png" {
		t.Errorf("unexpected materials %v", model.Materials)
	}
}

func TestWriteModelRoundTrip(t *testing.T) {
	model, err := Parse(strings.NewReader(triangleModel))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Write(NewSceneFromModel(model), &buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	model2, err := Parse(&buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(model2.Bones) != len(model.Bones) || len(model2.Vertices) != len(model.Vertices) {
		t.Fatalf("table sizes differ")
	}
	for i, b := range model.Bones {
		b2 := model2.Bones[i]
		if b.Name != b2.Name || b.Parent != b2.Parent || *b.Matrix() != *b2.Matrix() {
			t.Errorf("bone %d differs: %+v %+v", i, b, b2)
		}
	}
	// faces are renumbered in first-use order
	for i, vi := range model.Objects[0].Faces[0].Vertices {
		v := model.Vertices[vi]
		v2 := model2.Vertices[model2.Objects[0].Faces[0].Vertices[i]]
		if v.Offset != v2.Offset || !approx(v.UV.X, v2.UV.X) || !approx(v.UV.Y, v2.UV.Y) {
			t.Errorf("corner %d differs: %+v %+v", i, v, v2)
		}
		if len(v.Influences) != len(v2.Influences) {
			t.Errorf("corner %d influences differ", i)
		}
	}
	if model2.Materials[0].Name != "skin" || model2.Materials[0].TexturePath != "textures/skin.tga" {
		t.Errorf("unexpected material %+v", model2.Materials[0])
	}
}

func TestWriteErrors(t *testing.T) {
	orphan := newTriangleScene()
	orphan.Meshes[0].Vertices[1].Groups = []GroupWeight{{Group: 5, Weight: 1}}

	parentOrder := newSkinnedScene()
	parentOrder.Bones[0], parentOrder.Bones[1] = parentOrder.Bones[1], parentOrder.Bones[0]

	dupName := newSkinnedScene()
	dupName.Bones[1].Name = dupName.Bones[0].Name

	badIndex := newTriangleScene()
	badIndex.Meshes[0].Polygons[0].Vertices[2] = 3

	tests := []struct {
		name  string
		scene *Scene
		err   error
	}{
		{"orphan vertex", orphan, ErrOrphanVertex},
		{"parent after child", parentOrder, ErrUnresolvedBoneReference},
		{"duplicate bone name", dupName, ErrUnresolvedBoneReference},
		{"polygon index", badIndex, ErrUnresolvedVertexReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Write(tt.scene, &buf)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if buf.Len() != 0 {
				t.Errorf("nothing should be written on error, got %d bytes", buf.Len())
			}
		})
	}
}

func TestWriteSkipsUnknownGroup(t *testing.T) {
	scene := newTriangleScene()
	scene.Meshes[0].VertexGroups = []string{"root", "missing"}
	scene.Meshes[0].Vertices[0].Groups = []GroupWeight{{Group: 1, Weight: 0.5}, {Group: 0, Weight: 0.5}}

	var buf bytes.Buffer
	if err := Write(scene, &buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "VERT 0\nOFFSET 0.000000, 0.000000, 0.000000\nBONES 1\nBONE 0 0.500000\n") {
		t.Errorf("unknown group should be skipped:\n%s", buf.String())
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "ok.xmodel_export")
	if err := Save(newTriangleScene(), path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != triangleOutput {
		t.Errorf("unexpected file content")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0644 {
			t.Errorf("unexpected file mode %v", info.Mode())
		}
	}

	orphan := newTriangleScene()
	orphan.Meshes[0].VertexGroups = nil
	path = filepath.Join(dir, "orphan.xmodel_export")
	if err := Save(orphan, path); !errors.Is(err, ErrOrphanVertex) {
		t.Fatalf("expected orphan vertex error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file should not exist after failed save")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.xmodel_export")
	bad := filepath.Join(dir, "bad.xmodel_export")
	os.WriteFile(good, []byte(triangleModel), 0644)
	os.WriteFile(bad, []byte("MODEL\nVERSION 5\n"), 0644)

	called := 0
	b := BuilderFunc(func(m *Model) error {
		called++
		if len(m.Bones) != 2 {
			t.Errorf("unexpected bones %d", len(m.Bones))
		}
		return nil
	})

	if err := Import(good, b, nil); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if err := Import(bad, b, nil); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected unsupported version, got %v", err)
	}
	if called != 1 {
		t.Errorf("builder should be called once, got %d", called)
	}
}

func TestNewSceneFromModel(t *testing.T) {
	model, err := Parse(strings.NewReader(triangleModel))
	if err != nil {
		t.Fatal(err)
	}
	scene := NewSceneFromModel(model)
	if len(scene.Bones) != 2 || scene.Bones[1].Parent != "root" || scene.Bones[0].Parent != "" {
		t.Errorf("unexpected bones %v", scene.Bones)
	}
	if len(scene.Meshes) != 1 {
		t.Fatalf("expected 1 mesh")
	}
	mesh := scene.Meshes[0]
	if mesh.Name != "tri" || len(mesh.Vertices) != 3 || mesh.Image == nil || mesh.Image.Path != "textures/skin.tga" {
		t.Errorf("unexpected mesh %+v", mesh)
	}
	// first corner references vertex 2
	if mesh.Vertices[0].Position != (geom.Vector3{Y: 1}) || mesh.Polygons[0].Vertices[0] != 0 {
		t.Errorf("unexpected first vertex %+v", mesh.Vertices[0])
	}
}
