package xmodel

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultMaterialPrefix = "material"

// Writer for xmodel_export file.
type Writer struct {
	Logger *zap.Logger
	// Name prefix for meshes without an image. "material" gives material_0, material_1...
	MaterialPrefix string
}

func NewWriter() *Writer {
	return &Writer{Logger: zap.NewNop(), MaterialPrefix: DefaultMaterialPrefix}
}

// WriteState holds everything one write resolves before emitting text.
type WriteState struct {
	scene      *Scene
	boneIndex  map[string]int
	parents    []int
	influences [][][]Influence // mesh -> vertex -> influences
	logger     *zap.Logger
}

func newWriteState(scene *Scene, logger *zap.Logger) *WriteState {
	return &WriteState{scene: scene, boneIndex: map[string]int{}, logger: logger}
}

func (st *WriteState) resolveBones() error {
	for index, b := range st.scene.Bones {
		parent := -1
		if b.Parent != "" {
			p, ok := st.boneIndex[b.Parent]
			if !ok {
				return errors.Wrapf(ErrUnresolvedBoneReference, "bone %q: parent %q is not defined before it", b.Name, b.Parent)
			}
			parent = p
		}
		if _, dup := st.boneIndex[b.Name]; dup {
			return errors.Wrapf(ErrUnresolvedBoneReference, "bone %q is defined twice", b.Name)
		}
		st.parents = append(st.parents, parent)
		st.boneIndex[b.Name] = index
	}
	return nil
}

func (st *WriteState) resolveInfluences() error {
	total := 0
	for _, mesh := range st.scene.Meshes {
		skipped := map[string]bool{}
		meshInfluences := make([][]Influence, len(mesh.Vertices))
		for i, v := range mesh.Vertices {
			for _, g := range v.Groups {
				var name string
				if g.Group >= 0 && g.Group < len(mesh.VertexGroups) {
					name = mesh.VertexGroups[g.Group]
				}
				bone, ok := st.boneIndex[name]
				if !ok {
					if !skipped[name] {
						skipped[name] = true
						st.logger.Warn("skip vertex group", zap.String("mesh", mesh.Name), zap.String("group", name), zap.Int("index", g.Group))
					}
					continue
				}
				meshInfluences[i] = append(meshInfluences[i], Influence{Bone: bone, Weight: g.Weight})
			}
			if len(meshInfluences[i]) == 0 {
				return errors.Wrapf(ErrOrphanVertex, "mesh %q vertex %d (global %d)", mesh.Name, i, total+i)
			}
		}
		for pi, poly := range mesh.Polygons {
			for _, vi := range poly.Vertices {
				if vi < 0 || vi >= len(mesh.Vertices) {
					return errors.Wrapf(ErrUnresolvedVertexReference, "mesh %q polygon %d: vertex %d", mesh.Name, pi, vi)
				}
			}
		}
		st.influences = append(st.influences, meshInfluences)
		total += len(mesh.Vertices)
	}
	return nil
}

// Write emits scene as xmodel_export text. Nothing is written if the scene cannot be resolved.
func (wr *Writer) Write(scene *Scene, ww io.Writer) error {
	logger := wr.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := wr.MaterialPrefix
	if prefix == "" {
		prefix = DefaultMaterialPrefix
	}
	st := newWriteState(scene, logger)
	if err := st.resolveBones(); err != nil {
		return err
	}
	if err := st.resolveInfluences(); err != nil {
		return err
	}

	w := bufio.NewWriter(ww)
	w.WriteString("MODEL\n")
	fmt.Fprintf(w, "VERSION %d\n\n", Version)

	fmt.Fprintf(w, "NUMBONES %d\n", len(scene.Bones))
	for index, b := range scene.Bones {
		fmt.Fprintf(w, "BONE %d %d \"%s\"\n", index, st.parents[index], b.Name)
	}
	w.WriteString("\n")

	for index, b := range scene.Bones {
		m := &b.Matrix
		fmt.Fprintf(w, "BONE %d\n", index)
		fmt.Fprintf(w, "OFFSET %f, %f, %f\n", m[12], m[13], m[14])
		w.WriteString("SCALE 1.000000, 1.000000, 1.000000\n")
		fmt.Fprintf(w, "X %f, %f, %f\n", m[0], m[1], m[2])
		fmt.Fprintf(w, "Y %f, %f, %f\n", m[4], m[5], m[6])
		fmt.Fprintf(w, "Z %f, %f, %f\n", m[8], m[9], m[10])
		w.WriteString("\n")
	}

	numVerts, numFaces := 0, 0
	for _, mesh := range scene.Meshes {
		numVerts += len(mesh.Vertices)
		numFaces += len(mesh.Polygons)
	}

	fmt.Fprintf(w, "NUMVERTS %d\n", numVerts)
	total := 0
	for mi, mesh := range scene.Meshes {
		for i, v := range mesh.Vertices {
			fmt.Fprintf(w, "VERT %d\n", total+i)
			fmt.Fprintf(w, "OFFSET %f, %f, %f\n", v.Position.X, v.Position.Y, v.Position.Z)
			influences := st.influences[mi][i]
			fmt.Fprintf(w, "BONES %d\n", len(influences))
			for _, inf := range influences {
				fmt.Fprintf(w, "BONE %d %f\n", inf.Bone, inf.Weight)
			}
			w.WriteString("\n")
		}
		total += len(mesh.Vertices)
	}

	fmt.Fprintf(w, "NUMFACES %d\n", numFaces)
	total = 0
	for mi, mesh := range scene.Meshes {
		for _, poly := range mesh.Polygons {
			fmt.Fprintf(w, "TRI %d %d 0 0\n", mi, mi)
			for c, vi := range poly.Vertices {
				fmt.Fprintf(w, "VERT %d\n", vi+total)
				var n = mesh.Vertices[vi].Normal
				fmt.Fprintf(w, "NORMAL %f %f %f\n", n.X, n.Y, n.Z)
				w.WriteString("COLOR 1.000000 1.000000 1.000000 1.000000\n")
				var u, v float32
				if c < len(poly.UVs) {
					u, v = poly.UVs[c].X, poly.UVs[c].Y
				}
				fmt.Fprintf(w, "UV 1 %f %f\n", u, 1.0-v)
			}
		}
		total += len(mesh.Vertices)
	}
	w.WriteString("\n")

	fmt.Fprintf(w, "NUMOBJECTS %d\n", len(scene.Meshes))
	for mi, mesh := range scene.Meshes {
		fmt.Fprintf(w, "OBJECT %d \"%s\"\n", mi, mesh.Name)
	}
	w.WriteString("\n")

	// one material per mesh, not deduplicated
	fmt.Fprintf(w, "NUMMATERIALS %d\n", len(scene.Meshes))
	for mi, mesh := range scene.Meshes {
		if mesh.Image == nil {
			fmt.Fprintf(w, "MATERIAL %d \"%s_%d\" \"Phong\" \"%s\"\n", mi, prefix, mi, "")
		} else {
			fmt.Fprintf(w, "MATERIAL %d \"%s\" \"Phong\" \"%s\"\n", mi, mesh.Image.Material, mesh.Image.Path)
		}
		w.WriteString("COLOR 0.000000 0.000000 0.000000 1.000000\n")
		w.WriteString("TRANSPARENCY 0.000000 0.000000 0.000000 1.000000\n")
		w.WriteString("AMBIENTCOLOR 0.000000 0.000000 0.000000 1.000000\n")
		w.WriteString("INCANDESCENCE 0.000000 0.000000 0.000000 1.000000\n")
		w.WriteString("COEFFS 0.800000 0.000000\n")
		w.WriteString("GLOW 0.000000 0\n")
		w.WriteString("REFRACTIVE 6 1.000000\n")
		w.WriteString("SPECULARCOLOR -1.000000 -1.000000 -1.000000 1.000000\n")
		w.WriteString("REFLECTIVECOLOR -1.000000 -1.000000 -1.000000 1.000000\n")
		w.WriteString("REFLECTIVE -1 -1.000000\n")
		w.WriteString("BLINN -1.000000 -1.000000\n")
		w.WriteString("PHONG -1.000000\n")
	}
	w.WriteString("\n")

	logger.Debug("written",
		zap.Int("bones", len(scene.Bones)),
		zap.Int("vertices", numVerts),
		zap.Int("faces", numFaces))
	return w.Flush()
}

func Write(scene *Scene, w io.Writer) error {
	return NewWriter().Write(scene, w)
}

// Save writes to a temporary file next to path and renames it on success.
func (wr *Writer) Save(scene *Scene, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := wr.Write(scene, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func Save(scene *Scene, path string) error {
	return NewWriter().Save(scene, path)
}
