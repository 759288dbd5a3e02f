package converter

import (
	"sort"

	"github.com/binzume/xmodelconv/geom"
	"github.com/binzume/xmodelconv/xmodel"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"
)

const maxJointsPerVertex = 4

type XModelToGLTFOption struct {
	Scale         float32 // Default: 1.0
	MaxInfluences int     // 1..4. Default: 4
	Logger        *zap.Logger
}

// XModelToGLTF builds a glTF document from a parsed model. It implements xmodel.Builder.
type XModelToGLTF struct {
	*XModelToGLTFOption
	*gltf.Document
	logger *zap.Logger
}

func NewXModelToGLTFConverter(options *XModelToGLTFOption) *XModelToGLTF {
	if options == nil {
		options = &XModelToGLTFOption{}
	}
	if options.Scale == 0 {
		options.Scale = 1.0
	}
	if options.MaxInfluences <= 0 || options.MaxInfluences > maxJointsPerVertex {
		options.MaxInfluences = maxJointsPerVertex
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XModelToGLTF{
		XModelToGLTFOption: options,
		logger:             logger,
	}
}

func (c *XModelToGLTF) Build(model *xmodel.Model) error {
	_, err := c.Convert(model)
	return err
}

func (c *XModelToGLTF) addMatrices(mat []*geom.Matrix4) uint32 {
	a := make([][4]float32, len(mat)*4)
	for i, m := range mat {
		for col := 0; col < 4; col++ {
			copy(a[i*4+col][:], m[col*4:col*4+4])
		}
	}
	acc := modeler.WriteTangent(c.Document, a)
	c.Accessors[acc].Type = gltf.AccessorMat4
	c.Accessors[acc].Count /= 4
	c.BufferViews[*c.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

// boneMatrix returns the armature-space bone matrix with the translation scaled.
func (c *XModelToGLTF) boneMatrix(b *xmodel.Bone) *geom.Matrix4 {
	m := b.Matrix()
	m[12] *= c.Scale
	m[13] *= c.Scale
	m[14] *= c.Scale
	return m
}

func hasParent(bones []*xmodel.Bone, i int) bool {
	p := bones[i].Parent
	return p >= 0 && p < len(bones) && p != i
}

func (c *XModelToGLTF) addBoneNodes(bones []*xmodel.Bone) []*geom.Matrix4 {
	world := make([]*geom.Matrix4, len(bones))
	for i, b := range bones {
		world[i] = c.boneMatrix(b)
	}
	for i, b := range bones {
		local := world[i]
		if hasParent(bones, i) {
			local = world[b.Parent].Inverse().Mul(world[i])
		}
		t, r, s := local.Decompose()
		c.Nodes = append(c.Nodes, &gltf.Node{
			Name:        b.Name,
			Translation: t.Array(),
			Rotation:    r.Normalize().Array(),
			Scale:       s.Array(),
		})
	}
	for i, b := range bones {
		if hasParent(bones, i) {
			parent := c.Nodes[b.Parent]
			parent.Children = append(parent.Children, uint32(i))
		} else {
			c.Scenes[0].Nodes = append(c.Scenes[0].Nodes, uint32(i))
		}
	}
	return world
}

func (c *XModelToGLTF) addSkin(world []*geom.Matrix4) uint32 {
	joints := make([]uint32, len(world))
	invmats := make([]*geom.Matrix4, len(world))
	for i, m := range world {
		joints[i] = uint32(i)
		invmats[i] = m.Inverse()
	}
	c.Skins = append(c.Skins, &gltf.Skin{
		Joints:              joints,
		Skeleton:            gltf.Index(0),
		InverseBindMatrices: gltf.Index(c.addMatrices(invmats)),
	})
	return uint32(len(c.Skins) - 1)
}

// getWeights keeps the heaviest influences and renormalizes them.
func (c *XModelToGLTF) getWeights(v *xmodel.Vertex) ([4]uint16, [4]float32) {
	var joints [4]uint16
	var weights [4]float32
	if len(v.Influences) == 0 {
		weights[0] = 1
		return joints, weights
	}
	influences := make([]xmodel.Influence, len(v.Influences))
	copy(influences, v.Influences)
	sort.SliceStable(influences, func(i, j int) bool {
		return influences[i].Weight > influences[j].Weight
	})
	if len(influences) > c.MaxInfluences {
		influences = influences[:c.MaxInfluences]
	}
	var sum float32
	for _, inf := range influences {
		sum += inf.Weight
	}
	for i, inf := range influences {
		joints[i] = uint16(inf.Bone)
		if sum > 0 {
			weights[i] = inf.Weight / sum
		} else {
			weights[i] = 1 / float32(len(influences))
		}
	}
	return joints, weights
}

func (c *XModelToGLTF) convertMaterial(mat *xmodel.Material) *gltf.Material {
	var rf float32 = 1.0
	var mf float32 = 0.0
	mm := &gltf.Material{
		Name: mat.Name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{1, 1, 1, 1},
			RoughnessFactor: &rf,
			MetallicFactor:  &mf,
		},
	}
	if mat.TexturePath != "" {
		c.Images = append(c.Images, &gltf.Image{Name: mat.Name, URI: mat.TexturePath})
		c.Textures = append(c.Textures,
			&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(uint32(len(c.Images) - 1))})
		mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{
			Index: uint32(len(c.Textures) - 1),
		}
	}
	return mm
}

// ConvertObject emits one glTF vertex per face corner and one primitive per material.
func (c *XModelToGLTF) ConvertObject(model *xmodel.Model, obj *xmodel.Object, skinned bool) (*gltf.Mesh, error) {
	var vertexes, normals [][3]float32
	var texcoord0 [][2]float32
	var joints0 [][4]uint16
	var weights0 [][4]float32
	var materials []int
	indices := map[int][]uint32{}

	for fi, f := range obj.Faces {
		if len(f.Vertices) != 3 {
			return nil, errors.Wrapf(xmodel.ErrNonTriangularFace, "object %q face %d", obj.Name, fi)
		}
		mat := f.Material
		if mat < 0 || mat >= len(model.Materials) {
			mat = -1
		}
		if _, exists := indices[mat]; !exists {
			materials = append(materials, mat)
		}
		for _, vi := range f.Vertices {
			if vi < 0 || vi >= len(model.Vertices) {
				return nil, errors.Wrapf(xmodel.ErrUnresolvedVertexReference, "object %q face %d: vertex %d", obj.Name, fi, vi)
			}
			v := model.Vertices[vi]
			indices[mat] = append(indices[mat], uint32(len(vertexes)))
			vertexes = append(vertexes, v.Offset.Scale(c.Scale).Array())
			normals = append(normals, v.Normal.Array())
			uv := v.UV.FlipV()
			texcoord0 = append(texcoord0, [2]float32{uv.X, uv.Y})
			if skinned {
				if len(v.Influences) == 0 {
					c.logger.Warn("vertex without influence", zap.String("object", obj.Name), zap.Int("vertex", vi))
				}
				j, w := c.getWeights(v)
				joints0 = append(joints0, j)
				weights0 = append(weights0, w)
			}
		}
	}

	attributes := map[string]uint32{
		"POSITION":   modeler.WritePosition(c.Document, vertexes),
		"NORMAL":     modeler.WriteNormal(c.Document, normals),
		"TEXCOORD_0": modeler.WriteTextureCoord(c.Document, texcoord0),
	}
	if skinned {
		attributes["JOINTS_0"] = modeler.WriteJoints(c.Document, joints0)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(c.Document, weights0)
	}

	// make primitive for each materials
	var primitives []*gltf.Primitive
	for _, mat := range materials {
		p := &gltf.Primitive{
			Indices:    gltf.Index(modeler.WriteIndices(c.Document, indices[mat])),
			Attributes: attributes,
		}
		if mat >= 0 {
			p.Material = gltf.Index(uint32(mat))
		}
		primitives = append(primitives, p)
	}
	return &gltf.Mesh{
		Name:       obj.Name,
		Primitives: primitives,
	}, nil
}

// Convert returns a new document. Build stores the same result in c.Document.
func (c *XModelToGLTF) Convert(model *xmodel.Model) (*gltf.Document, error) {
	c.Document = gltf.NewDocument()

	var skin *uint32
	if len(model.Bones) > 0 {
		world := c.addBoneNodes(model.Bones)
		skin = gltf.Index(c.addSkin(world))
	}

	for _, obj := range model.Objects {
		if len(obj.Faces) == 0 {
			c.logger.Debug("skip empty object", zap.String("object", obj.Name))
			continue
		}
		mesh, err := c.ConvertObject(model, obj, skin != nil)
		if err != nil {
			return nil, err
		}
		node := &gltf.Node{
			Name: obj.Name,
			Mesh: gltf.Index(uint32(len(c.Meshes))),
			Skin: skin,
		}
		c.Meshes = append(c.Meshes, mesh)
		c.Nodes = append(c.Nodes, node)
		c.Scenes[0].Nodes = append(c.Scenes[0].Nodes, uint32(len(c.Nodes)-1))
	}

	for _, mat := range model.Materials {
		c.Materials = append(c.Materials, c.convertMaterial(mat))
	}
	if len(c.Textures) > 0 {
		c.Samplers = []*gltf.Sampler{{}}
	}

	c.logger.Debug("converted",
		zap.Int("joints", len(model.Bones)),
		zap.Int("meshes", len(c.Meshes)),
		zap.Int("materials", len(c.Materials)))
	return c.Document, nil
}
