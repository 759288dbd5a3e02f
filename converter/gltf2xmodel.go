package converter

import (
	"fmt"

	"github.com/binzume/xmodelconv/geom"
	"github.com/binzume/xmodelconv/xmodel"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"
)

// DefaultRootBone receives meshes that are not skinned to any joint.
const DefaultRootBone = "root"

type GLTFToXModelOption struct {
	Scale  float32 // Default: 1.0
	Logger *zap.Logger
}

type gltfToXModel struct {
	*GLTFToXModelOption
	logger *zap.Logger
}

func NewGLTFToXModelConverter(options *GLTFToXModelOption) *gltfToXModel {
	if options == nil {
		options = &GLTFToXModelOption{}
	}
	if options.Scale == 0 {
		options.Scale = 1.0
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gltfToXModel{GLTFToXModelOption: options, logger: logger}
}

func localMatrix(n *gltf.Node) *geom.Matrix4 {
	if n.MatrixOrDefault() != gltf.DefaultMatrix {
		m := n.MatrixOrDefault()
		return geom.NewMatrix4FromSlice(m[:])
	}
	t := geom.NewVector3FromArray(n.Translation)
	r := geom.NewQuaternionFromArray(n.RotationOrDefault())
	s := geom.NewVector3FromArray(n.ScaleOrDefault())
	return geom.NewTRSMatrix4(t, r, s)
}

// nodeTree holds world matrices and a parent-first traversal of the scene graph.
type nodeTree struct {
	parent []int
	world  []*geom.Matrix4
	order  []int
}

func newNodeTree(src *gltf.Document) *nodeTree {
	tree := &nodeTree{
		parent: make([]int, len(src.Nodes)),
		world:  make([]*geom.Matrix4, len(src.Nodes)),
	}
	for i := range tree.parent {
		tree.parent[i] = -1
	}
	for i, n := range src.Nodes {
		for _, child := range n.Children {
			if int(child) < len(src.Nodes) {
				tree.parent[child] = i
			}
		}
	}
	var visit func(i int, parent *geom.Matrix4)
	visit = func(i int, parent *geom.Matrix4) {
		if tree.world[i] != nil {
			return
		}
		tree.world[i] = parent.Mul(localMatrix(src.Nodes[i]))
		tree.order = append(tree.order, i)
		for _, child := range src.Nodes[i].Children {
			if int(child) < len(src.Nodes) {
				visit(int(child), tree.world[i])
			}
		}
	}
	for i := range src.Nodes {
		if tree.parent[i] == -1 {
			visit(i, geom.NewMatrix4())
		}
	}
	return tree
}

type boneTable struct {
	bones  []*xmodel.SceneBone
	byNode map[int]*xmodel.SceneBone
	names  map[string]bool
}

func (t *boneTable) uniqueName(name string, node int) string {
	if name == "" {
		name = fmt.Sprintf("joint_%d", node)
	}
	for t.names[name] {
		name = fmt.Sprintf("%s_%d", name, node)
	}
	t.names[name] = true
	return name
}

// convertBones collects the skin joints in parent-first order.
func (c *gltfToXModel) convertBones(src *gltf.Document, tree *nodeTree) *boneTable {
	table := &boneTable{byNode: map[int]*xmodel.SceneBone{}, names: map[string]bool{}}
	isJoint := map[int]bool{}
	for _, skin := range src.Skins {
		for _, j := range skin.Joints {
			isJoint[int(j)] = true
		}
	}
	for _, i := range tree.order {
		if !isJoint[i] {
			continue
		}
		m := tree.world[i].Clone()
		// keep the basis orthonormal and scale the translation only
		m.Column(0).Normalize().ToArray(m[0:3])
		m.Column(1).Normalize().ToArray(m[4:7])
		m.Column(2).Normalize().ToArray(m[8:11])
		m.Translation().Scale(c.Scale).ToArray(m[12:15])

		b := &xmodel.SceneBone{Name: table.uniqueName(src.Nodes[i].Name, i), Matrix: *m}
		for p := tree.parent[i]; p >= 0; p = tree.parent[p] {
			if pb, ok := table.byNode[p]; ok {
				b.Parent = pb.Name
				break
			}
		}
		table.bones = append(table.bones, b)
		table.byNode[i] = b
	}
	return table
}

// rootGroup returns the bone that unskinned geometry under node is bound to.
func (c *gltfToXModel) rootGroup(table *boneTable, tree *nodeTree, node int) string {
	for p := node; p >= 0; p = tree.parent[p] {
		if b, ok := table.byNode[p]; ok {
			return b.Name
		}
	}
	for _, b := range table.bones {
		if b.Name == DefaultRootBone {
			return b.Name
		}
	}
	c.logger.Debug("add root bone", zap.String("name", DefaultRootBone))
	table.names[DefaultRootBone] = true
	table.bones = append(table.bones, &xmodel.SceneBone{Name: DefaultRootBone, Matrix: *geom.NewMatrix4()})
	return DefaultRootBone
}

func (c *gltfToXModel) imageOf(src *gltf.Document, material *uint32) *xmodel.SceneImage {
	if material == nil || int(*material) >= len(src.Materials) {
		return nil
	}
	m := src.Materials[*material]
	img := &xmodel.SceneImage{Material: m.Name}
	if m.PBRMetallicRoughness != nil && m.PBRMetallicRoughness.BaseColorTexture != nil {
		i := m.PBRMetallicRoughness.BaseColorTexture.Index
		if int(i) < len(src.Textures) && src.Textures[i].Source != nil && int(*src.Textures[i].Source) < len(src.Images) {
			img.Path = src.Images[*src.Textures[i].Source].URI
		}
	}
	if img.Material == "" {
		img.Material = fmt.Sprintf("material_%d", *material)
	}
	return img
}

type primitiveData struct {
	base      int
	texCoord  [][2]float32
	skinned   bool
	vertCount int
}

func (c *gltfToXModel) convertMesh(src *gltf.Document, tree *nodeTree, table *boneTable, node int) (*xmodel.SceneMesh, error) {
	n := src.Nodes[node]
	m := src.Meshes[*n.Mesh]
	name := m.Name
	if name == "" {
		name = n.Name
	}
	mesh := &xmodel.SceneMesh{Name: name}

	var skin *gltf.Skin
	if n.Skin != nil && int(*n.Skin) < len(src.Skins) {
		skin = src.Skins[*n.Skin]
		for _, j := range skin.Joints {
			b, ok := table.byNode[int(j)]
			if !ok {
				return nil, errors.Wrapf(xmodel.ErrUnresolvedBoneReference, "mesh %q: joint node %d", name, j)
			}
			mesh.VertexGroups = append(mesh.VertexGroups, b.Name)
		}
	}
	unskinnedGroup := -1

	// skinned geometry is already in bind space
	world := tree.world[node]
	if skin != nil {
		world = geom.NewMatrix4()
	}
	scale := geom.NewScaleMatrix4(c.Scale, c.Scale, c.Scale).Mul(world)

	shared := map[uint32]*primitiveData{}
	for pi, p := range m.Primitives {
		if p.Mode != gltf.PrimitiveTriangles {
			c.logger.Warn("skip non-triangle primitive", zap.String("mesh", name), zap.Int("primitive", pi))
			continue
		}
		posAcc, ok := p.Attributes["POSITION"]
		if !ok {
			continue
		}
		data, ok := shared[posAcc]
		if !ok {
			pos, err := modeler.ReadPosition(src, src.Accessors[posAcc], [][3]float32{})
			if err != nil {
				return nil, errors.Wrapf(err, "mesh %q: POSITION", name)
			}
			var normals [][3]float32
			if a, ok := p.Attributes["NORMAL"]; ok {
				if normals, err = modeler.ReadNormal(src, src.Accessors[a], [][3]float32{}); err != nil {
					return nil, errors.Wrapf(err, "mesh %q: NORMAL", name)
				}
			}
			data = &primitiveData{base: len(mesh.Vertices), vertCount: len(pos)}
			if a, ok := p.Attributes["TEXCOORD_0"]; ok {
				if data.texCoord, err = modeler.ReadTextureCoord(src, src.Accessors[a], [][2]float32{}); err != nil {
					return nil, errors.Wrapf(err, "mesh %q: TEXCOORD_0", name)
				}
			}
			var joints [][4]uint16
			var weights [][4]float32
			ja, hasJoints := p.Attributes["JOINTS_0"]
			wa, hasWeights := p.Attributes["WEIGHTS_0"]
			if skin != nil && hasJoints && hasWeights {
				if joints, err = modeler.ReadJoints(src, src.Accessors[ja], [][4]uint16{}); err != nil {
					return nil, errors.Wrapf(err, "mesh %q: JOINTS_0", name)
				}
				if weights, err = modeler.ReadWeights(src, src.Accessors[wa], [][4]float32{}); err != nil {
					return nil, errors.Wrapf(err, "mesh %q: WEIGHTS_0", name)
				}
				data.skinned = true
			} else if unskinnedGroup < 0 {
				unskinnedGroup = len(mesh.VertexGroups)
				mesh.VertexGroups = append(mesh.VertexGroups, c.rootGroup(table, tree, node))
			}

			for i, v := range pos {
				sv := &xmodel.SceneVertex{Position: *scale.ApplyTo(geom.NewVector3FromArray(v))}
				if i < len(normals) {
					sv.Normal = *world.ApplyToDirection(geom.NewVector3FromArray(normals[i])).Normalize()
				}
				if data.skinned && i < len(joints) && i < len(weights) {
					for k := 0; k < 4; k++ {
						if weights[i][k] <= 0 {
							continue
						}
						if int(joints[i][k]) >= len(skin.Joints) {
							return nil, errors.Wrapf(xmodel.ErrUnresolvedBoneReference, "mesh %q vertex %d: joint %d", name, i, joints[i][k])
						}
						sv.Groups = append(sv.Groups, xmodel.GroupWeight{Group: int(joints[i][k]), Weight: weights[i][k]})
					}
				} else {
					sv.Groups = []xmodel.GroupWeight{{Group: unskinnedGroup, Weight: 1}}
				}
				mesh.Vertices = append(mesh.Vertices, sv)
			}
			shared[posAcc] = data
		}

		var indices []uint32
		if p.Indices != nil {
			var err error
			if indices, err = modeler.ReadIndices(src, src.Accessors[*p.Indices], []uint32{}); err != nil {
				return nil, errors.Wrapf(err, "mesh %q: indices", name)
			}
		} else {
			for i := 0; i < data.vertCount; i++ {
				indices = append(indices, uint32(i))
			}
		}
		for i := 0; i+2 < len(indices); i += 3 {
			poly := &xmodel.ScenePolygon{}
			for _, idx := range indices[i : i+3] {
				if int(idx) >= data.vertCount {
					return nil, errors.Wrapf(xmodel.ErrUnresolvedVertexReference, "mesh %q: index %d", name, idx)
				}
				poly.Vertices = append(poly.Vertices, data.base+int(idx))
				var uv geom.Vector2
				if int(idx) < len(data.texCoord) {
					uv = geom.Vector2{X: data.texCoord[idx][0], Y: data.texCoord[idx][1]}
				}
				poly.UVs = append(poly.UVs, *uv.FlipV())
			}
			mesh.Polygons = append(mesh.Polygons, poly)
		}
		if mesh.Image == nil {
			mesh.Image = c.imageOf(src, p.Material)
		}
	}
	return mesh, nil
}

// Convert builds writer input from a glTF document.
func (c *gltfToXModel) Convert(src *gltf.Document) (*xmodel.Scene, error) {
	tree := newNodeTree(src)
	table := c.convertBones(src, tree)

	scene := &xmodel.Scene{}
	for _, i := range tree.order {
		n := src.Nodes[i]
		if n.Mesh == nil || int(*n.Mesh) >= len(src.Meshes) {
			continue
		}
		mesh, err := c.convertMesh(src, tree, table, i)
		if err != nil {
			return nil, err
		}
		if len(mesh.Polygons) == 0 {
			c.logger.Debug("skip empty mesh", zap.String("mesh", mesh.Name))
			continue
		}
		scene.Meshes = append(scene.Meshes, mesh)
	}
	scene.Bones = table.bones

	c.logger.Debug("converted",
		zap.Int("bones", len(scene.Bones)),
		zap.Int("meshes", len(scene.Meshes)))
	return scene, nil
}
