package xmodel

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/binzume/xmodelconv/geom"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const maxLineLength = 1024 * 1024

type CursorKind int

const (
	CursorNone CursorKind = iota
	CursorBone
	CursorVertex
)

func (k CursorKind) String() string {
	switch k {
	case CursorBone:
		return "Bone"
	case CursorVertex:
		return "Vertex"
	}
	return "None"
}

// Cursor is the entity that following attribute lines apply to.
type Cursor struct {
	Kind  CursorKind
	Index int
}

type handlerKey struct {
	keyword string
	arity   int
}

type handler struct {
	cursor []CursorKind // accepted cursor kinds. nil: any
	parse  func(st *ParseState, args []string) error
}

var (
	onlyBone         = []CursorKind{CursorBone}
	onlyVertex       = []CursorKind{CursorVertex}
	boneOrVertex     = []CursorKind{CursorBone, CursorVertex}
	keywordArityInfo = countArities(handlers)
)

// arity is the number of arguments after the keyword.
var handlers = map[handlerKey]*handler{
	{"VERSION", 1}:      {parse: (*ParseState).parseVersion},
	{"NUMBONES", 1}:     {parse: (*ParseState).parseNumBones},
	{"NUMVERTS", 1}:     {parse: (*ParseState).parseNumVerts},
	{"NUMFACES", 1}:     {parse: (*ParseState).parseNumFaces},
	{"NUMOBJECTS", 1}:   {parse: (*ParseState).parseNumObjects},
	{"NUMMATERIALS", 1}: {parse: (*ParseState).parseNumMaterials},
	{"BONE", 3}:         {parse: (*ParseState).parseBoneDefinition},
	{"BONE", 1}:         {parse: (*ParseState).parseSelectBone},
	{"BONE", 2}:         {parse: (*ParseState).parseBoneWeight}, // checks the cursor after resolving the bone
	{"VERT", 1}:         {parse: (*ParseState).parseVert},
	{"OFFSET", 3}:       {cursor: boneOrVertex, parse: (*ParseState).parseOffset},
	{"SCALE", 3}:        {cursor: onlyBone, parse: (*ParseState).parseScale},
	{"X", 3}:            {cursor: onlyBone, parse: func(st *ParseState, args []string) error { return st.parseBasis(args, 0) }},
	{"Y", 3}:            {cursor: onlyBone, parse: func(st *ParseState, args []string) error { return st.parseBasis(args, 1) }},
	{"Z", 3}:            {cursor: onlyBone, parse: func(st *ParseState, args []string) error { return st.parseBasis(args, 2) }},
	{"NORMAL", 3}:       {cursor: onlyVertex, parse: (*ParseState).parseNormal},
	{"UV", 3}:           {cursor: onlyVertex, parse: (*ParseState).parseUV},
	{"MATERIAL", 4}:     {parse: (*ParseState).parseMaterial},
	{"TRI", 4}:          {parse: (*ParseState).parseTri},
	{"OBJECT", 2}:       {parse: (*ParseState).parseObject},
}

func countArities(h map[handlerKey]*handler) map[string]int {
	n := map[string]int{}
	for k := range h {
		n[k.keyword]++
	}
	return n
}

// ParseState holds everything one parse mutates.
type ParseState struct {
	model    *Model
	numFaces int // -1 while in the bone/vertex section
	cursor   Cursor
	face     *Face
	names    map[string]bool
	logger   *zap.Logger
}

func NewParseState(logger *zap.Logger) *ParseState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParseState{
		model:    NewModel(),
		numFaces: -1,
		names:    map[string]bool{},
		logger:   logger,
	}
}

func (st *ParseState) Cursor() Cursor {
	return st.cursor
}

// Feed interprets one line.
func (st *ParseState) Feed(line string) error {
	tok, ok, err := Tokenize(line)
	if err != nil || !ok {
		return err
	}
	h, ok := handlers[handlerKey{tok.Keyword, len(tok.Args)}]
	if !ok {
		if n := keywordArityInfo[tok.Keyword]; n == 1 {
			return errors.Wrapf(ErrMalformedLine, "%s: unexpected argument count %d", tok.Keyword, len(tok.Args))
		}
		st.logger.Debug("skip", zap.String("keyword", tok.Keyword), zap.Int("args", len(tok.Args)))
		return nil
	}
	if err := st.expect(h.cursor...); err != nil {
		return errors.Wrap(err, tok.Keyword)
	}
	return h.parse(st, tok.Args)
}

// Finish validates the cross references and returns the model.
func (st *ParseState) Finish() (*Model, error) {
	if err := st.closeFace(); err != nil {
		return nil, err
	}
	for _, b := range st.model.Bones {
		if b.Parent == -1 {
			continue
		}
		if b.Parent < 0 || b.Parent >= len(st.model.Bones) || b.Parent == b.Index {
			return nil, errors.Wrapf(ErrUnresolvedBoneReference, "bone %q: parent %d", b.Name, b.Parent)
		}
	}
	// 0: unvisited, 1: on the current chain, 2: reaches a root
	state := make([]int8, len(st.model.Bones))
	for i, b := range st.model.Bones {
		p := i
		for p != -1 && state[p] == 0 {
			state[p] = 1
			p = st.model.Bones[p].Parent
		}
		if p != -1 && state[p] == 1 {
			return nil, errors.Wrapf(ErrUnresolvedBoneReference, "bone %q: parent cycle", b.Name)
		}
		for p := i; p != -1 && state[p] == 1; p = st.model.Bones[p].Parent {
			state[p] = 2
		}
	}
	return st.model, nil
}

func (st *ParseState) expect(kinds ...CursorKind) error {
	if kinds == nil {
		return nil
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		if st.cursor.Kind == k {
			return nil
		}
		names[i] = k.String()
	}
	return errors.Wrapf(ErrInvalidParserState, "expected %s cursor, got %s", strings.Join(names, " or "), st.cursor.Kind)
}

func (st *ParseState) bone() *Bone {
	return st.model.Bones[st.cursor.Index]
}

func (st *ParseState) vertex() *Vertex {
	return st.model.Vertices[st.cursor.Index]
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedNumber, "%q", s)
	}
	return n, nil
}

func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedNumber, "%q", s)
	}
	return float32(f), nil
}

// parseVector reads "x, y, z" split into three fields. Trailing commas are dropped.
func parseVector(args []string) (geom.Vector3, error) {
	var f [3]float32
	for i, a := range args[:3] {
		v, err := parseFloat(strings.TrimSuffix(a, ","))
		if err != nil {
			return geom.Vector3{}, err
		}
		f[i] = v
	}
	return geom.Vector3{X: f[0], Y: f[1], Z: f[2]}, nil
}

func (st *ParseState) parseVersion(args []string) error {
	if args[0] != strconv.Itoa(Version) {
		return errors.Wrapf(ErrUnsupportedVersion, "version %s", args[0])
	}
	st.model.Version = Version
	return nil
}

func (st *ParseState) parseCount(args []string, dst *int) error {
	n, err := parseInt(args[0])
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.Wrapf(ErrMalformedNumber, "negative count %d", n)
	}
	*dst = n
	return nil
}

func (st *ParseState) parseNumBones(args []string) error {
	return st.parseCount(args, &st.model.NumBones)
}

func (st *ParseState) parseNumVerts(args []string) error {
	return st.parseCount(args, &st.model.NumVertices)
}

func (st *ParseState) parseNumObjects(args []string) error {
	return st.parseCount(args, &st.model.NumObjects)
}

func (st *ParseState) parseNumMaterials(args []string) error {
	return st.parseCount(args, &st.model.NumMaterials)
}

// NUMFACES ends the vertex table: VERT lines after it reference face corners.
func (st *ParseState) parseNumFaces(args []string) error {
	if err := st.parseCount(args, &st.numFaces); err != nil {
		return err
	}
	st.model.NumFaces = st.numFaces
	return nil
}

func (st *ParseState) parseBoneDefinition(args []string) error {
	index, err := parseInt(args[0])
	if err != nil {
		return err
	}
	parent, err := parseInt(args[1])
	if err != nil {
		return err
	}
	if index != len(st.model.Bones) {
		return errors.Wrapf(ErrMalformedLine, "bone index %d out of order (expected %d)", index, len(st.model.Bones))
	}
	name := trimQuotes(args[2])
	if st.names[name] {
		return errors.Wrapf(ErrMalformedLine, "duplicate bone name %q", name)
	}
	st.names[name] = true
	st.model.Bones = append(st.model.Bones, NewBone(index, parent, name))
	st.cursor = Cursor{Kind: CursorBone, Index: index}
	return nil
}

func (st *ParseState) resolveBone(s string) (int, error) {
	index, err := parseInt(s)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(st.model.Bones) {
		return 0, errors.Wrapf(ErrUnresolvedBoneReference, "bone %d (%d defined)", index, len(st.model.Bones))
	}
	return index, nil
}

func (st *ParseState) parseSelectBone(args []string) error {
	index, err := st.resolveBone(args[0])
	if err != nil {
		return err
	}
	st.cursor = Cursor{Kind: CursorBone, Index: index}
	return nil
}

func (st *ParseState) parseBoneWeight(args []string) error {
	index, err := st.resolveBone(args[0])
	if err != nil {
		return err
	}
	if err := st.expect(CursorVertex); err != nil {
		return errors.Wrap(err, "BONE")
	}
	weight, err := parseFloat(args[1])
	if err != nil {
		return err
	}
	v := st.vertex()
	v.Influences = append(v.Influences, Influence{Bone: index, Weight: weight})
	b := st.model.Bones[index]
	b.Vertices = append(b.Vertices, st.cursor.Index)
	return nil
}

func (st *ParseState) parseVert(args []string) error {
	index, err := parseInt(args[0])
	if err != nil {
		return err
	}
	if st.numFaces < 0 {
		if index != len(st.model.Vertices) {
			return errors.Wrapf(ErrMalformedLine, "vertex index %d out of order (expected %d)", index, len(st.model.Vertices))
		}
		st.model.Vertices = append(st.model.Vertices, &Vertex{})
		st.cursor = Cursor{Kind: CursorVertex, Index: index}
		return nil
	}

	if st.face == nil {
		return errors.Wrap(ErrInvalidParserState, "VERT: no current face")
	}
	if index < 0 || index >= len(st.model.Vertices) {
		return errors.Wrapf(ErrUnresolvedVertexReference, "vertex %d (%d defined)", index, len(st.model.Vertices))
	}
	if len(st.face.Vertices) >= 3 {
		return errors.Wrap(ErrNonTriangularFace, "more than 3 vertices")
	}
	st.face.Vertices = append(st.face.Vertices, index)
	st.cursor = Cursor{Kind: CursorVertex, Index: index}
	return nil
}

func (st *ParseState) parseOffset(args []string) error {
	v, err := parseVector(args)
	if err != nil {
		return err
	}
	if st.cursor.Kind == CursorBone {
		st.bone().Offset = v
	} else {
		st.vertex().Offset = v
	}
	return nil
}

func (st *ParseState) parseScale(args []string) error {
	v, err := parseVector(args)
	if err != nil {
		return err
	}
	st.bone().Scale = v
	return nil
}

func (st *ParseState) parseBasis(args []string, axis int) error {
	v, err := parseVector(args)
	if err != nil {
		return err
	}
	b := st.bone()
	switch axis {
	case 0:
		b.X = v
	case 1:
		b.Y = v
	default:
		b.Z = v
	}
	return nil
}

func (st *ParseState) parseNormal(args []string) error {
	v, err := parseVector(args)
	if err != nil {
		return err
	}
	st.vertex().Normal = v
	return nil
}

func (st *ParseState) parseUV(args []string) error {
	if _, err := parseInt(args[0]); err != nil {
		return err
	}
	u, err := parseFloat(args[1])
	if err != nil {
		return err
	}
	v, err := parseFloat(args[2])
	if err != nil {
		return err
	}
	if math.IsInf(float64(u), 0) || math.IsNaN(float64(u)) || math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
		return errors.Wrapf(ErrMalformedNumber, "UV %v %v", u, v)
	}
	u, v = NormalizeUV(u, v)
	st.vertex().UV = geom.Vector2{X: u, Y: 1 - v}
	return nil
}

// NormalizeUV wraps u into [0,1] and v into (0,1] by whole texture repeats.
// v is first raised to at least 1, then lowered while above 1.
func NormalizeUV(u, v float32) (float32, float32) {
	if u < 0 {
		u -= float32(math.Floor(float64(u)))
	}
	if u > 1 {
		u -= float32(math.Ceil(float64(u))) - 1
	}
	if v < 1 {
		v += float32(math.Ceil(float64(1 - v)))
	}
	if v > 1 {
		v -= float32(math.Ceil(float64(v))) - 1
	}
	return u, v
}

func (st *ParseState) parseMaterial(args []string) error {
	index, err := parseInt(args[0])
	if err != nil {
		return err
	}
	name, err := stripEnds(args[1])
	if err != nil {
		return err
	}
	path, err := stripEnds(args[3])
	if err != nil {
		return err
	}
	st.model.Materials = append(st.model.Materials, &Material{
		Index:       index,
		Name:        name,
		Shading:     trimQuotes(args[2]),
		TexturePath: path,
	})
	return nil
}

func (st *ParseState) closeFace() error {
	if st.face != nil && len(st.face.Vertices) != 3 {
		return errors.Wrapf(ErrNonTriangularFace, "face has %d vertices", len(st.face.Vertices))
	}
	return nil
}

func (st *ParseState) object(index int) (*Object, error) {
	// at most one new object per line
	if index < 0 || index > len(st.model.Objects) {
		return nil, errors.Wrapf(ErrMalformedLine, "object index %d (%d defined)", index, len(st.model.Objects))
	}
	if index == len(st.model.Objects) {
		st.model.Objects = append(st.model.Objects, NewObject(index))
	}
	return st.model.Objects[index], nil
}

// TRI objectIndex materialIndex c1 c2. The trailing fields are unused.
func (st *ParseState) parseTri(args []string) error {
	if err := st.closeFace(); err != nil {
		return err
	}
	objIndex, err := parseInt(args[0])
	if err != nil {
		return err
	}
	matIndex, err := parseInt(args[1])
	if err != nil {
		return err
	}
	obj, err := st.object(objIndex)
	if err != nil {
		return err
	}
	st.face = &Face{Object: objIndex, Material: matIndex}
	obj.Faces = append(obj.Faces, st.face)
	return nil
}

func (st *ParseState) parseObject(args []string) error {
	index, err := parseInt(args[0])
	if err != nil {
		return err
	}
	obj, err := st.object(index)
	if err != nil {
		return err
	}
	obj.Name = trimQuotes(args[1])
	return nil
}

// Parser for xmodel_export file.
type Parser struct {
	name   string
	r      io.Reader
	Logger *zap.Logger
}

// NewParser returns new parser. path is used in log messages only.
func NewParser(r io.Reader, path string) *Parser {
	return &Parser{
		name:   path,
		r:      r,
		Logger: zap.NewNop(),
	}
}

// Parse reads the whole input. No model is returned on failure.
func (p *Parser) Parse() (*Model, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := NewParseState(logger.With(zap.String("file", p.name)))

	// strip UTF-8 BOM
	r := transform.NewReader(p.r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineLength)
	line := 0
	for s.Scan() {
		line++
		if err := st.Feed(s.Text()); err != nil {
			return nil, &ParseError{Line: line, Text: s.Text(), Err: err}
		}
	}
	if err := s.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, &ParseError{Line: line + 1, Err: errors.Wrapf(ErrMalformedLine, "line longer than %d bytes", maxLineLength)}
		}
		return nil, errors.Wrap(err, p.name)
	}
	model, err := st.Finish()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	logger.Debug("parsed",
		zap.String("file", p.name),
		zap.Int("bones", len(model.Bones)),
		zap.Int("vertices", len(model.Vertices)),
		zap.Int("objects", len(model.Objects)),
		zap.Int("materials", len(model.Materials)))
	return model, nil
}

func Parse(r io.Reader) (*Model, error) {
	return NewParser(r, "").Parse()
}

// Load parses the file at path.
func Load(path string, logger *zap.Logger) (*Model, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	p := NewParser(r, path)
	if logger != nil {
		p.Logger = logger
	}
	return p.Parse()
}

// Import parses path and passes the result to b.
func Import(path string, b Builder, logger *zap.Logger) error {
	model, err := Load(path, logger)
	if err != nil {
		return err
	}
	return b.Build(model)
}
