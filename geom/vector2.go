package geom

// Vector2 is a texture coordinate.
type Vector2 struct {
	X Element
	Y Element
}

func NewVector2(x, y float32) *Vector2 {
	return &Vector2{X: x, Y: y}
}

// FlipV returns the vector with the V axis mirrored (bottom-left <-> top-left origin).
func (v *Vector2) FlipV() *Vector2 {
	return &Vector2{X: v.X, Y: 1 - v.Y}
}
