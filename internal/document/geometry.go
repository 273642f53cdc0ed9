package document

import "fmt"

// Rotation is a clockwise page rotation in degrees, always one of 0, 90, 180
// or 270.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Normalize folds any multiple of 90 into [0, 360). Other values snap down
// to the previous quarter turn.
func (r Rotation) Normalize() Rotation {
	v := ((int(r) % 360) + 360) % 360
	return Rotation(v - v%90)
}

// Next advances the rotation clockwise by a quarter turn.
func (r Rotation) Next() Rotation { return (r.Normalize() + 90).Normalize() }

func (r Rotation) String() string { return fmt.Sprintf("%d°", int(r)) }

// Rect is a box in unrotated page-space points. The origin is the top-left
// corner of the page and Y grows downwards.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Valid reports whether the rect has a positive area.
func (r Rect) Valid() bool { return r.W > 0 && r.H > 0 }

// Size is a page size in points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
