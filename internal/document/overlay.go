package document

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image/color"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Original application defaults.
const (
	DefaultStampWidth  = 100.0
	DefaultStampHeight = 50.0
	DefaultFontSize    = 12.0
)

// StampKind enumerates the stock stamps.
type StampKind int

const (
	Approved StampKind = iota
	Rejected
	Draft
	Confidential
)

// StampKinds lists every stamp kind in display order.
var StampKinds = []StampKind{Approved, Rejected, Draft, Confidential}

// Name is the stable asset name of the stamp.
func (k StampKind) Name() string {
	switch k {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case Draft:
		return "draft"
	case Confidential:
		return "confidential"
	}
	return fmt.Sprintf("stamp(%d)", int(k))
}

// Label is the human readable stamp caption.
func (k StampKind) Label() string {
	switch k {
	case Approved:
		return "APPROVED"
	case Rejected:
		return "REJECTED"
	case Draft:
		return "DRAFT"
	case Confidential:
		return "CONFIDENTIAL"
	}
	return strings.ToUpper(k.Name())
}

func (k StampKind) String() string { return k.Name() }

// ParseStampKind maps an asset name back to its kind.
func ParseStampKind(name string) (StampKind, bool) {
	for _, k := range StampKinds {
		if strings.EqualFold(k.Name(), name) {
			return k, true
		}
	}
	return 0, false
}

// OverlayID identifies an overlay within its page. IDs grow with creation
// order, so sorting by ID gives stacking order.
type OverlayID uint64

// Mark is the closed set of overlay payloads: Stamp or Text.
type Mark interface {
	isMark()
}

// Stamp references a stock stamp image resolved by the asset source.
type Stamp struct {
	Kind StampKind
}

// Text is a free text box.
type Text struct {
	Body     string
	FontSize float64
	Color    color.RGBA
}

func (Stamp) isMark() {}
func (Text) isMark()  {}

// Overlay is a user-placed annotation bound to one page.
type Overlay struct {
	ID   OverlayID
	Mark Mark
	Rect Rect
}

// NewStamp builds a stamp overlay with the default size at (x, y).
func NewStamp(kind StampKind, x, y float64) Overlay {
	return Overlay{Mark: Stamp{Kind: kind}, Rect: Rect{X: x, Y: y, W: DefaultStampWidth, H: DefaultStampHeight}}
}

// NewText builds a text overlay whose box fits a single line of body.
func NewText(body string, x, y, fontSize float64) Overlay {
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	w := math.Max(fontSize, float64(len([]rune(body)))*fontSize*0.6)
	return Overlay{
		Mark: Text{Body: body, FontSize: fontSize, Color: color.RGBA{A: 0xff}},
		Rect: Rect{X: x, Y: y, W: w, H: fontSize * 1.2},
	}
}

// Fingerprint digests an overlay list in stacking order. Equal lists always
// produce equal fingerprints; any change in id, payload or position changes
// it.
func Fingerprint(items []Overlay) string {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	putU := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putF := func(f float64) { putU(math.Float64bits(f)) }
	putS := func(s string) {
		putU(uint64(len(s)))
		h.Write([]byte(s))
	}
	putU(uint64(len(items)))
	for _, it := range items {
		putU(uint64(it.ID))
		switch m := it.Mark.(type) {
		case Stamp:
			putS("stamp")
			putU(uint64(m.Kind))
		case Text:
			putS("text")
			putS(m.Body)
			putF(m.FontSize)
			h.Write([]byte{m.Color.R, m.Color.G, m.Color.B, m.Color.A})
		default:
			putS("none")
		}
		putF(it.Rect.X)
		putF(it.Rect.Y)
		putF(it.Rect.W)
		putF(it.Rect.H)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func validOverlay(op string, o Overlay) error {
	if o.Mark == nil {
		return &StateError{Op: op, Kind: InvalidRange, Detail: "overlay has no content"}
	}
	if !o.Rect.Valid() {
		return &StateError{Op: op, Kind: InvalidRange, Detail: fmt.Sprintf("overlay size %gx%g", o.Rect.W, o.Rect.H)}
	}
	return nil
}
