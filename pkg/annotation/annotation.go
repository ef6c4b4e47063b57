package annotation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/annotation-overlay/pkg/types"
)

// Type is the annotation family. It decides edit permissions and the
// display color.
type Type string

const (
	TypeAI     Type = "ai"
	TypeManual Type = "manual"
	TypeSaved  Type = "saved"
)

// Valid reports whether t is a known family
func (t Type) Valid() bool {
	switch t {
	case TypeAI, TypeManual, TypeSaved:
		return true
	}
	return false
}

// MinBoxSize is the smallest width and height, in canvas pixels, a new box
// may have
const MinBoxSize = 20.0

var (
	ErrNotFound    = errors.New("annotation not found")
	ErrDuplicateID = errors.New("annotation id already exists")
	ErrTooSmall    = errors.New("annotation smaller than minimum size")
	ErrInvalidType = errors.New("unknown annotation type")
)

// Annotation is a bounding box shown over the image
type Annotation struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Type       Type    `json:"type"`

	// Canvas is the only geometry ever rendered
	Canvas types.Rect `json:"canvasGeometry"`
	// Canonical is the camera-independent geometry in image pixels. The
	// reconciler derives Canvas from it on every camera change.
	Canonical *types.PixelBox `json:"canonicalPixelGeometry,omitempty"`

	Color    string `json:"color"`
	IsEdited bool   `json:"isEdited"`
	// Revision counts user edits; saves use it to detect edits made while
	// a request was in flight
	Revision uint64 `json:"-"`

	// RecordID is the storage record backing this annotation, once one exists
	RecordID  string    `json:"recordId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LabelEditable reports whether users may rename the box
func (a Annotation) LabelEditable() bool {
	return a.Type == TypeManual
}

// Note is a free-floating sticky note anchored to the viewport container,
// not to the image. Notes are never persisted.
type Note struct {
	ID        string      `json:"id"`
	Position  types.Point `json:"position"`
	Text      string      `json:"text"`
	Color     string      `json:"color"`
	CreatedAt time.Time   `json:"createdAt"`
}

const (
	ColorManual  = "#00B4FF"
	ColorSaved   = "#8BC34A"
	ColorDefault = "#FFC107"
	ColorNote    = "#FFF59D"
)

// label keywords mapped to finding colors; first match wins
var labelColors = []struct {
	keywords []string
	color    string
}{
	{[]string{"malignan", "cancer", "tumor", "tumour", "mass", "carcinoma"}, "#F44336"},
	{[]string{"fracture", "hemorrhage", "haemorrhage", "bleed"}, "#FF5722"},
	{[]string{"nodule", "lesion", "opacity", "calcification"}, "#FF9800"},
	{[]string{"effusion", "edema", "oedema", "consolidation", "pneumonia"}, "#9C27B0"},
	{[]string{"benign", "normal", "no finding"}, "#4CAF50"},
}

// ColorForLabel derives the display color of an AI finding from its label
func ColorForLabel(label string) string {
	l := strings.ToLower(label)
	for _, lc := range labelColors {
		for _, kw := range lc.keywords {
			if strings.Contains(l, kw) {
				return lc.color
			}
		}
	}
	return ColorDefault
}

// ColorFor returns the display color for an annotation of type t
func ColorFor(t Type, label string) string {
	switch t {
	case TypeAI:
		return ColorForLabel(label)
	case TypeManual:
		return ColorManual
	default:
		return ColorSaved
	}
}

// NewManual builds a user-drawn box. It is edited from birth so it gets
// persisted on the next save.
func NewManual(canvas types.Rect, canonical *types.PixelBox) (Annotation, error) {
	if canvas.Width < MinBoxSize || canvas.Height < MinBoxSize {
		return Annotation{}, ErrTooSmall
	}
	return Annotation{
		ID:         "manual-" + uuid.NewString(),
		Label:      "",
		Confidence: 1.0,
		Type:       TypeManual,
		Canvas:     canvas,
		Canonical:  canonical,
		Color:      ColorManual,
		IsEdited:   true,
		CreatedAt:  time.Now(),
	}, nil
}

// NewNote builds a note at a container position
func NewNote(pos types.Point, text string) Note {
	return Note{
		ID:        "note-" + uuid.NewString(),
		Position:  pos,
		Text:      text,
		Color:     ColorNote,
		CreatedAt: time.Now(),
	}
}
