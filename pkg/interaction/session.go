package interaction

import (
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// Mode is the current interaction state
type Mode string

const (
	ModeIdle         Mode = "idle"
	ModeDrawing      Mode = "drawingBbox"
	ModeDragging     Mode = "draggingBbox"
	ModeResizing     Mode = "resizingBbox"
	ModeDraggingNote Mode = "draggingNote"
	ModeEditingLabel Mode = "editingLabel"
)

// Corner names a resize handle
type Corner string

const (
	CornerNW Corner = "nw"
	CornerNE Corner = "ne"
	CornerSW Corner = "sw"
	CornerSE Corner = "se"
)

var corners = []Corner{CornerNW, CornerNE, CornerSW, CornerSE}

// Tool is the armed pointer tool. Select, BBox and Note are handled by the
// overlay; the others belong to the viewport and are toggled via ToolHooks.
type Tool string

const (
	ToolSelect      Tool = "select"
	ToolBBox        Tool = "bbox"
	ToolNote        Tool = "note"
	ToolWindowLevel Tool = "windowLevel"
	ToolZoom        Tool = "zoom"
	ToolPan         Tool = "pan"
	ToolStackScroll Tool = "stackScroll"
)

// Viewport reports whether the tool is driven by the viewport
func (t Tool) Viewport() bool {
	switch t {
	case ToolWindowLevel, ToolZoom, ToolPan, ToolStackScroll:
		return true
	}
	return false
}

// Valid reports whether t is a known tool
func (t Tool) Valid() bool {
	switch t {
	case ToolSelect, ToolBBox, ToolNote:
		return true
	}
	return t.Viewport()
}

// Key is a keyboard key relevant to the overlay
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyEscape    Key = "Escape"
	KeyDelete    Key = "Delete"
	KeyBackspace Key = "Backspace"
)

// Session is the transient state of one pointer interaction
type Session struct {
	Mode     Mode
	Corner   Corner
	Anchor   types.Point
	TargetID string

	// start is the pointer position at pointer-down
	start types.Point
	// origin is the target's canvas rect at pointer-down
	origin types.Rect
	// noteOffset is the pointer offset inside a dragged note
	noteOffset types.Point
	draft      types.Rect
}

// active reports whether the session holds the pointer
func (s Session) active() bool {
	switch s.Mode {
	case ModeDrawing, ModeDragging, ModeResizing, ModeDraggingNote:
		return true
	}
	return false
}

type labelEdit struct {
	id       string
	original string
	text     string
}

// PointerCapture routes global pointer-move/up events to the machine while a
// draw, drag or resize session runs. Attach and Detach are called exactly
// once per session, with the machine lock held: implementations must not
// call back into the Machine.
type PointerCapture interface {
	Attach()
	Detach()
}

// ToolHooks toggles the viewport's own tools
type ToolHooks interface {
	SetViewportTool(tool Tool, active bool) error
}

type nopCapture struct{}

func (nopCapture) Attach() {}
func (nopCapture) Detach() {}

type nopHooks struct{}

func (nopHooks) SetViewportTool(Tool, bool) error { return nil }
