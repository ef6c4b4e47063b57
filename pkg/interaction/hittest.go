package interaction

import (
	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// handleRect is the square grab area centered on a box corner
func handleRect(r types.Rect, c Corner, size float64) types.Rect {
	var p types.Point
	switch c {
	case CornerNW:
		p = types.Point{X: r.X, Y: r.Y}
	case CornerNE:
		p = types.Point{X: r.X + r.Width, Y: r.Y}
	case CornerSW:
		p = types.Point{X: r.X, Y: r.Y + r.Height}
	case CornerSE:
		p = types.Point{X: r.X + r.Width, Y: r.Y + r.Height}
	}
	return types.Rect{X: p.X - size/2, Y: p.Y - size/2, Width: size, Height: size}
}

// labelRect is the label chrome drawn above a box
func labelRect(r types.Rect, height float64) types.Rect {
	return types.Rect{X: r.X, Y: r.Y - height, Width: r.Width, Height: height}
}

// HandleAt returns the resize handle of the selected box under p
func (m *Machine) HandleAt(p types.Point) (Corner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleAt(p)
}

// BoxAt returns the topmost box under p
func (m *Machine) BoxAt(p types.Point) (string, bool) {
	a, ok := m.boxAt(p)
	return a.ID, ok
}

// NoteAt returns the topmost note under p
func (m *Machine) NoteAt(p types.Point) (string, bool) {
	n, ok := m.noteAt(p)
	return n.ID, ok
}

func (m *Machine) handleAt(p types.Point) (Corner, bool) {
	if m.selected == "" {
		return "", false
	}
	a, ok := m.store.Get(m.selected)
	if !ok {
		return "", false
	}
	for _, c := range corners {
		if handleRect(a.Canvas, c, m.cfg.HandleSize).Contains(p) {
			return c, true
		}
	}
	return "", false
}

func (m *Machine) boxAt(p types.Point) (annotation.Annotation, bool) {
	all := m.store.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Canvas.Contains(p) {
			return all[i], true
		}
	}
	return annotation.Annotation{}, false
}

func (m *Machine) noteAt(p types.Point) (annotation.Note, bool) {
	notes := m.store.Notes()
	for i := len(notes) - 1; i >= 0; i-- {
		r := types.Rect{X: notes[i].Position.X, Y: notes[i].Position.Y, Width: m.cfg.NoteWidth, Height: m.cfg.NoteHeight}
		if r.Contains(p) {
			return notes[i], true
		}
	}
	return annotation.Note{}, false
}

// onLabel reports whether p is on the label chrome of the selected manual box
func (m *Machine) onLabel(p types.Point) (annotation.Annotation, bool) {
	if m.selected == "" {
		return annotation.Annotation{}, false
	}
	a, ok := m.store.Get(m.selected)
	if !ok || !a.LabelEditable() {
		return annotation.Annotation{}, false
	}
	return a, labelRect(a.Canvas, m.cfg.LabelHeight).Contains(p)
}
