// Package interaction routes pointer and keyboard events to annotation
// mutations.
//
// The machine owns the selection, the armed tool and the transient pointer
// Session. Every geometry change is written to the annotation store together
// with a canonical image-pixel box re-derived from the new canvas rect, so
// all annotation types stay pinned to the image under later camera changes.
package interaction

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/transform"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// Surface is what the machine needs from the viewport
type Surface interface {
	transform.Projector
	CanvasSize() types.Dimensions
}

// Config holds interaction geometry in canvas pixels
type Config struct {
	MinBoxSize  float64
	HandleSize  float64
	LabelHeight float64
	NoteWidth   float64
	NoteHeight  float64
}

// DefaultConfig returns the stock interaction geometry
func DefaultConfig() Config {
	return Config{
		MinBoxSize:  annotation.MinBoxSize,
		HandleSize:  10,
		LabelHeight: 18,
		NoteWidth:   160,
		NoteHeight:  100,
	}
}

// Option customizes a Machine
type Option func(*Machine)

// WithPointerCapture sets the global pointer listener manager
func WithPointerCapture(c PointerCapture) Option {
	return func(m *Machine) { m.capture = c }
}

// WithToolHooks sets the viewport tool toggles
func WithToolHooks(h ToolHooks) Option {
	return func(m *Machine) { m.hooks = h }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithDeleteHook sets a callback told about every box the machine deletes,
// e.g. to remove its stored record. It runs after the machine lock is
// released, so it may call back into the Machine.
func WithDeleteHook(h func(annotation.Annotation)) Option {
	return func(m *Machine) { m.onDelete = h }
}

// WithConfig overrides the interaction geometry
func WithConfig(cfg Config) Option {
	return func(m *Machine) { m.cfg = cfg }
}

// Machine is the interaction state machine of one viewer session
type Machine struct {
	mu       sync.Mutex
	store    *annotation.Store
	surface  Surface
	capture  PointerCapture
	hooks    ToolHooks
	cfg      Config
	logger   *zap.Logger
	onDelete func(annotation.Annotation)

	tool     Tool
	selected string
	session  Session
	edit     *labelEdit
}

// New creates a machine over store, projecting through surface
func New(store *annotation.Store, surface Surface, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		surface: surface,
		capture: nopCapture{},
		hooks:   nopHooks{},
		cfg:     DefaultConfig(),
		logger:  zap.NewNop(),
		tool:    ToolSelect,
		session: Session{Mode: ModeIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.MinBoxSize < annotation.MinBoxSize {
		m.cfg.MinBoxSize = annotation.MinBoxSize
	}
	m.logger = m.logger.Named("interaction")
	return m
}

// Mode returns the current interaction mode
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Mode
}

// Session returns a copy of the current session
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Selected returns the id of the selected box, or ""
func (m *Machine) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Tool returns the armed tool
func (m *Machine) Tool() Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tool
}

// Draft returns the box being drawn
func (m *Machine) Draft() (types.Rect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Mode != ModeDrawing {
		return types.Rect{}, false
	}
	return m.session.draft, true
}

// LabelText returns the label being typed while editing
func (m *Machine) LabelText() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edit == nil {
		return "", false
	}
	return m.edit.text, true
}

// SetTool arms a tool. Viewport tools are toggled through the hooks; any
// running session ends and a pending label edit is committed.
func (m *Machine) SetTool(t Tool) error {
	if !t.Valid() {
		return fmt.Errorf("unknown tool %q", t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.commitLabel()
	m.endSession()

	prev := m.tool
	if prev == t {
		return nil
	}
	if prev.Viewport() {
		if err := m.hooks.SetViewportTool(prev, false); err != nil {
			return fmt.Errorf("failed to deactivate %s: %w", prev, err)
		}
	}
	if t.Viewport() {
		if err := m.hooks.SetViewportTool(t, true); err != nil {
			return fmt.Errorf("failed to activate %s: %w", t, err)
		}
	}
	m.tool = t
	m.logger.Debug("tool armed", zap.String("tool", string(t)))
	return nil
}

// Select selects a box by id; an empty id clears the selection
func (m *Machine) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if _, ok := m.store.Get(id); !ok {
			return fmt.Errorf("%w: %s", annotation.ErrNotFound, id)
		}
	}
	m.setSelected(id)
	return nil
}

// PointerDown handles a press at canvas point p. It reports whether the
// overlay consumed the event; unconsumed events belong to the viewport.
func (m *Machine) PointerDown(p types.Point) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.active() {
		// a press without a release; restart cleanly
		m.endSession()
	}

	if m.edit != nil {
		if a, ok := m.onLabel(p); ok && a.ID == m.edit.id {
			return true
		}
		m.commitLabel()
	}

	if n, ok := m.noteAt(p); ok {
		m.begin(Session{
			Mode:       ModeDraggingNote,
			Anchor:     p,
			TargetID:   n.ID,
			start:      p,
			noteOffset: p.Sub(n.Position),
		})
		return true
	}

	if m.tool.Viewport() {
		return false
	}

	if c, ok := m.handleAt(p); ok {
		a, _ := m.store.Get(m.selected)
		m.begin(Session{
			Mode:     ModeResizing,
			Corner:   c,
			Anchor:   p,
			TargetID: a.ID,
			start:    p,
			origin:   a.Canvas,
		})
		return true
	}

	if a, ok := m.onLabel(p); ok {
		m.startLabelEdit(a)
		return true
	}

	switch m.tool {
	case ToolBBox:
		m.setSelected("")
		m.begin(Session{
			Mode:   ModeDrawing,
			Anchor: p,
			start:  p,
			draft:  types.Rect{X: p.X, Y: p.Y},
		})
		return true
	case ToolNote:
		m.createNote(p)
		return true
	}

	a, ok := m.boxAt(p)
	if !ok {
		m.setSelected("")
		return true
	}
	if a.ID != m.selected {
		m.setSelected(a.ID)
		return true
	}
	m.begin(Session{
		Mode:     ModeDragging,
		Anchor:   p,
		TargetID: a.ID,
		start:    p,
		origin:   a.Canvas,
	})
	return true
}

// PointerMove handles pointer motion at canvas point p
func (m *Machine) PointerMove(p types.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.active() {
		return
	}
	if m.session.Mode == ModeDrawing {
		m.session.draft = types.RectFromCorners(m.session.start, p)
	} else {
		m.track(p)
	}
	if m.session.active() {
		m.session.Anchor = p
	}
}

// PointerUp ends the running pointer session at canvas point p
func (m *Machine) PointerUp(p types.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.Mode {
	case ModeDrawing:
		draft := types.RectFromCorners(m.session.start, p)
		m.endSession()
		m.commitDraft(draft)
	case ModeDragging, ModeResizing, ModeDraggingNote:
		m.track(p)
		m.endSession()
	}
}

// track applies the drag, resize or note move implied by pointer p
func (m *Machine) track(p types.Point) {
	s := m.session
	switch s.Mode {
	case ModeDragging:
		m.applyGeometry(s.origin.Translate(p.Sub(s.start)))
	case ModeResizing:
		m.applyGeometry(resize(s.origin, s.Corner, p.Sub(s.start), m.cfg.MinBoxSize))
	case ModeDraggingNote:
		m.moveNote(p)
	}
}

// Blur handles loss of focus: a label edit is committed and a pointer
// session is abandoned without committing a draft
func (m *Machine) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitLabel()
	m.endSession()
}

// KeyDown handles a key press
func (m *Machine) KeyDown(k Key) {
	m.mu.Lock()
	removed, err := m.keyDown(k)
	m.mu.Unlock()

	if err == nil && removed != nil {
		m.deleted(*removed)
	}
}

func (m *Machine) keyDown(k Key) (*annotation.Annotation, error) {
	if m.edit != nil {
		switch k {
		case KeyEnter:
			m.commitLabel()
		case KeyEscape:
			m.cancelLabel()
		}
		return nil, nil
	}

	switch k {
	case KeyEscape:
		m.endSession()
	case KeyDelete, KeyBackspace:
		a, err := m.deleteSelected()
		if err != nil {
			if !errors.Is(err, annotation.ErrNotFound) {
				m.logger.Warn("delete failed", zap.Error(err))
			}
			return nil, err
		}
		return &a, nil
	}
	return nil, nil
}

// BeginLabelEdit enters label editing for the selected manual box
func (m *Machine) BeginLabelEdit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != m.selected {
		return fmt.Errorf("annotation %s is not selected", id)
	}
	a, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", annotation.ErrNotFound, id)
	}
	if !a.LabelEditable() {
		return fmt.Errorf("label of %s annotation %s is not editable", a.Type, id)
	}
	m.commitLabel()
	m.endSession()
	m.startLabelEdit(a)
	return nil
}

// SetLabelText replaces the text typed into the label editor
func (m *Machine) SetLabelText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edit != nil {
		m.edit.text = text
	}
}

// DeleteSelected removes the selected box and returns to idle
func (m *Machine) DeleteSelected() error {
	m.mu.Lock()
	a, err := m.deleteSelected()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.deleted(a)
	return nil
}

func (m *Machine) deleted(a annotation.Annotation) {
	if m.onDelete != nil {
		m.onDelete(a)
	}
}

// Reset drops selection and any session, e.g. when a new image is loaded
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edit = nil
	m.endSession()
	m.selected = ""
}

func (m *Machine) deleteSelected() (annotation.Annotation, error) {
	if m.selected == "" {
		return annotation.Annotation{}, fmt.Errorf("%w: nothing selected", annotation.ErrNotFound)
	}
	id := m.selected
	m.edit = nil
	m.endSession()
	m.selected = ""
	a, ok := m.store.Get(id)
	if !ok {
		return annotation.Annotation{}, fmt.Errorf("%w: %s", annotation.ErrNotFound, id)
	}
	if err := m.store.Remove(id); err != nil {
		return annotation.Annotation{}, err
	}
	m.logger.Info("annotation deleted", zap.String("id", id))
	return a, nil
}

func (m *Machine) setSelected(id string) {
	if id != m.selected && m.edit != nil {
		m.commitLabel()
	}
	m.selected = id
}

// begin starts a pointer session; the previous one must have ended
func (m *Machine) begin(s Session) {
	m.session = s
	if s.active() {
		m.capture.Attach()
	}
}

// endSession returns to idle, or to label editing if an edit is pending
func (m *Machine) endSession() {
	if m.session.active() {
		m.capture.Detach()
	}
	mode := ModeIdle
	if m.edit != nil {
		mode = ModeEditingLabel
	}
	m.session = Session{Mode: mode}
	if m.edit != nil {
		m.session.TargetID = m.edit.id
	}
}

func (m *Machine) commitDraft(draft types.Rect) {
	if draft.Width < m.cfg.MinBoxSize || draft.Height < m.cfg.MinBoxSize {
		m.logger.Debug("discarding small draft",
			zap.Float64("width", draft.Width),
			zap.Float64("height", draft.Height))
		return
	}

	var canonical *types.PixelBox
	if box, ok := transform.CanvasToPixelBox(m.surface, draft); ok {
		canonical = &box
	} else {
		m.logger.Warn("camera not invertible, manual box has no canonical geometry")
	}

	a, err := annotation.NewManual(draft, canonical)
	if err != nil {
		return
	}
	if err := m.store.Add(a); err != nil {
		m.logger.Error("failed to add manual annotation", zap.Error(err))
		return
	}
	m.selected = a.ID
	m.startLabelEdit(a)
	m.logger.Info("manual annotation created", zap.String("id", a.ID))
}

// applyGeometry writes a new canvas rect for the session target together
// with its re-derived canonical box
func (m *Machine) applyGeometry(r types.Rect) {
	id := m.session.TargetID
	patch := annotation.Patch{Canvas: &r}
	if box, ok := transform.CanvasToPixelBox(m.surface, r); ok {
		patch.Canonical = &box
	}
	if _, err := m.store.Update(id, patch); err != nil {
		// the box was removed under us
		m.logger.Debug("target vanished", zap.String("id", id), zap.Error(err))
		if id == m.selected {
			m.selected = ""
		}
		m.endSession()
	}
}

func (m *Machine) startLabelEdit(a annotation.Annotation) {
	m.edit = &labelEdit{id: a.ID, original: a.Label, text: a.Label}
	m.session = Session{Mode: ModeEditingLabel, TargetID: a.ID}
}

// commitLabel stores the edited label; empty text reverts
func (m *Machine) commitLabel() {
	e := m.edit
	if e == nil {
		return
	}
	m.edit = nil
	if m.session.Mode == ModeEditingLabel {
		m.session = Session{Mode: ModeIdle}
	}

	text := strings.TrimSpace(e.text)
	if text == "" || text == e.original {
		return
	}
	if _, err := m.store.Update(e.id, annotation.Patch{Label: &text}); err != nil {
		m.logger.Debug("label target vanished", zap.String("id", e.id), zap.Error(err))
	}
}

func (m *Machine) cancelLabel() {
	m.edit = nil
	if m.session.Mode == ModeEditingLabel {
		m.session = Session{Mode: ModeIdle}
	}
}

func (m *Machine) createNote(p types.Point) {
	n := annotation.NewNote(m.clampNote(p), "")
	m.store.AddNote(n)
	m.logger.Debug("note created", zap.String("id", n.ID))
}

func (m *Machine) moveNote(p types.Point) {
	pos := m.clampNote(p.Sub(m.session.noteOffset))
	_, err := m.store.UpdateNote(m.session.TargetID, func(n *annotation.Note) {
		n.Position = pos
	})
	if err != nil {
		m.endSession()
	}
}

// clampNote keeps a note inside the viewport container
func (m *Machine) clampNote(p types.Point) types.Point {
	c := m.surface.CanvasSize()
	maxX := math.Max(float64(c.Width)-m.cfg.NoteWidth, 0)
	maxY := math.Max(float64(c.Height)-m.cfg.NoteHeight, 0)
	return types.Point{
		X: math.Min(math.Max(p.X, 0), maxX),
		Y: math.Min(math.Max(p.Y, 0), maxY),
	}
}

// resize moves the two edges adjacent to corner c by d. Width and height
// never drop below minSize; the opposite edges stay fixed.
func resize(r types.Rect, c Corner, d types.Point, minSize float64) types.Rect {
	left, top := r.X, r.Y
	right, bottom := r.X+r.Width, r.Y+r.Height

	switch c {
	case CornerNW:
		left = math.Min(left+d.X, right-minSize)
		top = math.Min(top+d.Y, bottom-minSize)
	case CornerNE:
		right = math.Max(right+d.X, left+minSize)
		top = math.Min(top+d.Y, bottom-minSize)
	case CornerSW:
		left = math.Min(left+d.X, right-minSize)
		bottom = math.Max(bottom+d.Y, top+minSize)
	case CornerSE:
		right = math.Max(right+d.X, left+minSize)
		bottom = math.Max(bottom+d.Y, top+minSize)
	}
	return types.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}
