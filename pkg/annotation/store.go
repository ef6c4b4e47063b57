package annotation

import (
	"fmt"
	"sync"

	"github.com/menta2k/annotation-overlay/pkg/types"
)

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Label     *string
	Canvas    *types.Rect
	Canonical *types.PixelBox
}

// Store holds the annotations and notes of one open viewer session.
// Insertion order is kept and doubles as the render order.
type Store struct {
	mu    sync.RWMutex
	items []*Annotation
	index map[string]*Annotation
	notes []*Note
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{index: make(map[string]*Annotation)}
}

// Add appends an annotation. IDs must be unique.
func (s *Store) Add(a Annotation) error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, a.Type)
	}
	if a.Canvas.Width < 0 || a.Canvas.Height < 0 {
		return fmt.Errorf("annotation %s has negative size", a.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
	}
	s.insert(a)
	return nil
}

// Update applies a user edit: the annotation is flagged as edited and its
// revision advances.
func (s *Store) Update(id string, p Patch) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.index[id]
	if !ok {
		return Annotation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Label != nil {
		a.Label = *p.Label
	}
	if p.Canvas != nil {
		r := *p.Canvas
		if r.Width < 0 {
			r.Width = 0
		}
		if r.Height < 0 {
			r.Height = 0
		}
		a.Canvas = r
	}
	if p.Canonical != nil {
		c := *p.Canonical
		a.Canonical = &c
	}
	a.IsEdited = true
	a.Revision++
	return clone(a), nil
}

// SetRecordID links an annotation to its stored record. It is not an edit.
func (s *Store) SetRecordID(id, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a.RecordID = recordID
	return nil
}

// Reproject recomputes the canvas rect of every annotation with canonical
// geometry through project, under the store lock, so a concurrent edit is
// never overwritten with a projection of stale geometry. It is not an edit.
// It returns how many rects changed.
func (s *Store) Reproject(project func(types.PixelBox) types.Rect) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.items {
		if a.Canonical == nil {
			continue
		}
		r := project(*a.Canonical)
		if r == a.Canvas {
			continue
		}
		a.Canvas = r
		n++
	}
	return n
}

// Remove deletes an annotation
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.index, id)
	for i, a := range s.items {
		if a.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return nil
}

// ClearEditedIf resets the edit flag only if the annotation is still at
// revision rev, i.e. nothing changed it since that snapshot was taken.
func (s *Store) ClearEditedIf(id string, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.index[id]
	if !ok || a.Revision != rev {
		return false
	}
	a.IsEdited = false
	return true
}

// ClearEdited resets the edit flag of the given ids. Unknown ids are ignored.
func (s *Store) ClearEdited(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if a, ok := s.index[id]; ok {
			a.IsEdited = false
		}
	}
}

// Get returns a copy of one annotation
func (s *Store) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.index[id]
	if !ok {
		return Annotation{}, false
	}
	return clone(a), true
}

// All returns copies of every annotation in render order
func (s *Store) All() []Annotation {
	return s.filter(func(*Annotation) bool { return true })
}

// ByType returns the annotations of one family
func (s *Store) ByType(t Type) []Annotation {
	return s.filter(func(a *Annotation) bool { return a.Type == t })
}

// Edited returns the annotations waiting to be persisted
func (s *Store) Edited() []Annotation {
	return s.filter(func(a *Annotation) bool { return a.IsEdited })
}

// Len returns the number of annotations
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ReplaceAI swaps the whole ai family for a fresh analysis result. Manual and
// saved annotations are never touched.
func (s *Store) ReplaceAI(list []Annotation) error {
	for _, a := range list {
		if a.Type != TypeAI {
			return fmt.Errorf("%w: expected ai, got %q for %s", ErrInvalidType, a.Type, a.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(list))
	for _, a := range list {
		if existing, ok := s.index[a.ID]; ok && existing.Type != TypeAI {
			return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
		}
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	kept := s.items[:0]
	for _, a := range s.items {
		if a.Type == TypeAI {
			delete(s.index, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	s.items = kept

	for _, a := range list {
		s.insert(a)
	}
	return nil
}

// AppendSaved adds previously persisted annotations, skipping any whose id
// is present or whose record already backs a live annotation. It returns how
// many were added.
func (s *Store) AppendSaved(list []Annotation) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make(map[string]struct{}, len(s.items))
	for _, a := range s.items {
		if a.RecordID != "" {
			records[a.RecordID] = struct{}{}
		}
	}

	added := 0
	for _, a := range list {
		if _, ok := s.index[a.ID]; ok {
			continue
		}
		if _, ok := records[a.RecordID]; ok && a.RecordID != "" {
			continue
		}
		s.insert(a)
		if a.RecordID != "" {
			records[a.RecordID] = struct{}{}
		}
		added++
	}
	return added
}

// Reset empties the store, notes included
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]*Annotation)
	s.notes = nil
}

// AddNote appends a note
func (s *Store) AddNote(n Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nc := n
	s.notes = append(s.notes, &nc)
}

// UpdateNote mutates a note in place through fn
func (s *Store) UpdateNote(id string, fn func(*Note)) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notes {
		if n.ID == id {
			fn(n)
			return *n, nil
		}
	}
	return Note{}, fmt.Errorf("%w: note %s", ErrNotFound, id)
}

// RemoveNote deletes a note
func (s *Store) RemoveNote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notes {
		if n.ID == id {
			s.notes = append(s.notes[:i], s.notes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: note %s", ErrNotFound, id)
}

// Note returns a copy of one note
func (s *Store) Note(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notes {
		if n.ID == id {
			return *n, true
		}
	}
	return Note{}, false
}

// Notes returns copies of all notes, topmost last
func (s *Store) Notes() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, *n)
	}
	return out
}

// insert must be called with mu held
func (s *Store) insert(a Annotation) {
	ac := clone(&a)
	s.items = append(s.items, &ac)
	s.index[ac.ID] = &ac
}

func (s *Store) filter(keep func(*Annotation) bool) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, len(s.items))
	for _, a := range s.items {
		if keep(a) {
			out = append(out, clone(a))
		}
	}
	return out
}

// clone copies an annotation so callers never alias the canonical pointer
func clone(a *Annotation) Annotation {
	c := *a
	if a.Canonical != nil {
		box := *a.Canonical
		c.Canonical = &box
	}
	return c
}
