package annotation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/pkg/types"
)

func aiBox(id string, x float64) Annotation {
	return Annotation{
		ID:         id,
		Label:      "nodule",
		Confidence: 0.8,
		Type:       TypeAI,
		Canvas:     types.Rect{X: x, Y: 10, Width: 40, Height: 40},
		Canonical:  &types.PixelBox{XMin: x, YMin: 10, XMax: x + 40, YMax: 50},
		Color:      ColorForLabel("nodule"),
	}
}

func TestStoreAddRejectsDuplicates(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	err := s.Add(aiBox("a1", 5))
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
}

func TestStoreAddRejectsUnknownType(t *testing.T) {
	s := NewStore()
	a := aiBox("x", 0)
	a.Type = "bogus"
	assert.ErrorIs(t, s.Add(a), ErrInvalidType)
}

func TestStoreUpdateSetsEditedFlag(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	moved := types.Rect{X: 5, Y: 5, Width: 40, Height: 40}
	got, err := s.Update("a1", Patch{Canvas: &moved})
	require.NoError(t, err)
	assert.True(t, got.IsEdited)
	assert.Equal(t, moved, got.Canvas)
}

func boxRect(b types.PixelBox) types.Rect {
	return types.Rect{X: b.XMin * 2, Y: b.YMin * 2, Width: b.Width() * 2, Height: b.Height() * 2}
}

func TestStoreReprojectIsNotAnEdit(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))
	manual, err := NewManual(types.Rect{X: 3, Y: 3, Width: 30, Height: 30}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(manual))
	s.ClearEdited(manual.ID)

	assert.Equal(t, 1, s.Reproject(boxRect))
	assert.Equal(t, 0, s.Reproject(boxRect), "unchanged rects are not rewritten")

	got, _ := s.Get("a1")
	assert.False(t, got.IsEdited)
	assert.Zero(t, got.Revision)
	assert.Equal(t, types.Rect{X: 0, Y: 20, Width: 80, Height: 80}, got.Canvas)

	uncanonical, _ := s.Get(manual.ID)
	assert.Equal(t, manual.Canvas, uncanonical.Canvas)
}

func TestStoreReprojectConcurrentWithEdits(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 500 {
			box := types.PixelBox{XMin: float64(i), YMin: 10, XMax: float64(i) + 40, YMax: 50}
			canvas := boxRect(box)
			_, _ = s.Update("a1", Patch{Canvas: &canvas, Canonical: &box})
		}
	}()
	go func() {
		defer wg.Done()
		for range 500 {
			s.Reproject(boxRect)
		}
	}()
	wg.Wait()

	got, _ := s.Get("a1")
	assert.Equal(t, boxRect(*got.Canonical), got.Canvas, "canvas must match the latest canonical box")
	assert.Equal(t, uint64(500), got.Revision)
}

func TestStoreSetRecordID(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	require.NoError(t, s.SetRecordID("a1", "rec-9"))
	got, _ := s.Get("a1")
	assert.Equal(t, "rec-9", got.RecordID)
	assert.False(t, got.IsEdited)

	assert.ErrorIs(t, s.SetRecordID("missing", "rec"), ErrNotFound)
}

func TestStoreClearEditedIf(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))
	label := "mass"
	snap, err := s.Update("a1", Patch{Label: &label})
	require.NoError(t, err)

	label = "cyst"
	_, err = s.Update("a1", Patch{Label: &label})
	require.NoError(t, err)

	assert.False(t, s.ClearEditedIf("a1", snap.Revision), "edited after the snapshot")
	assert.Len(t, s.Edited(), 1)

	assert.True(t, s.ClearEditedIf("a1", snap.Revision+1))
	assert.Empty(t, s.Edited())
	assert.False(t, s.ClearEditedIf("missing", 0))
}

func TestStoreUpdateUnknown(t *testing.T) {
	s := NewStore()
	label := "x"
	_, err := s.Update("missing", Patch{Label: &label})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreReplaceAIPreservesUserWork(t *testing.T) {
	s := NewStore()
	manual, err := NewManual(types.Rect{X: 1, Y: 2, Width: 30, Height: 30}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(manual))
	require.NoError(t, s.Add(aiBox("old-ai", 0)))

	require.NoError(t, s.ReplaceAI([]Annotation{aiBox("new-ai-1", 50), aiBox("new-ai-2", 100)}))

	got, ok := s.Get(manual.ID)
	require.True(t, ok)
	assert.Equal(t, manual.Canvas, got.Canvas)
	assert.Equal(t, manual.ID, got.ID)

	_, ok = s.Get("old-ai")
	assert.False(t, ok)

	ai := s.ByType(TypeAI)
	require.Len(t, ai, 2)
	assert.Equal(t, "new-ai-1", ai[0].ID)
	assert.Equal(t, "new-ai-2", ai[1].ID)
}

func TestStoreReplaceAIRejectsCollisionWithoutMutating(t *testing.T) {
	s := NewStore()
	saved := aiBox("rec-1", 0)
	saved.Type = TypeSaved
	require.Equal(t, 1, s.AppendSaved([]Annotation{saved}))
	require.NoError(t, s.Add(aiBox("old-ai", 10)))

	err := s.ReplaceAI([]Annotation{aiBox("rec-1", 0)})
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, ok := s.Get("old-ai")
	assert.True(t, ok)
}

func TestStoreAppendSavedSkipsDuplicates(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	saved := aiBox("rec-1", 0)
	saved.Type = TypeSaved
	dup := saved

	added := s.AppendSaved([]Annotation{saved, dup})
	assert.Equal(t, 1, added)
	assert.Len(t, s.ByType(TypeAI), 1)
	assert.Len(t, s.ByType(TypeSaved), 1)
}

func TestStoreAppendSavedSkipsLiveRecords(t *testing.T) {
	s := NewStore()
	m, err := NewManual(types.Rect{X: 10, Y: 10, Width: 60, Height: 70}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(m))
	require.NoError(t, s.SetRecordID(m.ID, "rec-1"))

	reloaded := aiBox("rec-1", 10)
	reloaded.Type = TypeSaved
	reloaded.RecordID = "rec-1"
	other := aiBox("rec-2", 90)
	other.Type = TypeSaved
	other.RecordID = "rec-2"

	assert.Equal(t, 1, s.AppendSaved([]Annotation{reloaded, other}))
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("rec-1")
	assert.False(t, ok)
}

func TestStoreClearEdited(t *testing.T) {
	s := NewStore()
	m, err := NewManual(types.Rect{Width: 20, Height: 20}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(m))
	require.Len(t, s.Edited(), 1)

	s.ClearEdited(m.ID, "unknown")
	assert.Empty(t, s.Edited())
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))

	got, _ := s.Get("a1")
	got.Canonical.XMin = 999
	again, _ := s.Get("a1")
	assert.Equal(t, 0.0, again.Canonical.XMin)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(aiBox("a1", 0)))
	require.NoError(t, s.Add(aiBox("a2", 0)))

	require.NoError(t, s.Remove("a1"))
	assert.ErrorIs(t, s.Remove("a1"), ErrNotFound)
	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].ID)
}

func TestNewManualMinimumSize(t *testing.T) {
	_, err := NewManual(types.Rect{Width: 19.9, Height: 50}, nil)
	assert.ErrorIs(t, err, ErrTooSmall)

	m, err := NewManual(types.Rect{Width: 20, Height: 20}, nil)
	require.NoError(t, err)
	assert.True(t, m.IsEdited)
	assert.Equal(t, TypeManual, m.Type)
	assert.Equal(t, 1.0, m.Confidence)
	assert.True(t, m.LabelEditable())
}

func TestColorForLabel(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Suspicious Mass", "#F44336"},
		{"rib fracture", "#FF5722"},
		{"Pulmonary nodule", "#FF9800"},
		{"pleural effusion", "#9C27B0"},
		{"benign cyst", "#4CAF50"},
		{"something else", ColorDefault},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ColorForLabel(tt.label))
		})
	}
	assert.Equal(t, ColorManual, ColorFor(TypeManual, "mass"))
	assert.Equal(t, ColorSaved, ColorFor(TypeSaved, "mass"))
}

func TestStoreNotes(t *testing.T) {
	s := NewStore()
	n := NewNote(types.Point{X: 10, Y: 20}, "check prior")
	s.AddNote(n)

	updated, err := s.UpdateNote(n.ID, func(n *Note) { n.Text = "compare with 2023" })
	require.NoError(t, err)
	assert.Equal(t, "compare with 2023", updated.Text)

	got, ok := s.Note(n.ID)
	require.True(t, ok)
	assert.Equal(t, types.Point{X: 10, Y: 20}, got.Position)

	require.NoError(t, s.RemoveNote(n.ID))
	assert.Empty(t, s.Notes())
	assert.ErrorIs(t, s.RemoveNote(n.ID), ErrNotFound)
}
