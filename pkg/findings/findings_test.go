package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// scaledProjector maps world straight to canvas with a zoom factor
type scaledProjector struct {
	dims types.Dimensions
	zoom float64
}

func (p scaledProjector) WorldToCanvas(w types.Point3) types.Point {
	return types.Point{X: w.X * p.zoom, Y: w.Y * p.zoom}
}

func (p scaledProjector) CanvasToWorld(c types.Point) types.Point3 {
	return types.Point3{X: c.X / p.zoom, Y: c.Y / p.zoom}
}

func (p scaledProjector) ImageData() types.ImageData {
	return types.ImageData{Spacing: types.Vec3{1, 1, 1}, Direction: types.IdentityDirection}
}

func (p scaledProjector) ImageDimensions() types.Dimensions { return p.dims }

var square512 = types.Dimensions{Width: 512, Height: 512}

func TestNormalizedScenario(t *testing.T) {
	f := Finding{ID: "f1", Label: "nodule", Confidence: 0.9, XMin: 0.1, YMin: 0.1, XMax: 0.3, YMax: 0.3}
	require.True(t, f.Normalized())

	box, err := f.PixelBox(square512)
	require.NoError(t, err)
	assert.InDelta(t, 25.6, box.XMin, 1e-9)
	assert.InDelta(t, 25.6, box.YMin, 1e-9)
	assert.InDelta(t, 153.6, box.XMax, 1e-9)
	assert.InDelta(t, 153.6, box.YMax, 1e-9)
}

func TestNormalizationBoundary(t *testing.T) {
	tests := []struct {
		name       string
		finding    Finding
		normalized bool
	}{
		{"unit corner is normalized", Finding{XMin: 0, YMin: 0, XMax: 1.0, YMax: 1.0}, true},
		{"tall y is absolute", Finding{XMin: 0, YMin: 0, XMax: 1.0, YMax: 50}, false},
		{"pixel box", Finding{XMin: 10, YMin: 10, XMax: 90, YMax: 90}, false},
		{"legacy normalized", Finding{BoundingBox: &LegacyBox{X: 0.2, Y: 0.2, Width: 0.5, Height: 0.8}}, true},
		{"legacy overflowing unit square", Finding{BoundingBox: &LegacyBox{X: 0.6, Y: 0.2, Width: 0.5, Height: 0.5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.normalized, tt.finding.Normalized())
		})
	}
}

func TestAbsoluteFindingIsClamped(t *testing.T) {
	f := Finding{XMin: 500, YMin: -10, XMax: 700, YMax: 50}
	box, err := f.PixelBox(square512)
	require.NoError(t, err)
	assert.Equal(t, types.PixelBox{XMin: 500, YMin: 0, XMax: 512, YMax: 50}, box)
}

func TestLegacyShape(t *testing.T) {
	f := Finding{BoundingBox: &LegacyBox{X: 100, Y: 40, Width: 60, Height: 30}}
	box, err := f.PixelBox(square512)
	require.NoError(t, err)
	assert.Equal(t, types.PixelBox{XMin: 100, YMin: 40, XMax: 160, YMax: 70}, box)
}

func TestEmptyBoxRejected(t *testing.T) {
	_, err := Finding{XMin: 5, YMin: 5, XMax: 5, YMax: 80}.PixelBox(square512)
	assert.ErrorIs(t, err, ErrInvalidFinding)
}

func TestToAnnotations(t *testing.T) {
	vp := scaledProjector{dims: square512, zoom: 2}
	list := []Finding{
		{ID: "a", Label: "Pulmonary nodule", Confidence: 0.8, XMin: 0.1, YMin: 0.1, XMax: 0.3, YMax: 0.3},
		{Label: "effusion", Confidence: 1.4, BoundingBox: &LegacyBox{X: 10, Y: 10, Width: 40, Height: 40}},
		{ID: "low", Label: "mass", Confidence: 0.05, XMin: 0.1, YMin: 0.1, XMax: 0.2, YMax: 0.2},
		{ID: "bad", Label: "mass", Confidence: 0.9, XMin: 0.2, YMin: 0.2, XMax: 0.2, YMax: 0.2},
	}

	got := ToAnnotations(list, vp, Options{MinConfidence: 0.1})
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, annotation.TypeAI, a.Type)
	assert.False(t, a.IsEdited)
	assert.Equal(t, "#FF9800", a.Color)
	require.NotNil(t, a.Canonical)
	assert.InDelta(t, 153.6, a.Canonical.XMax, 1e-9)
	assert.InDelta(t, 51.2, a.Canvas.X, 1e-9)
	assert.InDelta(t, 256, a.Canvas.Width, 1e-9)

	b := got[1]
	assert.Equal(t, "finding-1", b.ID)
	assert.Equal(t, 1.0, b.Confidence)
}

func TestParseResponse(t *testing.T) {
	raw := "```json\n{\n  // model chatter\n  \"findings\": [\n    {\"id\": \"n1\", \"label\": \"nodule\", \"confidence\": 0.7, \"xMin\": 0.1, \"yMin\": 0.2, \"xMax\": 0.3, \"yMax\": 0.4},\n  ]\n}\n```"
	list, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
	assert.Equal(t, 0.4, list[0].YMax)
}

func TestParseResponseBareArray(t *testing.T) {
	list, err := ParseResponse(`Here you go: [{"label": "mass", "confidence": 0.5, "boundingBox": {"x": 1, "y": 2, "width": 30, "height": 40}}]`)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].BoundingBox)
	assert.Equal(t, 30.0, list[0].BoundingBox.Width)
}

func TestParseResponseGarbage(t *testing.T) {
	_, err := ParseResponse("I cannot see any image.")
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	src := Static{{ID: "x", XMin: 1, YMin: 1, XMax: 30, YMax: 30}}
	list, err := src.Findings(t.Context(), Request{})
	require.NoError(t, err)
	list[0].ID = "changed"
	assert.Equal(t, "x", src[0].ID)
}
