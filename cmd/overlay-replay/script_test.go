package main

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/internal/config"
	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/render"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

const session = `
instance: study-1
findings:
  - {id: f1, label: nodule, confidence: 0.9, xMin: 0.05, yMin: 0.05, xMax: 0.3, yMax: 0.3}
steps:
  - analyze: true
  - tool: bbox
  - drag: {from: [300, 300], to: [360, 350]}
  - label: mass
  - key: Enter
  - tool: select
  - pan: [10, 0]
  - save: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "session.yaml", session)
	imgPath := filepath.Join(dir, "study.png")
	require.NoError(t, imaging.Save(imaging.New(512, 512, color.NRGBA{A: 255}), imgPath))
	out := filepath.Join(dir, "export.png")

	cfg := config.Default()
	cfg.Viewer = config.ViewerConfig{CanvasWidth: 512, CanvasHeight: 512}

	report, err := run(t.Context(), cfg, imgPath, scriptPath, out, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "study-1", report.Instance)
	assert.Equal(t, 8, report.Steps)
	require.Len(t, report.Saves, 1)
	assert.Equal(t, 1, report.Saves[0].Succeeded)
	assert.Equal(t, 10.0, report.Camera.Pan.X)

	require.Len(t, report.Annotations, 2)
	manual := report.Annotations[1]
	assert.Equal(t, annotation.TypeManual, manual.Type)
	assert.Equal(t, "mass", manual.Label)
	assert.InDelta(t, 310, manual.Canvas.X, 1e-9)
	assert.False(t, manual.IsEdited)

	exported, err := render.LoadImage(out)
	require.NoError(t, err)
	assert.Equal(t, types.Dimensions{Width: 512, Height: 512}, render.Dimensions(exported))
}

func TestReplayStopsAtFailingStep(t *testing.T) {
	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "s.yaml", "steps:\n  - tool: bbox\n  - analyze: true\n")
	imgPath := filepath.Join(dir, "study.png")
	require.NoError(t, imaging.Save(imaging.New(64, 64, color.NRGBA{A: 255}), imgPath))

	report, err := run(t.Context(), config.Default(), imgPath, scriptPath, "", "", nil)
	assert.ErrorContains(t, err, "step 2")
	assert.Equal(t, 1, report.Steps)
	assert.Equal(t, "study", report.Instance, "instance falls back to the file name")
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadScript(writeFile(t, dir, "ok.json", `{"instance":"i","image":{"spacing":[0.5,0.5,1]},"steps":[{"zoom":{"factor":2,"at":[1,2]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, types.Vec3{0.5, 0.5, 1}, s.Image.ImageData().Spacing)
	assert.Equal(t, types.IdentityDirection, s.Image.ImageData().Direction)
	assert.Equal(t, 2.0, s.Steps[0].Zoom.Factor)

	_, err = LoadScript(writeFile(t, dir, "two.yaml", "steps:\n  - {pan: [1, 1], save: true}\n"))
	assert.ErrorContains(t, err, "expected one action")

	_, err = LoadScript(writeFile(t, dir, "empty.yaml", "steps:\n  - {}\n"))
	assert.Error(t, err)
}

func TestNilGeometryDefaults(t *testing.T) {
	var g *ImageGeometry
	img := g.ImageData()
	assert.Equal(t, types.Vec3{1, 1, 1}, img.Spacing)
}
