package render

import (
	"encoding/base64"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

var gray = color.NRGBA{R: 40, G: 40, B: 40, A: 255}

func boxAnnotation(t annotation.Type, box types.PixelBox) annotation.Annotation {
	return annotation.Annotation{ID: "a", Label: "mass", Confidence: 0.87, Type: t, Canonical: &box, Color: "#F44336"}
}

func TestBurnDrawsOutline(t *testing.T) {
	img := imaging.New(100, 100, gray)
	a := boxAnnotation(annotation.TypeAI, types.PixelBox{XMin: 20, YMin: 30, XMax: 60, YMax: 70})

	out := Burn(img, []annotation.Annotation{a}, types.Dimensions{}, Options{Stroke: 2})

	red := color.NRGBA{R: 0xF4, G: 0x43, B: 0x36, A: 255}
	assert.Equal(t, red, out.NRGBAAt(20, 50), "left edge")
	assert.Equal(t, red, out.NRGBAAt(21, 50), "stroke width")
	assert.Equal(t, red, out.NRGBAAt(59, 50), "right edge")
	assert.Equal(t, red, out.NRGBAAt(40, 69), "bottom edge")
	assert.Equal(t, gray, out.NRGBAAt(40, 50), "interior untouched")
	assert.Equal(t, gray, out.NRGBAAt(10, 10), "outside untouched")
	assert.Equal(t, gray, img.NRGBAAt(20, 50), "source untouched")
}

func TestBurnScalesToResolution(t *testing.T) {
	img := imaging.New(200, 200, gray)
	a := boxAnnotation(annotation.TypeManual, types.PixelBox{XMin: 10, YMin: 10, XMax: 50, YMax: 50})

	out := Burn(img, []annotation.Annotation{a}, types.Dimensions{Width: 100, Height: 100}, Options{Stroke: 1})
	assert.NotEqual(t, gray, out.NRGBAAt(20, 60))
	assert.Equal(t, gray, out.NRGBAAt(10, 60))
}

func TestBurnLabelAndSkips(t *testing.T) {
	img := imaging.New(100, 100, gray)
	labelled := boxAnnotation(annotation.TypeAI, types.PixelBox{XMin: 10, YMin: 40, XMax: 90, YMax: 90})
	noGeometry := annotation.Annotation{ID: "b", Type: annotation.TypeManual, Color: annotation.ColorManual}

	out := Burn(img, []annotation.Annotation{labelled, noGeometry}, types.Dimensions{}, DefaultOptions())
	assert.NotEqual(t, gray, out.NRGBAAt(12, 35), "label tab above the box")
}

func TestParseColor(t *testing.T) {
	assert.Equal(t, color.NRGBA{R: 0x8B, G: 0xC3, B: 0x4A, A: 255}, parseColor(annotation.ColorSaved))
	assert.Equal(t, color.NRGBA{R: 255, G: 193, B: 7, A: 255}, parseColor("teal"))
}

func TestSaveAndLoad(t *testing.T) {
	img := imaging.New(32, 24, gray)
	dir := t.TempDir()

	for _, format := range []string{"png", "jpg", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "export."+format)
			require.NoError(t, Save(img, path, format, 90, true))

			loaded, err := LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, types.Dimensions{Width: 32, Height: 24}, Dimensions(loaded))
		})
	}

	assert.Error(t, Save(img, filepath.Join(dir, "x.bmp"), "bmp", 90, false))
}

func TestEncodeBase64Downscales(t *testing.T) {
	img := imaging.New(400, 200, gray)
	encoded, err := EncodeBase64(img, "png", 100, 0)
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), decoded.Bounds())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	assert.Error(t, err)
}
