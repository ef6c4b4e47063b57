// Package render loads viewer images and burns annotations into them for
// export.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// Options controls how annotations are drawn
type Options struct {
	// Stroke is the outline width in output pixels; 0 scales with the image
	Stroke int
	Labels bool
}

func DefaultOptions() Options {
	return Options{Labels: true}
}

// LoadImage reads an image file, including WebP
func LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode decodes image bytes in any registered format, falling back to WebP
func Decode(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Dimensions returns the pixel size of img
func Dimensions(img image.Image) types.Dimensions {
	b := img.Bounds()
	return types.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// EncodeBase64 prepares an image for a vision model: downscaled so the long
// side is at most maxDim, encoded as png or jpg.
func EncodeBase64(img image.Image, format string, maxDim, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Save writes img as jpg, png or webp
func Save(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg", "":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Burn draws the canonical box of every annotation onto a copy of img.
// dims is the image size the canonical geometry refers to; when img has a
// different resolution boxes are scaled to it. Annotations without canonical
// geometry are skipped.
func Burn(img image.Image, anns []annotation.Annotation, dims types.Dimensions, opts Options) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	sx, sy := 1.0, 1.0
	if dims.Width > 0 && dims.Height > 0 {
		sx = float64(w) / float64(dims.Width)
		sy = float64(h) / float64(dims.Height)
	}
	stroke := opts.Stroke
	if stroke <= 0 {
		stroke = int(math.Max(2, 0.004*float64(min(w, h))))
	}

	for _, a := range anns {
		if a.Canonical == nil {
			continue
		}
		c := parseColor(a.Color)
		x0 := int(a.Canonical.XMin*sx + 0.5)
		y0 := int(a.Canonical.YMin*sy + 0.5)
		x1 := int(a.Canonical.XMax*sx + 0.5)
		y1 := int(a.Canonical.YMax*sy + 0.5)
		if x1 <= x0 {
			x1 = x0 + 1
		}
		if y1 <= y0 {
			y1 = y0 + 1
		}
		drawBox(out, x0, y0, x1, y1, c, stroke)
		if opts.Labels {
			if text := caption(a); text != "" {
				drawLabel(out, x0, y0, text, c)
			}
		}
	}
	return out
}

func caption(a annotation.Annotation) string {
	if a.Type == annotation.TypeAI {
		return fmt.Sprintf("%s %.0f%%", a.Label, a.Confidence*100)
	}
	return a.Label
}

// drawLabel writes text on a filled tab sitting on top of the box, or inside
// it when the box touches the top edge
func drawLabel(img *image.NRGBA, x, y int, text string, bg color.NRGBA) {
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil() + 6
	th := face.Height + 4

	top := y - th
	if top < 0 {
		top = y
	}
	for ty := top; ty < top+th; ty++ {
		drawHLine(img, ty, x, x+tw, bg)
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor(bg)),
		Face: face,
		Dot:  fixed.P(x+3, top+face.Ascent+2),
	}
	d.DrawString(text)
}

// textColor picks black or white, whichever reads better on bg
func textColor(bg color.NRGBA) color.Color {
	lum := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if lum > 150 {
		return color.Black
	}
	return color.White
}

// parseColor reads #RRGGBB; anything else draws in the default finding color
func parseColor(hex string) color.NRGBA {
	s := strings.TrimPrefix(hex, "#")
	if len(s) == 6 {
		if v, err := strconv.ParseUint(s, 16, 32); err == nil {
			return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
		}
	}
	if hex != annotation.ColorDefault {
		return parseColor(annotation.ColorDefault)
	}
	return color.NRGBA{R: 255, G: 193, B: 7, A: 255}
}

func drawBox(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < 0 || y >= b.Dy() {
		return
	}
	x0, x1 = max(x0, 0), min(x1, b.Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < 0 || x >= b.Dx() {
		return
	}
	y0, y1 = max(y0, 0), min(y1, b.Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		copy(img.Pix[i:i+4], []uint8{c.R, c.G, c.B, c.A})
		i += img.Stride
	}
}
