// Package vision is an offline findings source. It scores local contrast on
// a downscaled grayscale copy of the image and reports the most salient
// windows as candidate regions, so an overlay can be exercised without a
// vision model.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/annotation-overlay/pkg/findings"
)

// RegionLabel is the label given to every saliency region
const RegionLabel = "salient region"

// DetectionConfig holds configuration for saliency detection
type DetectionConfig struct {
	EdgeThreshold    float64
	ContrastWeight   float64
	BrightnessWeight float64
	// MinRegionRatio is the smallest region area as a fraction of the image
	MinRegionRatio float64
	// MaxRegions caps the number of reported regions
	MaxRegions int
	// MaxOverlap is the IoU above which a weaker region is suppressed
	MaxOverlap float64
	// WorkingSize is the longest side the image is reduced to before scoring
	WorkingSize int
}

// Detector finds salient regions in images
type Detector struct {
	config DetectionConfig
}

// New creates a Detector with default configuration
func New() *Detector {
	return &Detector{
		config: DetectionConfig{
			EdgeThreshold:    0.01,
			ContrastWeight:   0.7,
			BrightnessWeight: 0.3,
			MinRegionRatio:   0.01,
			MaxRegions:       5,
			MaxOverlap:       0.3,
			WorkingSize:      256,
		},
	}
}

// NewWithConfig creates a Detector with custom configuration
func NewWithConfig(config DetectionConfig) *Detector {
	return &Detector{config: config}
}

// Region is a rectangular region of interest in image pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// IoU returns the intersection over union of two regions
func (r Region) IoU(o Region) float64 {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.Width, o.X+o.Width)
	y2 := min(r.Y+r.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	return float64(inter) / float64(r.Area()+o.Area()-inter)
}

// Findings decodes the request image and reports salient regions as
// absolute-pixel findings
func (d *Detector) Findings(ctx context.Context, req findings.Request) ([]findings.Finding, error) {
	raw, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regions := d.DetectRegions(img)
	out := make([]findings.Finding, 0, len(regions))
	for i, r := range regions {
		out = append(out, findings.Finding{
			ID:         fmt.Sprintf("saliency-%d", i),
			Label:      RegionLabel,
			Confidence: math.Min(r.Score, 1),
			XMin:       float64(r.X),
			YMin:       float64(r.Y),
			XMax:       float64(r.X + r.Width),
			YMax:       float64(r.Y + r.Height),
		})
	}
	return out, nil
}

// DetectRegions returns the most salient, mostly non-overlapping regions,
// strongest first, in the coordinates of img
func (d *Detector) DetectRegions(img image.Image) []Region {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	work := imaging.Grayscale(img)
	scale := 1.0
	if longest := max(width, height); d.config.WorkingSize > 0 && longest > d.config.WorkingSize {
		scale = float64(longest) / float64(d.config.WorkingSize)
		work = imaging.Fit(work, d.config.WorkingSize, d.config.WorkingSize, imaging.Box)
	}

	saliency := d.saliencyMap(work)
	wb := work.Bounds()
	candidates := d.findCandidateRegions(saliency, wb.Dx(), wb.Dy())
	selected := d.suppress(candidates)

	for i := range selected {
		selected[i] = scaleRegion(selected[i], scale, width, height)
	}
	return selected
}

func (d *Detector) saliencyMap(img *image.NRGBA) [][]float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	lum := func(x, y int) float64 {
		return float64(img.Pix[y*img.Stride+x*4]) / 255.0
	}

	saliencyMap := make([][]float64, h)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, w)
	}

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := lum(x, y)
			var edge float64
			for _, o := range neighbors {
				edge += math.Abs(c - lum(x+o[0], y+o[1]))
			}
			edge /= 8
			saliencyMap[y][x] = d.config.ContrastWeight*edge + d.config.BrightnessWeight*c
		}
	}
	return saliencyMap
}

func (d *Detector) findCandidateRegions(saliencyMap [][]float64, width, height int) []Region {
	var regions []Region
	minArea := int(float64(width*height) * d.config.MinRegionRatio)

	base := min(width, height)
	for _, size := range []int{base / 12, base / 8, base / 6, base / 4} {
		if size < 8 || size*size < minArea {
			continue
		}
		step := max(size/4, 1)
		for y := 0; y+size <= height; y += step {
			for x := 0; x+size <= width; x += step {
				score := regionScore(saliencyMap, x, y, size, size)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: size, Height: size, Score: score})
				}
			}
		}
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Score > regions[j].Score })
	return regions
}

// suppress keeps the strongest regions that do not overlap an already kept one
func (d *Detector) suppress(candidates []Region) []Region {
	var kept []Region
	for _, c := range candidates {
		if d.config.MaxRegions > 0 && len(kept) >= d.config.MaxRegions {
			break
		}
		overlaps := false
		for _, k := range kept {
			if c.IoU(k) > d.config.MaxOverlap {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

func regionScore(saliencyMap [][]float64, x, y, width, height int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+height && ry < len(saliencyMap); ry++ {
		for rx := x; rx < x+width && rx < len(saliencyMap[ry]); rx++ {
			total += saliencyMap[ry][rx]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func scaleRegion(r Region, scale float64, width, height int) Region {
	if scale == 1 {
		return r
	}
	out := Region{
		X:      int(math.Round(float64(r.X) * scale)),
		Y:      int(math.Round(float64(r.Y) * scale)),
		Width:  int(math.Round(float64(r.Width) * scale)),
		Height: int(math.Round(float64(r.Height) * scale)),
		Score:  r.Score,
	}
	out.Width = min(out.Width, width-out.X)
	out.Height = min(out.Height, height-out.Y)
	return out
}
