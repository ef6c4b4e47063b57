// Package findings ingests AI findings into ai-type annotations.
//
// A finding arrives either as corner coordinates {xMin, yMin, xMax, yMax} or
// in the legacy {boundingBox: {x, y, width, height}} shape. Coordinates are
// treated as normalized to [0,1] when the far corner lies within the unit
// square, and as absolute image pixels otherwise. The decision is taken once
// per finding. A 1x1 pixel box at the top-left corner of the image is
// therefore indistinguishable from a full-frame normalized box.
package findings

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/transform"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// ErrInvalidFinding is returned for findings that cannot be placed on the image
var ErrInvalidFinding = errors.New("invalid finding")

// LegacyBox is the older top-left + size shape
type LegacyBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Finding is one AI-detected region of interest
type Finding struct {
	ID         string  `json:"id,omitempty" yaml:"id,omitempty"`
	Label      string  `json:"label" yaml:"label"`
	Confidence float64 `json:"confidence" yaml:"confidence"`

	XMin float64 `json:"xMin,omitempty" yaml:"xMin,omitempty"`
	YMin float64 `json:"yMin,omitempty" yaml:"yMin,omitempty"`
	XMax float64 `json:"xMax,omitempty" yaml:"xMax,omitempty"`
	YMax float64 `json:"yMax,omitempty" yaml:"yMax,omitempty"`

	BoundingBox *LegacyBox `json:"boundingBox,omitempty" yaml:"boundingBox,omitempty"`
}

// corners returns the raw box corners in whatever unit the finding uses
func (f Finding) corners() (x0, y0, x1, y1 float64) {
	if f.BoundingBox != nil {
		b := f.BoundingBox
		return b.X, b.Y, b.X + b.Width, b.Y + b.Height
	}
	return f.XMin, f.YMin, f.XMax, f.YMax
}

// Normalized reports whether the finding's coordinates are fractions of the
// image size
func (f Finding) Normalized() bool {
	_, _, x1, y1 := f.corners()
	return x1 <= 1 && y1 <= 1
}

// PixelBox resolves the finding to an image-pixel box clamped to the image
func (f Finding) PixelBox(dims types.Dimensions) (types.PixelBox, error) {
	x0, y0, x1, y1 := f.corners()
	for _, v := range []float64{x0, y0, x1, y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.PixelBox{}, fmt.Errorf("%w: non-finite coordinate", ErrInvalidFinding)
		}
	}

	if f.Normalized() {
		w, h := float64(dims.Width), float64(dims.Height)
		x0, x1 = x0*w, x1*w
		y0, y1 = y0*h, y1*h
	}

	box := types.PixelBox{
		XMin: math.Min(x0, x1),
		YMin: math.Min(y0, y1),
		XMax: math.Max(x0, x1),
		YMax: math.Max(y0, y1),
	}
	if dims.Width > 0 && dims.Height > 0 {
		box.XMin = clamp(box.XMin, 0, float64(dims.Width))
		box.XMax = clamp(box.XMax, 0, float64(dims.Width))
		box.YMin = clamp(box.YMin, 0, float64(dims.Height))
		box.YMax = clamp(box.YMax, 0, float64(dims.Height))
	}
	if box.Width() <= 0 || box.Height() <= 0 {
		return types.PixelBox{}, fmt.Errorf("%w: empty box", ErrInvalidFinding)
	}
	return box, nil
}

// Options tune ingestion
type Options struct {
	// MinConfidence drops findings scoring below it
	MinConfidence float64
	Logger        *zap.Logger
}

// ToAnnotations converts findings into ai annotations positioned with the
// viewport's current camera. Findings that cannot be placed or fall below
// the confidence floor are skipped and logged.
func ToAnnotations(list []Finding, vp transform.Projector, opts Options) []annotation.Annotation {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("findings")

	dims := vp.ImageDimensions()
	now := time.Now()
	out := make([]annotation.Annotation, 0, len(list))
	seen := make(map[string]struct{}, len(list))

	for i, f := range list {
		conf := clamp(f.Confidence, 0, 1)
		if conf < opts.MinConfidence {
			logger.Debug("finding below confidence floor",
				zap.String("label", f.Label),
				zap.Float64("confidence", conf))
			continue
		}

		box, err := f.PixelBox(dims)
		if err != nil {
			logger.Warn("skipping finding", zap.Int("index", i), zap.Error(err))
			continue
		}

		id := f.ID
		if id == "" {
			id = fmt.Sprintf("finding-%d", i)
		}
		if _, dup := seen[id]; dup {
			logger.Warn("skipping finding with duplicate id", zap.String("id", id))
			continue
		}
		seen[id] = struct{}{}

		canonical := box
		out = append(out, annotation.Annotation{
			ID:         id,
			Label:      f.Label,
			Confidence: conf,
			Type:       annotation.TypeAI,
			Canvas:     transform.PixelBoxToCanvas(vp, box),
			Canonical:  &canonical,
			Color:      annotation.ColorForLabel(f.Label),
			CreatedAt:  now,
		})
	}

	logger.Info("findings ingested", zap.Int("received", len(list)), zap.Int("accepted", len(out)))
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
