package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	overlay "github.com/menta2k/annotation-overlay"
	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/findings"
	"github.com/menta2k/annotation-overlay/pkg/interaction"
	"github.com/menta2k/annotation-overlay/pkg/persistence"
	"github.com/menta2k/annotation-overlay/pkg/types"
	"github.com/menta2k/annotation-overlay/pkg/viewport"
)

// Script is a recorded viewer session. JSON scripts parse too since the
// YAML decoder accepts JSON.
type Script struct {
	Instance string             `yaml:"instance"`
	Image    *ImageGeometry     `yaml:"image,omitempty"`
	Findings []findings.Finding `yaml:"findings,omitempty"`
	Steps    []Step             `yaml:"steps"`
}

// ImageGeometry overrides the axis-aligned unit-spacing default
type ImageGeometry struct {
	Spacing   *types.Vec3 `yaml:"spacing,omitempty"`
	Origin    *types.Vec3 `yaml:"origin,omitempty"`
	Direction *[9]float64 `yaml:"direction,omitempty"`
}

// ImageData resolves the geometry
func (g *ImageGeometry) ImageData() types.ImageData {
	img := types.ImageData{Spacing: types.Vec3{1, 1, 1}, Direction: types.IdentityDirection}
	if g == nil {
		return img
	}
	if g.Spacing != nil {
		img.Spacing = *g.Spacing
	}
	if g.Origin != nil {
		img.Origin = *g.Origin
	}
	if g.Direction != nil {
		img.Direction = *g.Direction
	}
	return img
}

type ZoomStep struct {
	Factor float64    `yaml:"factor"`
	At     [2]float64 `yaml:"at"`
}

type DragStep struct {
	From [2]float64 `yaml:"from"`
	To   [2]float64 `yaml:"to"`
}

// Step is one user action; exactly one field is set
type Step struct {
	Tool    string      `yaml:"tool,omitempty"`
	Down    *[2]float64 `yaml:"down,omitempty"`
	Move    *[2]float64 `yaml:"move,omitempty"`
	Up      *[2]float64 `yaml:"up,omitempty"`
	Drag    *DragStep   `yaml:"drag,omitempty"`
	Label   *string     `yaml:"label,omitempty"`
	Key     string      `yaml:"key,omitempty"`
	Select  *string     `yaml:"select,omitempty"`
	Pan     *[2]float64 `yaml:"pan,omitempty"`
	Zoom    *ZoomStep   `yaml:"zoom,omitempty"`
	Reset   bool        `yaml:"reset,omitempty"`
	Fit     bool        `yaml:"fit,omitempty"`
	Blur    bool        `yaml:"blur,omitempty"`
	Delete  bool        `yaml:"delete,omitempty"`
	Analyze bool        `yaml:"analyze,omitempty"`
	Save    bool        `yaml:"save,omitempty"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Tool != "", s.Down != nil, s.Move != nil, s.Up != nil, s.Drag != nil,
		s.Label != nil, s.Key != "", s.Select != nil, s.Pan != nil, s.Zoom != nil,
		s.Reset, s.Fit, s.Blur, s.Delete, s.Analyze, s.Save,
	} {
		if set {
			n++
		}
	}
	return n
}

// LoadScript reads a YAML or JSON script
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, st := range s.Steps {
		if n := st.actions(); n != 1 {
			return nil, fmt.Errorf("step %d: expected one action, got %d", i+1, n)
		}
	}
	return &s, nil
}

// Report summarizes a replay
type Report struct {
	Instance    string                  `json:"instance"`
	Steps       int                     `json:"steps"`
	Saves       []persistence.Outcome   `json:"saves"`
	Annotations []annotation.Annotation `json:"annotations"`
	Notes       []annotation.Note       `json:"notes"`
	Camera      types.Camera            `json:"camera"`
}

// Player applies script steps to an open engine
type Player struct {
	engine  *overlay.Engine
	vp      *viewport.Orthographic
	source  findings.Source
	request findings.Request
	logger  *zap.Logger
	saves   []persistence.Outcome
}

func NewPlayer(engine *overlay.Engine, vp *viewport.Orthographic, source findings.Source, req findings.Request, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{engine: engine, vp: vp, source: source, request: req, logger: logger.Named("replay")}
}

// Play runs every step in order and stops at the first failing one
func (p *Player) Play(ctx context.Context, steps []Step) (Report, error) {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return p.report(i), err
		}
		if err := p.apply(ctx, st); err != nil {
			return p.report(i), fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return p.report(len(steps)), nil
}

func (p *Player) report(steps int) Report {
	r := Report{
		Instance: p.engine.InstanceID(),
		Steps:    steps,
		Saves:    p.saves,
		Camera:   p.vp.Camera(),
	}
	if s := p.engine.Store(); s != nil {
		r.Annotations = s.All()
		r.Notes = s.Notes()
	}
	return r
}

func point(v [2]float64) types.Point {
	return types.Point{X: v[0], Y: v[1]}
}

func (p *Player) apply(ctx context.Context, st Step) error {
	m := p.engine.Machine()
	if m == nil {
		return overlay.ErrNotOpen
	}

	switch {
	case st.Tool != "":
		return m.SetTool(interaction.Tool(st.Tool))
	case st.Down != nil:
		m.PointerDown(point(*st.Down))
	case st.Move != nil:
		m.PointerMove(point(*st.Move))
	case st.Up != nil:
		m.PointerUp(point(*st.Up))
	case st.Drag != nil:
		m.PointerDown(point(st.Drag.From))
		m.PointerMove(point(st.Drag.To))
		m.PointerUp(point(st.Drag.To))
	case st.Label != nil:
		if m.Mode() != interaction.ModeEditingLabel {
			if err := m.BeginLabelEdit(m.Selected()); err != nil {
				return err
			}
		}
		m.SetLabelText(*st.Label)
	case st.Key != "":
		m.KeyDown(interaction.Key(st.Key))
	case st.Select != nil:
		return m.Select(*st.Select)
	case st.Pan != nil:
		return p.vp.Pan(st.Pan[0], st.Pan[1])
	case st.Zoom != nil:
		return p.vp.Zoom(st.Zoom.Factor, point(st.Zoom.At))
	case st.Reset:
		return p.vp.Reset()
	case st.Fit:
		return p.vp.FitToWindow()
	case st.Blur:
		m.Blur()
	case st.Delete:
		return p.engine.Delete(ctx, m.Selected())
	case st.Analyze:
		if p.source == nil {
			return errors.New("no findings source configured")
		}
		n, err := p.engine.IngestFindings(ctx, p.source, p.request)
		if err != nil {
			return err
		}
		p.logger.Info("findings applied", zap.Int("annotations", n))
	case st.Save:
		out, err := p.engine.Save(ctx)
		if err != nil {
			return err
		}
		p.saves = append(p.saves, out)
	}
	return nil
}
