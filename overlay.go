// Package overlay provides the annotation layer of an imaging viewer.
//
// An Engine wires one viewer session: an annotation store, the interaction
// state machine that turns pointer events into annotation edits, the
// reconciler that keeps every box pinned to the image while the camera moves,
// and the persistence adapter that saves edited boxes one record at a time.
//
// Basic usage:
//
//	vp := viewport.NewOrthographic(imgData, dims, canvas, logger)
//	engine := overlay.New(repo, overlay.WithLogger(logger))
//	if err := engine.Open(ctx, vp, "1.2.840.113619.2.55.3"); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	// AI findings replace the ai family; manual and saved boxes stay
//	engine.IngestFindings(ctx, ollamaClient, findings.Request{ImageB64: b64})
//
//	// pointer events drive drawing, dragging, resizing and label edits
//	m := engine.Machine()
//	m.SetTool(interaction.ToolBBox)
//	m.PointerDown(types.Point{X: 10, Y: 10})
//	m.PointerMove(types.Point{X: 60, Y: 70})
//	m.PointerUp(types.Point{X: 60, Y: 70})
//
//	outcome, _ := engine.Save(ctx)
//	fmt.Printf("saved %d, failed %d\n", outcome.Succeeded, outcome.Failed)
//
// Components:
//
//  1. Transform (pkg/transform): image pixel, world and canvas conversions
//  2. Annotation (pkg/annotation): the store of boxes and notes
//  3. Interaction (pkg/interaction): pointer and keyboard state machine
//  4. Reconcile (pkg/reconcile): camera-sync of canvas geometry
//  5. Persistence (pkg/persistence): per-record save and load
package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/findings"
	"github.com/menta2k/annotation-overlay/pkg/interaction"
	"github.com/menta2k/annotation-overlay/pkg/metrics"
	"github.com/menta2k/annotation-overlay/pkg/persistence"
	"github.com/menta2k/annotation-overlay/pkg/reconcile"
	"github.com/menta2k/annotation-overlay/pkg/render"
	"github.com/menta2k/annotation-overlay/pkg/viewport"
)

// Version of the overlay engine
const Version = "1.0.0"

// DeleteTimeout bounds the record deletion behind a keyboard delete
const DeleteTimeout = 30 * time.Second

// ErrNotOpen is returned by session operations before Open or after Close
var ErrNotOpen = errors.New("no image open")

// Config tunes an Engine
type Config struct {
	Interaction     interaction.Config
	MinConfidence   float64
	SaveConcurrency int
}

// DefaultConfig returns the stock engine settings
func DefaultConfig() Config {
	return Config{
		Interaction:     interaction.DefaultConfig(),
		SaveConcurrency: persistence.DefaultConcurrency,
	}
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithPointerCapture(c interaction.PointerCapture) Option {
	return func(e *Engine) { e.capture = c }
}

func WithToolHooks(h interaction.ToolHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// Engine is the overlay of one viewer at a time
type Engine struct {
	cfg     Config
	repo    persistence.Repository
	logger  *zap.Logger
	metrics *metrics.Collector
	capture interaction.PointerCapture
	hooks   interaction.ToolHooks

	mu         sync.RWMutex
	vp         viewport.Viewport
	instanceID string
	store      *annotation.Store
	machine    *interaction.Machine
	reconciler *reconcile.Reconciler
	adapter    *persistence.Adapter
}

// New creates an engine persisting through repo. A nil repo keeps records
// in memory.
func New(repo persistence.Repository, opts ...Option) *Engine {
	e := &Engine{
		cfg:    DefaultConfig(),
		repo:   repo,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.repo == nil {
		e.repo = persistence.NewMemoryRepository()
	}
	e.logger = e.logger.Named("overlay")
	return e
}

// Open starts a session over vp for the image instance instanceID. Any
// previous session is closed and its annotations are discarded. Saved
// annotations of the instance are loaded.
func (e *Engine) Open(ctx context.Context, vp viewport.Viewport, instanceID string) error {
	e.mu.Lock()
	e.closeLocked()

	store := annotation.NewStore()
	machineOpts := []interaction.Option{
		interaction.WithConfig(e.cfg.Interaction),
		interaction.WithLogger(e.logger),
	}
	if e.capture != nil {
		machineOpts = append(machineOpts, interaction.WithPointerCapture(e.capture))
	}
	if e.hooks != nil {
		machineOpts = append(machineOpts, interaction.WithToolHooks(e.hooks))
	}

	rec := reconcile.New(store, vp, e.logger, e.metrics)
	if err := rec.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to start camera sync: %w", err)
	}

	adapter := persistence.NewAdapter(e.repo, store, vp, instanceID,
		persistence.WithConcurrency(e.cfg.SaveConcurrency),
		persistence.WithLogger(e.logger),
		persistence.WithMetrics(e.metrics))
	machineOpts = append(machineOpts, interaction.WithDeleteHook(func(a annotation.Annotation) {
		e.deleteRecord(adapter, store, a)
	}))

	e.vp = vp
	e.instanceID = instanceID
	e.store = store
	e.reconciler = rec
	e.adapter = adapter
	e.machine = interaction.New(store, vp, machineOpts...)
	e.mu.Unlock()

	e.logger.Info("image opened", zap.String("instance_id", instanceID))

	if _, err := e.LoadSaved(ctx); err != nil {
		return err
	}
	return nil
}

// Close ends the session. The viewport itself is left open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *Engine) closeLocked() {
	if e.store == nil {
		return
	}
	e.machine.Reset()
	e.reconciler.Stop()
	e.store.Reset()
	e.logger.Info("image closed", zap.String("instance_id", e.instanceID))

	e.vp = nil
	e.instanceID = ""
	e.store = nil
	e.machine = nil
	e.reconciler = nil
	e.adapter = nil
}

type session struct {
	vp         viewport.Viewport
	store      *annotation.Store
	machine    *interaction.Machine
	reconciler *reconcile.Reconciler
	adapter    *persistence.Adapter
}

func (e *Engine) session() (session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return session{}, ErrNotOpen
	}
	return session{
		vp:         e.vp,
		store:      e.store,
		machine:    e.machine,
		reconciler: e.reconciler,
		adapter:    e.adapter,
	}, nil
}

// Store returns the annotation store of the open session, or nil
func (e *Engine) Store() *annotation.Store {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store
}

// Machine returns the interaction state machine of the open session, or nil
func (e *Engine) Machine() *interaction.Machine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.machine
}

// InstanceID returns the open image instance
func (e *Engine) InstanceID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instanceID
}

// Annotations returns every annotation in render order
func (e *Engine) Annotations() []annotation.Annotation {
	s, err := e.session()
	if err != nil {
		return nil
	}
	return s.store.All()
}

// IngestFindings fetches findings from src and replaces the ai family with
// them. It returns how many findings became annotations.
func (e *Engine) IngestFindings(ctx context.Context, src findings.Source, req findings.Request) (int, error) {
	s, err := e.session()
	if err != nil {
		return 0, err
	}

	list, err := src.Findings(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch findings: %w", err)
	}
	anns := findings.ToAnnotations(list, s.vp, findings.Options{
		MinConfidence: e.cfg.MinConfidence,
		Logger:        e.logger,
	})
	if err := s.store.ReplaceAI(anns); err != nil {
		return 0, fmt.Errorf("failed to replace findings: %w", err)
	}

	e.publishCounts(s.store)
	e.logger.Info("findings ingested",
		zap.Int("received", len(list)),
		zap.Int("accepted", len(anns)))
	return len(anns), nil
}

// LoadSaved appends the persisted annotations of the open instance and
// projects them onto the canvas
func (e *Engine) LoadSaved(ctx context.Context) (int, error) {
	s, err := e.session()
	if err != nil {
		return 0, err
	}
	n, err := s.adapter.LoadSaved(ctx)
	if err != nil {
		return 0, err
	}
	s.reconciler.Resync()
	e.publishCounts(s.store)
	return n, nil
}

// Save persists every edited annotation
func (e *Engine) Save(ctx context.Context) (persistence.Outcome, error) {
	s, err := e.session()
	if err != nil {
		return persistence.Outcome{}, err
	}
	out := s.adapter.SaveEdited(ctx)
	e.publishCounts(s.store)
	return out, nil
}

// Delete removes an annotation and its stored record
func (e *Engine) Delete(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	if s.machine.Selected() == id {
		s.machine.Reset()
	}
	if err := s.adapter.Delete(ctx, id); err != nil {
		return err
	}
	e.publishCounts(s.store)
	return nil
}

// deleteRecord removes the stored record of a box deleted through the
// interaction machine
func (e *Engine) deleteRecord(adapter *persistence.Adapter, store *annotation.Store, a annotation.Annotation) {
	ctx, cancel := context.WithTimeout(context.Background(), DeleteTimeout)
	defer cancel()
	if err := adapter.DeleteRecord(ctx, a.RecordID); err != nil {
		e.logger.Error("failed to delete stored record",
			zap.String("id", a.ID),
			zap.String("record_id", a.RecordID),
			zap.Error(err))
	}
	e.publishCounts(store)
}

// Export burns the current annotations into img, which must show the open
// image at any resolution
func (e *Engine) Export(img image.Image, opts render.Options) (*image.NRGBA, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	return render.Burn(img, s.store.All(), s.vp.ImageDimensions(), opts), nil
}

func (e *Engine) publishCounts(store *annotation.Store) {
	if e.metrics == nil {
		return
	}
	counts := map[string]int{
		string(annotation.TypeAI):     0,
		string(annotation.TypeManual): 0,
		string(annotation.TypeSaved):  0,
	}
	for _, a := range store.All() {
		counts[string(a.Type)]++
	}
	e.metrics.SetAnnotations(counts)
}
