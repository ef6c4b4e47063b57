package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/metrics"
	"github.com/menta2k/annotation-overlay/pkg/transform"
)

// DefaultConcurrency bounds parallel record submissions
const DefaultConcurrency = 4

// Outcome aggregates a save
type Outcome struct {
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	SucceededIDs []string `json:"succeededIds,omitempty"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

// Adapter moves annotations between the store and a Repository
type Adapter struct {
	repo        Repository
	store       *annotation.Store
	projector   transform.Projector
	instanceID  string
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// AdapterOption customizes an Adapter
type AdapterOption func(*Adapter)

// WithConcurrency bounds how many records are submitted at once. Values
// below one keep the default.
func WithConcurrency(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// WithMetrics records save outcomes on m
func WithMetrics(m *metrics.Collector) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter creates an adapter persisting the annotations of one image
// instance
func NewAdapter(repo Repository, store *annotation.Store, projector transform.Projector, instanceID string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		repo:        repo,
		store:       store,
		projector:   projector,
		instanceID:  instanceID,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("persistence")
	return a
}

// InstanceID returns the image instance the adapter persists for
func (a *Adapter) InstanceID() string {
	return a.instanceID
}

type itemResult struct {
	id       string
	revision uint64
	recordID string
	err      error
}

// SaveEdited submits every edited annotation as its own record. Geometry is
// recovered from the current canvas rect through the inverse transform; an
// annotation whose corners cannot be converted is counted as failed without
// a call. Edit flags are cleared for succeeded ids only, and only when the
// annotation was not edited again while its request was in flight. There is
// no retry.
func (a *Adapter) SaveEdited(ctx context.Context) Outcome {
	edited := a.store.Edited()
	if len(edited) == 0 {
		return Outcome{}
	}

	start := time.Now()
	results := make([]itemResult, len(edited))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, ann := range edited {
		g.Go(func() error {
			recordID, err := a.saveOne(ctx, ann)
			results[i] = itemResult{id: ann.ID, revision: ann.Revision, recordID: recordID, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for _, r := range results {
		if r.err != nil {
			out.Failed++
			out.FailedIDs = append(out.FailedIDs, r.id)
			a.logger.Warn("annotation not saved", zap.String("id", r.id), zap.Error(r.err))
			continue
		}
		if err := a.store.SetRecordID(r.id, r.recordID); err != nil {
			// deleted while saving; the record exists but nothing to flag
			a.logger.Debug("saved annotation vanished", zap.String("id", r.id))
		} else if !a.store.ClearEditedIf(r.id, r.revision) {
			a.logger.Debug("annotation edited during save, kept pending", zap.String("id", r.id))
		}
		out.Succeeded++
		out.SucceededIDs = append(out.SucceededIDs, r.id)
	}

	a.metrics.ObserveSave(out.Succeeded, out.Failed)
	a.logger.Info("save finished",
		zap.String("instance_id", a.instanceID),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Duration("took", time.Since(start)))
	return out
}

// saveOne writes a single annotation and returns its record id
func (a *Adapter) saveOne(ctx context.Context, ann annotation.Annotation) (string, error) {
	box, ok := transform.CanvasToPixelBox(a.projector, ann.Canvas)
	if !ok {
		return "", errors.New("camera transform not invertible")
	}

	data, err := NewPayload(ann, box).Encode()
	if err != nil {
		return "", err
	}
	rec := Record{
		ID:             ann.RecordID,
		InstanceID:     a.instanceID,
		AnnotationType: AnnotationTypeBoundingBox,
		AnnotationData: data,
	}

	if rec.ID != "" {
		saved, err := a.repo.Update(ctx, rec)
		if err != nil {
			return "", fmt.Errorf("update record %s: %w", rec.ID, err)
		}
		return saved.ID, nil
	}
	saved, err := a.repo.Create(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return saved.ID, nil
}

// LoadSaved appends the instance's stored annotations to the store as the
// saved family. Records with malformed payloads are dropped. It returns how
// many annotations were added.
func (a *Adapter) LoadSaved(ctx context.Context) (int, error) {
	records, err := a.repo.GetByInstanceID(ctx, a.instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load saved annotations: %w", err)
	}

	list := make([]annotation.Annotation, 0, len(records))
	for _, rec := range records {
		if rec.AnnotationType != AnnotationTypeBoundingBox {
			continue
		}
		p, err := DecodePayload(rec.AnnotationData)
		if err != nil {
			a.logger.Debug("dropping malformed record", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		box := p.Box()
		list = append(list, annotation.Annotation{
			ID:         rec.ID,
			Label:      p.Label,
			Confidence: 1.0,
			Type:       annotation.TypeSaved,
			Canvas:     transform.PixelBoxToCanvas(a.projector, box),
			Canonical:  &box,
			Color:      annotation.ColorSaved,
			RecordID:   rec.ID,
			CreatedAt:  rec.CreatedAt,
		})
	}

	added := a.store.AppendSaved(list)
	a.logger.Info("saved annotations loaded",
		zap.String("instance_id", a.instanceID),
		zap.Int("records", len(records)),
		zap.Int("added", added))
	return added, nil
}

// Delete removes an annotation from the store and, when it was persisted,
// its record. A record already gone from the repository is not an error.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	ann, ok := a.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", annotation.ErrNotFound, id)
	}
	if err := a.DeleteRecord(ctx, ann.RecordID); err != nil {
		return err
	}
	return a.store.Remove(id)
}

// DeleteRecord removes a stored record whose annotation already left the
// store. An empty id or a record already gone is not an error.
func (a *Adapter) DeleteRecord(ctx context.Context, recordID string) error {
	if recordID == "" {
		return nil
	}
	if err := a.repo.Delete(ctx, recordID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("failed to delete record %s: %w", recordID, err)
	}
	a.logger.Debug("record deleted", zap.String("record_id", recordID))
	return nil
}
