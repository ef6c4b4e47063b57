// Package reconcile keeps annotation canvas geometry locked to the image
// while the viewport camera moves.
//
// Every annotation carrying a canonical image-pixel box is reprojected onto
// the canvas on each camera-modified notification. Annotations without one
// keep their canvas geometry. There is no polling: the reconciler relies on
// the viewport firing the notification for every pan, zoom, reset and fit,
// and Resync covers explicit refreshes such as a freshly loaded image.
package reconcile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/metrics"
	"github.com/menta2k/annotation-overlay/pkg/transform"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// ErrAlreadyStarted is returned by a second Start
var ErrAlreadyStarted = errors.New("reconciler already started")

// Camera is what the reconciler needs from the viewport
type Camera interface {
	transform.Projector
	OnCameraChanged(cb func(types.Camera)) (func(), error)
}

type Reconciler struct {
	store   *annotation.Store
	camera  Camera
	logger  *zap.Logger
	metrics *metrics.Collector

	mu          sync.Mutex
	unsubscribe func()
}

// New creates a reconciler. logger and m may be nil.
func New(store *annotation.Store, camera Camera, logger *zap.Logger, m *metrics.Collector) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:   store,
		camera:  camera,
		logger:  logger.Named("reconcile"),
		metrics: m,
	}
}

// Start subscribes to camera changes. It may be called once until Stop.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		return ErrAlreadyStarted
	}
	unsub, err := r.camera.OnCameraChanged(func(types.Camera) {
		r.Resync()
	})
	if err != nil {
		return fmt.Errorf("failed to start camera sync: %w", err)
	}
	r.unsubscribe = unsub
	r.logger.Debug("subscribed to camera changes")
	return nil
}

// Stop unsubscribes. It is safe to call when not started.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// Resync reprojects every annotation with canonical geometry using the
// current camera and returns how many were updated. The store applies the
// projection atomically, so an edit committed concurrently is reprojected
// from its new canonical box rather than overwritten.
func (r *Reconciler) Resync() int {
	start := time.Now()
	n := r.store.Reproject(func(box types.PixelBox) types.Rect {
		return transform.PixelBoxToCanvas(r.camera, box)
	})
	r.metrics.ObserveSync(n, time.Since(start))
	r.logger.Debug("camera sync", zap.Int("reprojected", n))
	return n
}
