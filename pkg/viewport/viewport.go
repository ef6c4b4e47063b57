package viewport

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/menta2k/annotation-overlay/pkg/transform"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// TopicCameraModified is the topic camera changes are published on
const TopicCameraModified = "camera.modified"

// Viewport is the rendering surface the overlay sits on. It owns pixel data,
// the camera and the world/canvas projection.
type Viewport interface {
	Camera() types.Camera
	// OnCameraChanged registers cb for every camera change (pan, zoom, reset,
	// fit). The returned func unsubscribes.
	OnCameraChanged(cb func(types.Camera)) (func(), error)
	WorldToCanvas(w types.Point3) types.Point
	CanvasToWorld(c types.Point) types.Point3
	ImageData() types.ImageData
	ImageDimensions() types.Dimensions
	// CanvasSize is the size of the viewport container in canvas pixels
	CanvasSize() types.Dimensions
}

// Orthographic is an in-process 2D viewport with a parallel-projection
// camera. Camera notifications go through a watermill GoChannel that blocks
// each camera mutation until every subscriber acknowledged it, so callers
// observe a fully resynced overlay when Pan/Zoom return.
type Orthographic struct {
	mu      sync.RWMutex
	camera  types.Camera
	initial types.Camera
	img     types.ImageData
	dims    types.Dimensions
	canvas  types.Dimensions

	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// NewOrthographic creates a viewport showing an image of the given geometry,
// fitted into a canvas of the given size
func NewOrthographic(img types.ImageData, dims types.Dimensions, canvas types.Dimensions, logger *zap.Logger) *Orthographic {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Orthographic{
		img:    img,
		dims:   dims,
		canvas: canvas,
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		logger: logger.Named("viewport"),
	}
	v.camera = v.fitCamera()
	v.initial = v.camera
	return v
}

// Camera returns the current camera
func (v *Orthographic) Camera() types.Camera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.camera
}

// ImageData returns the pixel->world geometry of the loaded image
func (v *Orthographic) ImageData() types.ImageData {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.img
}

// ImageDimensions returns the loaded image size in pixels
func (v *Orthographic) ImageDimensions() types.Dimensions {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dims
}

// CanvasSize returns the container size in canvas pixels
func (v *Orthographic) CanvasSize() types.Dimensions {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.canvas
}

// WorldToCanvas projects a world point with the current camera
func (v *Orthographic) WorldToCanvas(w types.Point3) types.Point {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cam := v.camera
	return types.Point{
		X: (w.X-cam.FocalPoint.X)*cam.Zoom + float64(v.canvas.Width)/2 + cam.Pan.X,
		Y: (w.Y-cam.FocalPoint.Y)*cam.Zoom + float64(v.canvas.Height)/2 + cam.Pan.Y,
	}
}

// CanvasToWorld unprojects a canvas point with the current camera. A zero
// zoom yields non-finite coordinates.
func (v *Orthographic) CanvasToWorld(c types.Point) types.Point3 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cam := v.camera
	return types.Point3{
		X: (c.X-float64(v.canvas.Width)/2-cam.Pan.X)/cam.Zoom + cam.FocalPoint.X,
		Y: (c.Y-float64(v.canvas.Height)/2-cam.Pan.Y)/cam.Zoom + cam.FocalPoint.Y,
		Z: cam.FocalPoint.Z,
	}
}

// OnCameraChanged subscribes cb to camera notifications
func (v *Orthographic) OnCameraChanged(cb func(types.Camera)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := v.pubSub.Subscribe(ctx, TopicCameraModified)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to camera changes: %w", err)
	}

	// the subscriber is removed asynchronously; stopped keeps cb quiet from
	// the moment unsubscribe returns
	var stopped atomic.Bool
	go func() {
		for msg := range messages {
			var cam types.Camera
			if err := json.Unmarshal(msg.Payload, &cam); err != nil {
				v.logger.Warn("dropping malformed camera event", zap.Error(err))
			} else if !stopped.Load() {
				cb(cam)
			}
			msg.Ack()
		}
	}()

	return func() {
		stopped.Store(true)
		cancel()
	}, nil
}

// SetCamera replaces the camera and notifies subscribers
func (v *Orthographic) SetCamera(cam types.Camera) error {
	v.mu.Lock()
	v.camera = cam
	v.mu.Unlock()
	return v.publish(cam)
}

// Pan shifts the view by a canvas-space delta
func (v *Orthographic) Pan(dx, dy float64) error {
	v.mu.Lock()
	v.camera.Pan.X += dx
	v.camera.Pan.Y += dy
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// Zoom multiplies the zoom factor, keeping the canvas point at anchor fixed
func (v *Orthographic) Zoom(factor float64, anchor types.Point) error {
	if factor <= 0 {
		return fmt.Errorf("zoom factor must be positive, got %f", factor)
	}
	v.mu.Lock()
	cx := float64(v.canvas.Width)/2 + v.camera.Pan.X
	cy := float64(v.canvas.Height)/2 + v.camera.Pan.Y
	// keep anchor stationary: new pan so that (anchor - center') = (anchor - center) * factor
	v.camera.Pan.X += (anchor.X - cx) * (1 - factor)
	v.camera.Pan.Y += (anchor.Y - cy) * (1 - factor)
	v.camera.Zoom *= factor
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// Reset restores the camera the current image was opened with
func (v *Orthographic) Reset() error {
	v.mu.Lock()
	v.camera = v.initial
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// FitToWindow centers the image and scales it to fill the canvas
func (v *Orthographic) FitToWindow() error {
	v.mu.Lock()
	v.camera = v.fitCamera()
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// SetCanvasSize resizes the container; the camera is refitted
func (v *Orthographic) SetCanvasSize(canvas types.Dimensions) error {
	v.mu.Lock()
	v.canvas = canvas
	v.camera = v.fitCamera()
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// SetImage loads new image geometry and refits the camera
func (v *Orthographic) SetImage(img types.ImageData, dims types.Dimensions) error {
	v.mu.Lock()
	v.img = img
	v.dims = dims
	v.camera = v.fitCamera()
	v.initial = v.camera
	cam := v.camera
	v.mu.Unlock()
	return v.publish(cam)
}

// Close stops event delivery
func (v *Orthographic) Close() error {
	return v.pubSub.Close()
}

func (v *Orthographic) publish(cam types.Camera) error {
	payload, err := json.Marshal(cam)
	if err != nil {
		return fmt.Errorf("failed to marshal camera: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := v.pubSub.Publish(TopicCameraModified, msg); err != nil {
		return fmt.Errorf("failed to publish camera change: %w", err)
	}
	v.logger.Debug("camera modified",
		zap.Float64("zoom", cam.Zoom),
		zap.Float64("pan_x", cam.Pan.X),
		zap.Float64("pan_y", cam.Pan.Y))
	return nil
}

// fitCamera must be called with mu held
func (v *Orthographic) fitCamera() types.Camera {
	w, h := float64(v.dims.Width), float64(v.dims.Height)
	a := transform.ImagePixelToWorld(types.Point{}, v.img)
	b := transform.ImagePixelToWorld(types.Point{X: w, Y: h}, v.img)
	worldW := math.Abs(b.X - a.X)
	worldH := math.Abs(b.Y - a.Y)

	zoom := 1.0
	if worldW > 0 && worldH > 0 && v.canvas.Width > 0 && v.canvas.Height > 0 {
		zoom = math.Min(float64(v.canvas.Width)/worldW, float64(v.canvas.Height)/worldH)
	}

	return types.Camera{
		FocalPoint: types.Point3{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2},
		Zoom:       zoom,
	}
}
