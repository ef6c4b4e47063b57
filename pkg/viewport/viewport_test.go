package viewport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/pkg/transform"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

func newTestViewport(t *testing.T) *Orthographic {
	t.Helper()
	img := types.ImageData{Spacing: types.Vec3{1, 1, 1}, Direction: types.IdentityDirection}
	v := NewOrthographic(img, types.Dimensions{Width: 512, Height: 512}, types.Dimensions{Width: 1024, Height: 768}, nil)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

type cameraLog struct {
	mu   sync.Mutex
	seen []types.Camera
}

func (l *cameraLog) record(c types.Camera) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, c)
}

func (l *cameraLog) all() []types.Camera {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Camera(nil), l.seen...)
}

func TestFitOnConstruction(t *testing.T) {
	v := newTestViewport(t)

	cam := v.Camera()
	assert.Equal(t, 1.5, cam.Zoom)
	assert.Equal(t, types.Point3{X: 256, Y: 256}, cam.FocalPoint)

	tl := transform.ImagePixelToCanvas(v, types.Point{})
	assert.Equal(t, types.Point{X: 128, Y: 0}, tl)
	br := transform.ImagePixelToCanvas(v, types.Point{X: 512, Y: 512})
	assert.Equal(t, types.Point{X: 896, Y: 768}, br)
}

func TestCameraChangesAreDeliveredBeforeMutatorReturns(t *testing.T) {
	v := newTestViewport(t)
	log := &cameraLog{}
	unsub, err := v.OnCameraChanged(log.record)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, v.Pan(10, -5))
	seen := log.all()
	require.Len(t, seen, 1)
	assert.Equal(t, types.Point{X: 10, Y: -5}, seen[0].Pan)

	require.NoError(t, v.Zoom(2, types.Point{X: 512, Y: 384}))
	require.NoError(t, v.Reset())
	require.NoError(t, v.FitToWindow())
	assert.Len(t, log.all(), 4)
}

func TestZoomKeepsAnchorFixed(t *testing.T) {
	v := newTestViewport(t)
	anchor := types.Point{X: 300, Y: 200}
	before := v.CanvasToWorld(anchor)

	require.NoError(t, v.Zoom(2.5, anchor))
	after := v.CanvasToWorld(anchor)

	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)
	assert.Equal(t, 3.75, v.Camera().Zoom)
}

func TestZoomRejectsNonPositiveFactor(t *testing.T) {
	v := newTestViewport(t)
	assert.Error(t, v.Zoom(0, types.Point{}))
	assert.Error(t, v.Zoom(-1, types.Point{}))
	assert.Equal(t, 1.5, v.Camera().Zoom)
}

func TestResetRestoresInitialCamera(t *testing.T) {
	v := newTestViewport(t)
	initial := v.Camera()

	require.NoError(t, v.Pan(40, 40))
	require.NoError(t, v.Zoom(3, types.Point{X: 10, Y: 10}))
	require.NoError(t, v.Reset())
	assert.Equal(t, initial, v.Camera())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	v := newTestViewport(t)
	log := &cameraLog{}
	unsub, err := v.OnCameraChanged(log.record)
	require.NoError(t, err)

	require.NoError(t, v.Pan(1, 1))
	unsub()
	require.NoError(t, v.Pan(1, 1))

	assert.Len(t, log.all(), 1)
}

func TestSetCanvasSizeRefits(t *testing.T) {
	v := newTestViewport(t)
	require.NoError(t, v.Pan(50, 0))
	require.NoError(t, v.SetCanvasSize(types.Dimensions{Width: 256, Height: 256}))

	cam := v.Camera()
	assert.Equal(t, 0.5, cam.Zoom)
	assert.Equal(t, types.Point{}, cam.Pan)
	assert.Equal(t, types.Dimensions{Width: 256, Height: 256}, v.CanvasSize())
}

func TestRoundTripThroughViewport(t *testing.T) {
	v := newTestViewport(t)
	require.NoError(t, v.Zoom(1.7, types.Point{X: 222, Y: 111}))
	require.NoError(t, v.Pan(-33, 12))

	p := types.Point{X: 400.25, Y: 17.5}
	back, ok := transform.CanvasToImagePixels(v, transform.ImagePixelToCanvas(v, p))
	require.True(t, ok)
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestZeroZoomIsNotInvertible(t *testing.T) {
	v := newTestViewport(t)
	require.NoError(t, v.SetCamera(types.Camera{Zoom: 0}))

	_, ok := transform.CanvasToImagePixels(v, types.Point{X: 10, Y: 10})
	assert.False(t, ok)
}
