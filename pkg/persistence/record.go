// Package persistence stores edited annotations in an external annotation
// store and loads previously saved ones back.
//
// Each annotation is one record, submitted independently. A save is not
// transactional: one failing record never blocks or rolls back the others,
// and the caller only learns the aggregate outcome.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/menta2k/annotation-overlay/pkg/annotation"
	"github.com/menta2k/annotation-overlay/pkg/types"
)

// AnnotationTypeBoundingBox is the only record type the overlay writes
const AnnotationTypeBoundingBox = "bounding_box"

var (
	ErrRecordNotFound = errors.New("annotation record not found")
	ErrInvalidPayload = errors.New("invalid annotation payload")
)

// Record is one stored annotation. AnnotationData holds a JSON-encoded
// Payload.
type Record struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instanceId" validate:"required"`
	AnnotationType string    `json:"annotationType" validate:"required,eq=bounding_box"`
	AnnotationData string    `json:"annotationData" validate:"required"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Payload is the annotation geometry and metadata, in image pixels
type Payload struct {
	XMin       float64         `json:"xMin"`
	YMin       float64         `json:"yMin"`
	XMax       float64         `json:"xMax"`
	YMax       float64         `json:"yMax"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Type       annotation.Type `json:"type"`
}

// Box returns the payload geometry
func (p Payload) Box() types.PixelBox {
	return types.PixelBox{XMin: p.XMin, YMin: p.YMin, XMax: p.XMax, YMax: p.YMax}
}

// Validate checks the payload geometry
func (p Payload) Validate() error {
	for _, v := range []float64{p.XMin, p.YMin, p.XMax, p.YMax, p.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidPayload)
		}
	}
	if p.XMax < p.XMin || p.YMax < p.YMin {
		return fmt.Errorf("%w: inverted box", ErrInvalidPayload)
	}
	return nil
}

// NewPayload builds the payload of an annotation at the given pixel box
func NewPayload(a annotation.Annotation, box types.PixelBox) Payload {
	return Payload{
		XMin:       box.XMin,
		YMin:       box.YMin,
		XMax:       box.XMax,
		YMax:       box.YMax,
		Label:      a.Label,
		Confidence: a.Confidence,
		Type:       a.Type,
	}
}

// Encode serializes the payload for AnnotationData
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload parses and validates AnnotationData
func DecodePayload(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Repository is the external annotation store
type Repository interface {
	Create(ctx context.Context, rec Record) (Record, error)
	GetByInstanceID(ctx context.Context, instanceID string) ([]Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, id string) error
}
