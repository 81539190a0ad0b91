package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPhotoNotFound  = errors.New("photo not found")
	ErrBulkInProgress = errors.New("automatic standardization is already running")
	ErrCropInProgress = errors.New("a crop is already running for this photo")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNoPhotos       = errors.New("no photos to arrange")
	ErrAIUnavailable  = errors.New("AI service is not configured")
)

// LoadError is returned when an image reference cannot be resolved or decoded.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", shortRef(e.Ref), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RenderError is returned when a crop cannot be decoded, drawn or encoded.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render crop: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// GeometryError marks a crop computation with inputs that can never come from
// a valid image. Seeing one means a caller skipped validation.
type GeometryError struct {
	Msg string
}

func (e *GeometryError) Error() string {
	return "invalid crop geometry: " + e.Msg
}

type PhotoFailure struct {
	PhotoID string
	Err     error
}

func (f PhotoFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PhotoID string `json:"photo_id"`
		Error   string `json:"error"`
	}{f.PhotoID, f.Err.Error()})
}

// BatchError is the single aggregate notice of a best-effort batch.
type BatchError struct {
	Total    int
	Failures []PhotoFailure
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d photos could not be standardized", len(e.Failures), e.Total)
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// shortRef keeps data URIs out of log lines.
func shortRef(ref string) string {
	const limit = 64
	if strings.HasPrefix(ref, "data:") && len(ref) > limit {
		return ref[:limit] + "..."
	}
	return ref
}
