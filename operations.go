package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// ManualCropRequest is what the interactive cropper submits on confirm.
// Offsets are percentages of the slack on each axis, 50 centers.
type ManualCropRequest struct {
	PhotoID string  `json:"-"`
	Ratio   float64 `json:"ratio"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// Validate rejects ratios outside the manual catalog and offsets outside
// 0..100 before any geometry runs. A ratio close to a catalog entry is
// replaced by the entry's exact value.
func (r *ManualCropRequest) Validate() error {
	if math.IsNaN(r.Ratio) {
		return fmt.Errorf("%w: ratio is not a number", ErrInvalidRequest)
	}
	match, ok := LookupRatio(r.Ratio)
	if !ok {
		return fmt.Errorf("%w: unsupported ratio %.4f", ErrInvalidRequest, r.Ratio)
	}
	if !(r.OffsetX >= 0 && r.OffsetX <= 100) || !(r.OffsetY >= 0 && r.OffsetY <= 100) {
		return fmt.Errorf("%w: offsets must be between 0 and 100", ErrInvalidRequest)
	}
	r.Ratio = match.Value
	return nil
}

// CropResult is one committed crop.
type CropResult struct {
	PhotoID string `json:"photo_id"`
	URL     string `json:"url"`
	Rect    Rect   `json:"rect"`
}

// BulkReport describes a finished automatic standardization run. Notice is
// set once when at least one photo failed.
type BulkReport struct {
	Total    int            `json:"total"`
	Updated  []CropResult   `json:"updated"`
	Failures []PhotoFailure `json:"failures,omitempty"`
	Notice   string         `json:"notice,omitempty"`
}

// Standardizer drives manual and automatic crops against the photo store.
// Every crop is recomputed from a photo's original image.
type Standardizer struct {
	Photos     *PhotoStore
	Blobs      *BlobStore
	Loader     ImageLoader
	Cropper    Cropper
	MaxWorkers int

	bulkRunning atomic.Bool

	mu       sync.Mutex
	cropping map[string]struct{}
}

// PreviewCrop computes the rectangle a manual crop would use, without
// touching pixels or the store. Recorded dimensions are used when the photo
// has them, so the original is only decoded on confirm.
func (s *Standardizer) PreviewCrop(ctx context.Context, req ManualCropRequest) (Rect, error) {
	if err := req.Validate(); err != nil {
		return Rect{}, err
	}
	photo, ok := s.Photos.Get(req.PhotoID)
	if !ok {
		return Rect{}, fmt.Errorf("%w: %s", ErrPhotoNotFound, req.PhotoID)
	}
	if photo.Width > 0 && photo.Height > 0 {
		return ManualCrop(photo.Width, photo.Height, req.Ratio, req.OffsetX, req.OffsetY)
	}
	info, err := s.Loader.Dimensions(ctx, photo.OriginalURL)
	if err != nil {
		return Rect{}, err
	}
	return ManualCrop(info.Width, info.Height, req.Ratio, req.OffsetX, req.OffsetY)
}

// CropOne applies a manual crop to a single photo. On any error the store is
// left untouched.
func (s *Standardizer) CropOne(ctx context.Context, req ManualCropRequest) (Photo, error) {
	if err := req.Validate(); err != nil {
		return Photo{}, err
	}
	photo, ok := s.Photos.Get(req.PhotoID)
	if !ok {
		return Photo{}, fmt.Errorf("%w: %s", ErrPhotoNotFound, req.PhotoID)
	}

	if !s.acquire(photo.ID) {
		return Photo{}, ErrCropInProgress
	}
	defer s.release(photo.ID)

	logger := log.Ctx(ctx).With().Str("photo", photo.ID).Logger()

	info, err := s.Loader.Dimensions(ctx, photo.OriginalURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load photo for manual crop")
		return Photo{}, err
	}

	rect, err := ManualCrop(info.Width, info.Height, req.Ratio, req.OffsetX, req.OffsetY)
	if err != nil {
		return Photo{}, err
	}

	ref, err := s.render(ctx, photo.OriginalURL, rect)
	if err != nil {
		logger.Error().Err(err).Msg("failed to render manual crop")
		return Photo{}, err
	}

	if err := s.Photos.UpdateOne(photo.ID, ref); err != nil {
		return Photo{}, err
	}
	logger.Info().Stringer("rect", rect).Msg("photo cropped")

	updated, _ := s.Photos.Get(photo.ID)
	return updated, nil
}

type bulkOutcome struct {
	result CropResult
	err    error
}

// Standardize crops every photo to its canonical ratio concurrently. It waits
// for all photos, commits the successes in one batch and reports failures
// through a single *BatchError. Only one run may be active at a time.
func (s *Standardizer) Standardize(ctx context.Context) (BulkReport, error) {
	if !s.bulkRunning.CompareAndSwap(false, true) {
		return BulkReport{}, ErrBulkInProgress
	}
	defer s.bulkRunning.Store(false)

	photos := s.Photos.List()
	log.Ctx(ctx).Info().Int("count", len(photos)).Msg("standardizing photos")

	p := pool.NewWithResults[bulkOutcome]().WithMaxGoroutines(s.maxWorkers())
	for _, photo := range photos {
		p.Go(func() bulkOutcome {
			res, err := s.autoCrop(ctx, photo)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("photo", photo.ID).Msg("failed to standardize photo")
			}
			return bulkOutcome{result: res, err: err}
		})
	}
	outcomes := p.Wait()

	report := BulkReport{Total: len(photos)}
	updates := make([]PhotoUpdate, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			report.Failures = append(report.Failures, PhotoFailure{PhotoID: o.result.PhotoID, Err: o.err})
			continue
		}
		report.Updated = append(report.Updated, o.result)
		updates = append(updates, PhotoUpdate{ID: o.result.PhotoID, URL: o.result.URL})
	}

	applied := s.Photos.UpdateMany(updates)

	if len(report.Failures) > 0 {
		batchErr := &BatchError{Total: report.Total, Failures: report.Failures}
		report.Notice = batchErr.Error()
		log.Ctx(ctx).Warn().
			Int("updated", applied).
			Int("failed", len(report.Failures)).
			Msg("finished with errors")
		return report, batchErr
	}

	log.Ctx(ctx).Info().Int("updated", applied).Msg("standardization finished")
	return report, nil
}

// Running reports whether an automatic run is in progress.
func (s *Standardizer) Running() bool {
	return s.bulkRunning.Load()
}

// Complete hands the photos over to page layout, in upload order.
func (s *Standardizer) Complete(ctx context.Context) ([]PhotoRef, error) {
	refs := s.Photos.Refs()
	if len(refs) == 0 {
		return nil, ErrNoPhotos
	}
	log.Ctx(ctx).Debug().Int("count", len(refs)).Msg("standardization complete")
	return refs, nil
}

func (s *Standardizer) autoCrop(ctx context.Context, photo Photo) (CropResult, error) {
	res := CropResult{PhotoID: photo.ID}

	info, err := s.Loader.Dimensions(ctx, photo.OriginalURL)
	if err != nil {
		return res, err
	}
	rect, err := AutoCrop(info.Width, info.Height)
	if err != nil {
		return res, err
	}
	ref, err := s.render(ctx, photo.OriginalURL, rect)
	if err != nil {
		return res, err
	}

	res.URL = ref
	res.Rect = rect
	return res, nil
}

// render crops the image behind ref and stores the encoded result as a new blob.
func (s *Standardizer) render(ctx context.Context, ref string, rect Rect) (string, error) {
	rc, err := s.Loader.Open(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b bytes.Buffer
	if err := s.Cropper.Crop(ctx, rc, &b, rect); err != nil {
		return "", err
	}
	return s.Blobs.Put(b.Bytes(), outputMIMEType), nil
}

func (s *Standardizer) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cropping == nil {
		s.cropping = make(map[string]struct{})
	}
	if _, busy := s.cropping[id]; busy {
		return false
	}
	s.cropping[id] = struct{}{}
	return true
}

func (s *Standardizer) release(id string) {
	s.mu.Lock()
	delete(s.cropping, id)
	s.mu.Unlock()
}

func (s *Standardizer) maxWorkers() int {
	if s.MaxWorkers > 0 {
		return s.MaxWorkers
	}
	return runtime.NumCPU()
}
