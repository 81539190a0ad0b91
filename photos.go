package main

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type LayoutPreference string

const (
	LayoutFull    LayoutPreference = "full"
	LayoutHalf    LayoutPreference = "half"
	LayoutQuarter LayoutPreference = "quarter"
)

type PhotoStatus string

const (
	StatusUnedited     PhotoStatus = "unedited"
	StatusStandardized PhotoStatus = "standardized"
)

type Photo struct {
	ID               string           `json:"id"`
	URL              string           `json:"url"`
	OriginalURL      string           `json:"original_url"`
	Filename         string           `json:"filename,omitempty"`
	Caption          string           `json:"caption,omitempty"`
	LayoutPreference LayoutPreference `json:"layout_preference,omitempty"`
	Width            int              `json:"width,omitempty"`
	Height           int              `json:"height,omitempty"`
}

// NewPhoto creates an unedited photo for a freshly uploaded image.
func NewPhoto(originalURL, filename string) Photo {
	return Photo{
		ID:               uuid.New().String(),
		URL:              originalURL,
		OriginalURL:      originalURL,
		Filename:         filename,
		LayoutPreference: LayoutHalf,
	}
}

// Status reports "standardized" as soon as the working reference differs
// from the original, whichever path produced the difference.
func (p Photo) Status() PhotoStatus {
	if p.URL != p.OriginalURL {
		return StatusStandardized
	}
	return StatusUnedited
}

func (p Photo) Ref() PhotoRef {
	return PhotoRef{ID: p.ID, URL: p.URL, OriginalURL: p.OriginalURL}
}

// PhotoRef is what page layout and preview get to see of a photo.
type PhotoRef struct {
	ID          string `json:"id" yaml:"id"`
	URL         string `json:"url" yaml:"url"`
	OriginalURL string `json:"original_url" yaml:"original_url"`
}

type PhotoUpdate struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PhotoStore is the ordered, id-indexed set of photos of a session. Only
// URL and Caption change after Append.
type PhotoStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Photo
}

func NewPhotoStore() *PhotoStore {
	return &PhotoStore{byID: make(map[string]*Photo)}
}

// Append adds photos in arrival order. The whole call is rejected if any id
// is empty or already present.
func (s *PhotoStore) Append(photos ...Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		if p.ID == "" {
			return fmt.Errorf("%w: photo without id", ErrInvalidRequest)
		}
		if _, ok := s.byID[p.ID]; ok {
			return fmt.Errorf("%w: duplicate photo id %s", ErrInvalidRequest, p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: duplicate photo id %s", ErrInvalidRequest, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	for _, p := range photos {
		s.byID[p.ID] = &p
		s.order = append(s.order, p.ID)
	}
	return nil
}

func (s *PhotoStore) UpdateOne(id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}
	p.URL = url
	return nil
}

// UpdateMany applies the whole batch under one lock. Unknown ids are skipped;
// the number of applied updates is returned.
func (s *PhotoStore) UpdateMany(updates []PhotoUpdate) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, u := range updates {
		if p, ok := s.byID[u.ID]; ok {
			p.URL = u.URL
			applied++
		}
	}
	return applied
}

func (s *PhotoStore) SetCaption(id, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
	}
	p.Caption = caption
	return nil
}

func (s *PhotoStore) Get(id string) (Photo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Photo{}, false
	}
	return *p, true
}

// List returns a snapshot in arrival order.
func (s *PhotoStore) List() []Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Photo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *PhotoStore) Refs() []PhotoRef {
	photos := s.List()
	refs := make([]PhotoRef, 0, len(photos))
	for _, p := range photos {
		refs = append(refs, p.Ref())
	}
	return refs
}

func (s *PhotoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
