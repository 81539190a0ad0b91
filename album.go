package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const photosPerPage = 4

type Theme struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

var Themes = []Theme{
	{Name: "Sunset Pink", Hex: "#FF8FA3"},
	{Name: "Ocean Blue", Hex: "#8AC6D1"},
	{Name: "Matcha Green", Hex: "#B5D8A6"},
	{Name: "Lavender", Hex: "#CDB4DB"},
	{Name: "Midnight", Hex: "#2D3748"},
}

func ThemeByHex(hex string) (Theme, bool) {
	for _, t := range Themes {
		if strings.EqualFold(t.Hex, hex) {
			return t, true
		}
	}
	return Theme{}, false
}

type PageLayout string

const (
	PageGrid    PageLayout = "grid"
	PageCollage PageLayout = "collage"
	PageFocus   PageLayout = "focus"
)

type Page struct {
	ID       string     `json:"id"`
	Photos   []PhotoRef `json:"photos"`
	Anecdote string     `json:"anecdote"`
	Layout   PageLayout `json:"layout"`
}

type Album struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Date       string `json:"date"`
	ThemeColor string `json:"theme_color"`
	CoverImage string `json:"cover_image,omitempty"`
	Pages      []Page `json:"pages"`
}

// paginate splits refs into consecutive groups of size; the last group may
// be shorter.
func paginate(refs []PhotoRef, size int) [][]PhotoRef {
	var groups [][]PhotoRef
	for start := 0; start < len(refs); start += size {
		end := min(start+size, len(refs))
		group := make([]PhotoRef, end-start)
		copy(group, refs[start:end])
		groups = append(groups, group)
	}
	return groups
}

// AlbumEditor guards the album of a session.
type AlbumEditor struct {
	mu    sync.RWMutex
	album Album
}

func NewAlbumEditor(now time.Time) *AlbumEditor {
	return &AlbumEditor{album: Album{
		ID:         uuid.New().String(),
		Date:       strconv.Itoa(now.Year()),
		ThemeColor: Themes[0].Hex,
	}}
}

func (e *AlbumEditor) Snapshot() Album {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a := e.album
	a.Pages = make([]Page, len(e.album.Pages))
	for i, p := range e.album.Pages {
		p.Photos = append([]PhotoRef(nil), p.Photos...)
		a.Pages[i] = p
	}
	return a
}

func (e *AlbumEditor) SetDetails(title, themeHex string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	theme, ok := ThemeByHex(themeHex)
	if !ok {
		return fmt.Errorf("%w: unknown theme color %q", ErrInvalidRequest, themeHex)
	}

	e.mu.Lock()
	e.album.Title = title
	e.album.ThemeColor = theme.Hex
	e.mu.Unlock()
	return nil
}

// BuildPages replaces the pages with fresh groups of four, anecdotes cleared.
func (e *AlbumEditor) BuildPages(refs []PhotoRef) []Page {
	groups := paginate(refs, photosPerPage)
	pages := make([]Page, 0, len(groups))
	for _, g := range groups {
		pages = append(pages, Page{
			ID:     uuid.New().String(),
			Photos: g,
			Layout: PageGrid,
		})
	}

	e.mu.Lock()
	e.album.Pages = pages
	e.mu.Unlock()
	return e.Snapshot().Pages
}

func (e *AlbumEditor) Page(id string) (Page, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.album.Pages {
		if p.ID == id {
			p.Photos = append([]PhotoRef(nil), p.Photos...)
			return p, true
		}
	}
	return Page{}, false
}

func (e *AlbumEditor) SetAnecdote(pageID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.album.Pages {
		if e.album.Pages[i].ID == pageID {
			e.album.Pages[i].Anecdote = text
			return nil
		}
	}
	return fmt.Errorf("%w: page %s not found", ErrInvalidRequest, pageID)
}

func (e *AlbumEditor) SetCover(ref string) {
	e.mu.Lock()
	e.album.CoverImage = ref
	e.mu.Unlock()
}

// PrintPreview is the simulated print export: cover plus numbered pages.
type PrintPreview struct {
	Title      string        `json:"title" yaml:"title"`
	Date       string        `json:"date" yaml:"date"`
	ThemeColor string        `json:"theme_color" yaml:"theme_color"`
	Cover      string        `json:"cover,omitempty" yaml:"cover,omitempty"`
	Pages      []PreviewPage `json:"pages" yaml:"pages"`
}

type PreviewPage struct {
	Number   int      `json:"number" yaml:"number"`
	Photos   []string `json:"photos" yaml:"photos"`
	Anecdote string   `json:"anecdote,omitempty" yaml:"anecdote,omitempty"`
}

// Preview lays the album out for print. resolve maps a photo reference to
// the address a reader of the preview can fetch; nil keeps references as is.
func (e *AlbumEditor) Preview(resolve func(ref string) string) PrintPreview {
	if resolve == nil {
		resolve = func(ref string) string { return ref }
	}
	a := e.Snapshot()

	preview := PrintPreview{
		Title:      a.Title,
		Date:       a.Date,
		ThemeColor: a.ThemeColor,
		Pages:      make([]PreviewPage, 0, len(a.Pages)),
	}
	if a.CoverImage != "" {
		preview.Cover = resolve(a.CoverImage)
	}
	for i, p := range a.Pages {
		page := PreviewPage{Number: i + 1, Anecdote: p.Anecdote}
		for _, ref := range p.Photos {
			page.Photos = append(page.Photos, resolve(ref.URL))
		}
		preview.Pages = append(preview.Pages, page)
	}
	return preview
}

func (p PrintPreview) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return enc.Close()
}
