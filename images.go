package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Image      ImageInfo `json:"image"`
}

type Directory struct {
	Name  string     `json:"name"`
	Files []FileInfo `json:"files"`
}

// ImageLoader resolves image references. Nothing is cached: the same
// reference is resolved again for every crop.
type ImageLoader interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Dimensions(ctx context.Context, ref string) (ImageInfo, error)
}

// Loader resolves blob:, data:, http(s):// references and paths relative to
// RootDir. File references are refused when RootDir is empty.
type Loader struct {
	Blobs   *BlobStore
	RootDir string
	Client  *http.Client
}

func (l *Loader) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := l.open(ctx, ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	return rc, nil
}

func (l *Loader) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	switch {
	case ref == "":
		return nil, errors.New("empty reference")
	case isBlobRef(ref):
		if l.Blobs == nil {
			return nil, errors.New("no blob store configured")
		}
		b, ok := l.Blobs.Get(ref)
		if !ok {
			return nil, errors.New("blob not found")
		}
		return io.NopCloser(bytes.NewReader(b.Data)), nil
	case strings.HasPrefix(ref, "data:"):
		data, err := decodeDataURI(ref)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.fetch(ctx, ref)
	default:
		path, err := l.resolvePath(ref)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		return f, nil
	}
}

func (l *Loader) fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (l *Loader) resolvePath(ref string) (string, error) {
	if l.RootDir == "" {
		return "", errors.New("file references are disabled")
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme == "file" {
		ref = u.Path
	}
	path := filepath.Join(l.RootDir, filepath.Clean(string(filepath.Separator)+ref))
	rel, err := filepath.Rel(l.RootDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes root directory", ref)
	}
	return path, nil
}

// Dimensions decodes the image with its EXIF orientation applied, so the
// reported size matches the pixels the cropper will see.
func (l *Loader) Dimensions(ctx context.Context, ref string) (ImageInfo, error) {
	rc, err := l.Open(ctx, ref)
	if err != nil {
		return ImageInfo{}, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return ImageInfo{}, &LoadError{Ref: ref, Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	bounds := img.Bounds()
	return ImageInfo{Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func decodeDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	if !strings.HasSuffix(header, ";base64") {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data URI: %w", err)
		}
		return []byte(data), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return data, nil
}

func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// walkImages lists the images below rootPath, skipping the output directory
// this tool writes into.
func walkImages(rootPath string, skipDirs ...string) (Directory, error) {
	var files []FileInfo

	if err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, skip := range skipDirs {
				if path == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !isImageFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info: %w", err)
		}

		relPath, err := filepath.Rel(rootPath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		files = append(files, FileInfo{
			Name:       filepath.ToSlash(relPath),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	}); err != nil {
		return Directory{}, err
	}

	for i := range files {
		info, err := readImageConfig(filepath.Join(rootPath, filepath.FromSlash(files[i].Name)))
		if err != nil {
			log.Ctx(context.Background()).Error().Err(err).Str("filename", files[i].Name).Msg("cannot read image dimensions")
			continue
		}
		files[i].Image = info
	}

	return Directory{
		Name:  filepath.Base(rootPath),
		Files: files,
	}, nil
}

// readImageConfig reads the dimensions of an image file from its header.
func readImageConfig(filePath string) (ImageInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return probeImage(file)
}

// probeImage reads the header dimensions without decoding pixels. JPEGs whose
// EXIF orientation turns them on their side report the swapped size, the
// same one Dimensions reports after auto-orientation.
func probeImage(r io.ReadSeeker) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to read image header: %w", err)
	}
	info := ImageInfo{Width: cfg.Width, Height: cfg.Height}
	if format != "jpeg" {
		return info, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return info, nil
	}
	x, err := exif.Decode(r)
	if err != nil {
		// no EXIF
		return info, nil
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return info, nil
	}
	// 5 to 8 are rotated by 90 degrees, with or without a flip
	if o, err := tag.Int(0); err == nil && o >= 5 && o <= 8 {
		info.Width, info.Height = info.Height, info.Width
	}
	return info, nil
}

// importDirectory appends every image below dir as a new photo whose
// original reference is its path relative to dir.
func importDirectory(ctx context.Context, dir string, photos *PhotoStore, skipDirs ...string) (int, error) {
	listing, err := walkImages(dir, skipDirs...)
	if err != nil {
		return 0, fmt.Errorf("failed to walk dir: %w", err)
	}

	batch := make([]Photo, 0, len(listing.Files))
	for _, f := range listing.Files {
		p := NewPhoto(f.Name, filepath.Base(f.Name))
		p.Width, p.Height = f.Image.Width, f.Image.Height
		batch = append(batch, p)
	}
	if err := photos.Append(batch...); err != nil {
		return 0, err
	}
	log.Ctx(ctx).Info().Str("dir", dir).Int("count", len(batch)).Msg("imported photos")
	return len(batch), nil
}
