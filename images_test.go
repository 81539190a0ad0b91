package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderDimensions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	data := testJPEG(t, 64, 48)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "trip"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "trip", "beach.jpg"), data, 0644))

	blobs := NewBlobStore()
	blobRef := blobs.Put(data, "image/jpeg")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/beach.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	}))
	defer srv.Close()

	loader := &Loader{Blobs: blobs, RootDir: root, Client: srv.Client()}

	refs := map[string]string{
		"blob":     blobRef,
		"data uri": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		"file":     "trip/beach.jpg",
		"file url": "file:///trip/beach.jpg",
		"http":     srv.URL + "/beach.jpg",
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			info, err := loader.Dimensions(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, ImageInfo{Width: 64, Height: 48}, info)
		})
	}
}

func TestLoaderErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.jpg"), []byte("not really a jpeg"), 0644))

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	blobs := NewBlobStore()
	loader := &Loader{Blobs: blobs, RootDir: root, Client: srv.Client()}

	refs := map[string]string{
		"empty":         "",
		"missing blob":  "blob:does-not-exist",
		"missing file":  "nope.jpg",
		"undecodable":   "notes.jpg",
		"bad data uri":  "data:image/jpeg;base64,%%%",
		"http 404":      srv.URL + "/gone.jpg",
		"garbage bytes": blobs.Put([]byte("garbage"), "application/octet-stream"),
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			_, err := loader.Dimensions(ctx, ref)
			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "got %v", err)
			assert.Equal(t, ref, loadErr.Ref)
		})
	}
}

func TestLoaderKeepsFileReferencesInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "photos")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.jpg"), testJPEG(t, 8, 8), 0644))

	loader := &Loader{RootDir: root}
	_, err := loader.Open(context.Background(), "../secret.jpg")
	assert.Error(t, err)

	_, err = (&Loader{}).Open(context.Background(), "secret.jpg")
	assert.Error(t, err, "file references must be refused without a root")
}

func TestWalkImages(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "day1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "output"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), testJPEG(t, 40, 30), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "day1", "b.JPEG"), testJPEG(t, 30, 40), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "output", "c.jpg"), testJPEG(t, 10, 10), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("hi"), 0644))

	dir, err := walkImages(root, filepath.Join(root, "output"))
	require.NoError(t, err)

	require.Len(t, dir.Files, 2)
	assert.Equal(t, "a.jpg", dir.Files[0].Name)
	assert.Equal(t, ImageInfo{Width: 40, Height: 30}, dir.Files[0].Image)
	assert.Equal(t, "day1/b.JPEG", dir.Files[1].Name)
	assert.Equal(t, ImageInfo{Width: 30, Height: 40}, dir.Files[1].Image)
}

func TestImportDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), testJPEG(t, 40, 30), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.jpg"), testJPEG(t, 30, 40), 0644))

	photos := NewPhotoStore()
	n, err := importDirectory(context.Background(), root, photos)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := photos.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a.jpg", list[0].OriginalURL)
	assert.Equal(t, list[0].OriginalURL, list[0].URL)
	assert.Equal(t, 40, list[0].Width)
	assert.Equal(t, StatusUnedited, list[1].Status())
}

func TestProbeImageHonorsEXIFOrientation(t *testing.T) {
	plain := testJPEG(t, 40, 30)

	tests := []struct {
		name          string
		data          []byte
		width, height int
	}{
		{"no exif", plain, 40, 30},
		{"upright", withEXIFOrientation(t, plain, 1), 40, 30},
		{"upside down", withEXIFOrientation(t, plain, 3), 40, 30},
		{"rotated clockwise", withEXIFOrientation(t, plain, 6), 30, 40},
		{"rotated counterclockwise", withEXIFOrientation(t, plain, 8), 30, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := probeImage(bytes.NewReader(tt.data))
			require.NoError(t, err)
			assert.Equal(t, ImageInfo{Width: tt.width, Height: tt.height}, info)

			loader := &Loader{Blobs: NewBlobStore()}
			decoded, err := loader.Dimensions(context.Background(), loader.Blobs.Put(tt.data, "image/jpeg"))
			require.NoError(t, err)
			assert.Equal(t, info, decoded, "header probe and full decode must agree")
		})
	}
}

func TestReadImageConfigRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phone.jpg")
	require.NoError(t, os.WriteFile(path, withEXIFOrientation(t, testJPEG(t, 40, 30), 6), 0644))

	info, err := readImageConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{Width: 30, Height: 40}, info)
}
