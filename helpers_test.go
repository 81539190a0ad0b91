package main

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, img image.Image) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, imaging.Encode(&b, img, imaging.JPEG))
	return b.Bytes()
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	return encodeTestImage(t, imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 60, A: 255}))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSession(t.TempDir(), 2, nil)
}

func addTestPhoto(t *testing.T, s *Session, w, h int) Photo {
	t.Helper()
	ref := s.Blobs.Put(testJPEG(t, w, h), "image/jpeg")
	p := NewPhoto(ref, "photo.jpg")
	require.NoError(t, s.Photos.Append(p))
	return p
}

func decodeBlob(t *testing.T, s *Session, ref string) image.Image {
	t.Helper()
	b, ok := s.Blobs.Get(ref)
	require.True(t, ok, "blob %s missing", ref)
	img, err := imaging.Decode(bytes.NewReader(b.Data))
	require.NoError(t, err)
	return img
}

// withEXIFOrientation inserts a minimal EXIF segment carrying only the
// orientation tag right after the JPEG start marker.
func withEXIFOrientation(t *testing.T, jpeg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, bytes.HasPrefix(jpeg, []byte{0xFF, 0xD8}))

	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // big endian header, IFD0 at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2

	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, byte(size >> 8), byte(size)}
	out = append(out, payload...)
	return append(out, jpeg[2:]...)
}
