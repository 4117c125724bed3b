package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage encodes the pixel position into the red and green channels so
// crops can be checked by sampling.
func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x / 256) + (y/256)*16), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, png.Encode(&b, testImage(w, h)))
	return b.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, jpeg.Encode(&b, testImage(w, h), &jpeg.Options{Quality: 90}))
	return b.Bytes()
}

func encodeGIF(t *testing.T, w, h int) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, gif.Encode(&b, testImage(w, h), nil))
	return b.Bytes()
}

func TestLoadImage(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		data        []byte
		contentType string
		wantErr     error
		wantType    string
	}{
		{name: "PNG", data: encodePNG(t, 80, 40), contentType: "image/png", wantType: "image/png"},
		{name: "JPEG", data: encodeJPEG(t, 80, 40), contentType: "image/jpeg", wantType: "image/jpeg"},
		{name: "Sniffed PNG", data: encodePNG(t, 80, 40), contentType: "application/octet-stream", wantType: "image/png"},
		{name: "Sniffed without type", data: encodeJPEG(t, 80, 40), wantType: "image/jpeg"},
		{name: "GIF", data: encodeGIF(t, 80, 40), contentType: "image/gif", wantErr: ErrUnsupportedFileType},
		{name: "Sniffed GIF", data: encodeGIF(t, 80, 40), wantErr: ErrUnsupportedFileType},
		{name: "Text", data: []byte("hello"), contentType: "text/plain", wantErr: ErrUnsupportedFileType},
		{name: "Corrupt PNG", data: []byte("\x89PNG\r\n\x1a\nbroken"), contentType: "image/png", wantErr: ErrImageDecodeFailure},
		{name: "Empty", data: nil, wantErr: ErrNoFileSelected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := loadImage(ctx, bytes.NewReader(tt.data), "upload", tt.contentType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, img)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, img.Type)
			assert.Equal(t, 80, img.Meta.Width)
			assert.Equal(t, 40, img.Meta.Height)
		})
	}
}

func TestLoadImageNilReader(t *testing.T) {
	_, err := loadImage(context.Background(), nil, "", "")
	assert.ErrorIs(t, err, ErrNoFileSelected)
}

func TestOpenImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), encodePNG(t, 30, 20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gif"), encodeGIF(t, 30, 20), 0o644))
	ctx := context.Background()

	img, err := openImage(ctx, dir, "a.png")
	require.NoError(t, err)
	assert.Equal(t, 30, img.Meta.Width)

	_, err = openImage(ctx, dir, "b.gif")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = openImage(ctx, dir, "missing.png")
	assert.ErrorIs(t, err, ErrFileReadFailure)

	_, err = openImage(ctx, dir, "")
	assert.ErrorIs(t, err, ErrNoFileSelected)

	// paths are confined to the root
	_, err = openImage(ctx, filepath.Join(dir, "sub"), "../a.png")
	assert.ErrorIs(t, err, ErrFileReadFailure)
}

func TestWalkImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), encodePNG(t, 30, 20), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.JPG"), encodeJPEG(t, 10, 40), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.gif"), encodeGIF(t, 5, 5), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	d, err := walkImages(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), d.Name)
	require.Len(t, d.Files, 2)

	byName := map[string]FileInfo{}
	for _, f := range d.Files {
		byName[f.Name] = f
	}
	assert.Equal(t, ImageInfo{Width: 30, Height: 20}, byName["a.png"].Image)
	assert.Equal(t, ImageInfo{Width: 10, Height: 40}, byName["nested/b.JPG"].Image)
	assert.True(t, strings.HasSuffix(byName["a.png"].Size, "B"))
}
