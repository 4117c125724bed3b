package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"squarecrop/viewport"
)

var supportedTypes = []string{"image/jpeg", "image/png"}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	Size       string    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Image      ImageInfo `json:"image"`
}

type Directory struct {
	Name  string     `json:"name"`
	Files []FileInfo `json:"files"`
}

// LoadedImage is a decoded source image ready to be placed in a viewport.
type LoadedImage struct {
	Name  string
	Type  string
	Image image.Image
	Meta  viewport.ImageMetadata
}

func walkImages(ctx context.Context, rootPath string) (Directory, error) {
	var files []FileInfo

	if err := filepath.WalkDir(rootPath, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := typeFromExtension(filePath); !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info: %w", err)
		}
		relPath, err := filepath.Rel(rootPath, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		files = append(files, FileInfo{
			Name:       filepath.ToSlash(relPath),
			SizeBytes:  info.Size(),
			Size:       humanize.Bytes(uint64(info.Size())),
			ModifiedAt: info.ModTime(),
		})
		return nil
	}); err != nil {
		return Directory{}, err
	}

	for i := range files {
		w, h, err := readImageDimensions(filepath.Join(rootPath, filepath.FromSlash(files[i].Name)))
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("filename", files[i].Name).Msg("cannot read image dimensions")
			continue
		}
		files[i].Image = ImageInfo{Width: w, Height: h}
	}

	return Directory{
		Name:  filepath.Base(rootPath),
		Files: files,
	}, nil
}

// readImageDimensions reads only the image header.
func readImageDimensions(filePath string) (width, height int, err error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func typeFromExtension(name string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))))
	if err != nil {
		return "", false
	}
	return mediaType, slices.Contains(supportedTypes, mediaType)
}

// detectType resolves the media type of an upload. A declared type wins;
// generic or missing types fall back to sniffing the content.
func detectType(declared string, head []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return mediaType
}

// loadImage validates and decodes one selected file. The image is rotated
// according to its EXIF orientation so the viewport shows what a browser
// would.
func loadImage(ctx context.Context, r io.Reader, name, contentType string) (*LoadedImage, error) {
	if r == nil {
		return nil, ErrNoFileSelected
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileReadFailure, name, err)
	}
	if len(data) == 0 && contentType == "" {
		return nil, ErrNoFileSelected
	}

	mediaType := detectType(contentType, data)
	if !slices.Contains(supportedTypes, mediaType) {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedFileType, name, mediaType)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrImageDecodeFailure, name, err)
	}

	b := img.Bounds()
	log.Ctx(ctx).Debug().
		Str("filename", name).
		Str("type", mediaType).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("image loaded")

	return &LoadedImage{
		Name:  name,
		Type:  mediaType,
		Image: img,
		Meta:  viewport.ImageMetadata{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

// openImage loads a file below rootDir. name is slash separated and may not
// escape rootDir.
func openImage(ctx context.Context, rootDir, name string) (*LoadedImage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNoFileSelected
	}
	mediaType, ok := typeFromExtension(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, name)
	}

	fullPath := filepath.Join(rootDir, filepath.FromSlash(path.Clean("/"+name)))
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileReadFailure, name, err)
	}
	defer f.Close()

	return loadImage(ctx, f, name, mediaType)
}
