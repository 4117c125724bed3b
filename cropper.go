package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"

	"squarecrop/viewport"
)

// ExportFilename is the name the browser saves an export under.
const ExportFilename = "cropped_image.png"

// Exporter rasterizes the visible region of an image.
type Exporter interface {
	Export(ctx context.Context, src image.Image, crop viewport.CropRect, w io.Writer) error
}

// ImagingExporter is an implementation of the Exporter interface
// using the disintegration/imaging library
type ImagingExporter struct {
	Compression png.CompressionLevel
}

// Export copies the crop rectangle out of src at 1:1 and writes it to w as
// PNG. The output is always square.
func (c *ImagingExporter) Export(ctx context.Context, src image.Image, crop viewport.CropRect, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bounds := src.Bounds()
	cropRect := crop.Pixels().Add(bounds.Min)
	if cropRect.Empty() {
		return fmt.Errorf("%w: empty crop %v", ErrExportFailure, crop)
	}
	if !cropRect.In(bounds) {
		// only reachable through rounding at the image edge
		cropRect = cropRect.Intersect(bounds)
		side := min(cropRect.Dx(), cropRect.Dy())
		cropRect.Max = cropRect.Min.Add(image.Pt(side, side))
		if cropRect.Empty() {
			return fmt.Errorf("%w: crop %v is outside image bounds", ErrExportFailure, crop)
		}
	}

	cropped := imaging.Crop(src, cropRect)
	if err := imaging.Encode(w, cropped, imaging.PNG, imaging.PNGCompressionLevel(c.Compression)); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailure, err)
	}
	return nil
}

// NewImagingExporter creates a new instance of ImagingExporter
func NewImagingExporter() *ImagingExporter {
	return &ImagingExporter{Compression: png.DefaultCompression}
}
