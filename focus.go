package main

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
)

// Focuser finds the most interesting square of an image.
type Focuser struct {
	analyzer smartcrop.Analyzer
}

func NewFocuser() *Focuser {
	return &Focuser{analyzer: smartcrop.NewAnalyzer(&resizer{resampler: imaging.Lanczos})}
}

// BestSquare returns the best side x side region of img, where side is the
// shorter image dimension.
func (f *Focuser) BestSquare(ctx context.Context, img image.Image) (image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return image.Rectangle{}, err
	}
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	// buffered so the analysis goroutine can exit after a cancel
	resultChan := make(chan cropResult, 1)

	go func() {
		crop, err := f.analyzer.FindBestCrop(img, side, side)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return image.Rectangle{}, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return image.Rectangle{}, fmt.Errorf("finding best crop: %w", result.err)
		}
		return result.crop, nil
	}
}

// resizer implements the smartcrop.Resizer interface.
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}
