package main

import (
	"errors"
	"net/http"

	"squarecrop/viewport"
)

var (
	ErrUnsupportedFileType      = errors.New("select a JPG, JPEG or PNG image")
	ErrNoFileSelected           = errors.New("no file selected")
	ErrFileReadFailure          = errors.New("failed to read file")
	ErrImageDecodeFailure       = errors.New("failed to load image")
	ErrRenderContextUnavailable = errors.New("render surface unavailable")
	ErrExportFailure            = errors.New("failed to export cropped image")
	ErrSessionNotFound          = errors.New("session not found")
	ErrInvalidOperation         = errors.New("invalid operation")
)

// statusCode maps an error to the HTTP status reported to the UI.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNoFileSelected), errors.Is(err, ErrFileReadFailure), errors.Is(err, ErrInvalidOperation),
		errors.Is(err, viewport.ErrInvalidFactor), errors.Is(err, viewport.ErrNonFinite):
		return http.StatusBadRequest
	case errors.Is(err, ErrImageDecodeFailure), errors.Is(err, viewport.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, viewport.ErrNoImage):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
