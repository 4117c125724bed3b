package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squarecrop/viewport"
)

func newTestApp(t *testing.T, rootDir string) *fiber.App {
	t.Helper()
	renderer, err := NewRenderer(viewport.DefaultConfig())
	require.NoError(t, err)
	app := NewWebApp(Config{
		RootDir:  rootDir,
		Engine:   newTestEngine(t),
		Renderer: renderer,
		Exporter: NewImagingExporter(),
		Focuser:  NewFocuser(),
	})
	return app.Handler(context.Background())
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, app *fiber.App, req *http.Request, wantStatus int, out any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, string(body))
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out))
	}
}

func postEvents(t *testing.T, app *fiber.App, id, ops string, wantStatus int, out any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/events", strings.NewReader(`{"operations":`+ops+`}`))
	req.Header.Set("Content-Type", "application/json")
	doJSON(t, app, req, wantStatus, out)
}

func TestWebSessionLifecycle(t *testing.T) {
	app := newTestApp(t, "")

	var view SessionView
	doJSON(t, app, uploadRequest(t, "wide.png", "image/png", encodePNG(t, 800, 400)), http.StatusCreated, &view)
	require.NotEmpty(t, view.ID)
	assert.Equal(t, viewport.ImageMetadata{Width: 800, Height: 400}, view.Image)
	assert.Equal(t, -200.0, view.State.OffsetX)
	assert.Equal(t, viewport.CropRect{X: 200, Y: 0, Side: 400}, view.Crop)

	postEvents(t, app, view.ID, `[{"type":"zoom","x":200,"y":200,"factor":2}]`, http.StatusOK, &view)
	assert.Equal(t, 2.0, view.State.Scale)
	assert.Equal(t, -600.0, view.State.OffsetX)
	assert.InDelta(t, 50.0, view.State.SliderValue, 1e-9)

	postEvents(t, app, view.ID, `[{"type":"pan","x":100,"y":100},{"type":"pan","x":150,"y":100},{"type":"end"}]`, http.StatusOK, &view)
	assert.Equal(t, -550.0, view.State.OffsetX)

	var fetched SessionView
	doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil), http.StatusOK, &fetched)
	assert.Equal(t, view, fetched)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID+"/export", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), ExportFilename)
	cfg, err := png.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID+"/preview", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))

	doJSON(t, app, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+view.ID, nil), http.StatusNoContent, nil)
	doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil), http.StatusNotFound, nil)
}

func TestWebRejectsUnsupportedFile(t *testing.T) {
	app := newTestApp(t, "")

	var body map[string]string
	doJSON(t, app, uploadRequest(t, "anim.gif", "image/gif", encodeGIF(t, 20, 20)), http.StatusUnsupportedMediaType, &body)
	assert.Contains(t, body["error"], ErrUnsupportedFileType.Error())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	doJSON(t, app, req, http.StatusBadRequest, &body)
	assert.Contains(t, body["error"], ErrNoFileSelected.Error())

	doJSON(t, app, uploadRequest(t, "broken.png", "image/png", []byte("\x89PNG\r\n\x1a\nnope")), http.StatusUnprocessableEntity, nil)
}

func TestWebBadEventsKeepState(t *testing.T) {
	app := newTestApp(t, "")

	var view SessionView
	doJSON(t, app, uploadRequest(t, "wide.png", "image/png", encodePNG(t, 800, 400)), http.StatusCreated, &view)

	postEvents(t, app, view.ID, `[{"type":"rotate"}]`, http.StatusBadRequest, nil)
	postEvents(t, app, view.ID, `[{"type":"zoom_center","factor":0}]`, http.StatusBadRequest, nil)

	// a failing op discards the ops before it in the same batch
	var body map[string]string
	postEvents(t, app, view.ID, `[{"type":"zoom_center","factor":2},{"type":"zoom_center","factor":0}]`, http.StatusBadRequest, &body)
	assert.Contains(t, body["error"], "operation 1")
	postEvents(t, app, view.ID, `[{"type":"pan","x":10,"y":10},{"type":"pan","x":60,"y":10},{"type":"zoom","x":0,"y":0,"factor":-1}]`, http.StatusBadRequest, nil)

	var after SessionView
	doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID, nil), http.StatusOK, &after)
	assert.Equal(t, view.State, after.State)

	postEvents(t, app, "missing", `[]`, http.StatusNotFound, nil)
}

func TestWebRootDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tall.jpg"), encodeJPEG(t, 200, 800), 0o644))
	app := newTestApp(t, dir)

	var d Directory
	doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/ls", nil), http.StatusOK, &d)
	require.Len(t, d.Files, 1)
	assert.Equal(t, "tall.jpg", d.Files[0].Name)
	assert.Equal(t, ImageInfo{Width: 200, Height: 800}, d.Files[0].Image)

	var view SessionView
	doJSON(t, app, httptest.NewRequest(http.MethodPost, "/api/sessions?file=tall.jpg", nil), http.StatusCreated, &view)
	assert.Equal(t, 2.0, view.State.Scale)
	assert.Equal(t, -600.0, view.State.OffsetY)

	var cfg viewport.Config
	doJSON(t, app, httptest.NewRequest(http.MethodGet, "/api/config", nil), http.StatusOK, &cfg)
	assert.Equal(t, viewport.DefaultConfig(), cfg)
}

func TestWebServesIndex(t *testing.T) {
	app := newTestApp(t, "")
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
