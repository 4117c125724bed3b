package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"squarecrop/viewport"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	RootDir          string
	Addr             string
	Engine           *viewport.Engine
	Renderer         *Renderer
	Exporter         Exporter
	Focuser          *Focuser
	AutoFocus        bool
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	sessions     *SessionStore
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	return &WebApp{
		config:     config,
		sessions:   NewSessionStore(maxSessions, sessionTTL),
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
			return nil
		}
		log.Ctx(c.UserContext()).Warn().
			Err(err).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("Request failed")
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	code := statusCode(err)
	event := log.Ctx(c.UserContext()).Warn()
	if code >= http.StatusInternalServerError {
		event = log.Ctx(c.UserContext()).Error()
	}
	event.Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Int("status", code).
		Msg("Request failed")
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// Handler builds the fiber app without starting it.
func (a *WebApp) Handler(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
		ErrorHandler:          errorHandler,
	})

	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(log.Ctx(ctx).WithContext(c.UserContext()))
		return c.Next()
	})

	webapp.Get("/api/config", func(c *fiber.Ctx) error {
		return c.JSON(a.config.Engine.Config())
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		if a.config.RootDir == "" {
			return c.JSON(Directory{Files: []FileInfo{}})
		}
		dir, err := walkImages(c.UserContext(), a.config.RootDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}
		return c.JSON(dir)
	})

	webapp.Post("/api/sessions", func(c *fiber.Ctx) error {
		img, err := a.loadRequestImage(c)
		if err != nil {
			return err
		}
		session, err := NewSession(a.config.Engine, img)
		if err != nil {
			return err
		}
		if a.config.AutoFocus && a.config.Focuser != nil {
			if _, err := session.Focus(c.UserContext(), a.config.Focuser); err != nil {
				log.Ctx(c.UserContext()).Warn().Err(err).Str("filename", img.Name).Msg("focus failed, keeping centered view")
			}
		}
		a.sessions.Add(session)
		log.Ctx(c.UserContext()).Info().
			Str("session", session.ID).
			Str("filename", img.Name).
			Int("width", img.Meta.Width).
			Int("height", img.Meta.Height).
			Msg("image loaded")

		view, err := session.View()
		if err != nil {
			return err
		}
		return c.Status(http.StatusCreated).JSON(view)
	})

	webapp.Get("/api/sessions/:id", func(c *fiber.Ctx) error {
		session, err := a.sessions.Get(c.Params("id"))
		if err != nil {
			return err
		}
		view, err := session.View()
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	webapp.Post("/api/sessions/:id/events", func(c *fiber.Ctx) error {
		session, err := a.sessions.Get(c.Params("id"))
		if err != nil {
			return err
		}

		var request struct {
			Operations Operations `json:"operations"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		if _, err := session.ApplyAll(c.UserContext(), request.Operations, a.config.Focuser); err != nil {
			return err
		}

		view, err := session.View()
		if err != nil {
			return err
		}
		return c.JSON(view)
	})

	webapp.Get("/api/sessions/:id/preview", func(c *fiber.Ctx) error {
		session, err := a.sessions.Get(c.Params("id"))
		if err != nil {
			return err
		}
		var b bytes.Buffer
		if err := session.WritePreview(&b, a.config.Renderer); err != nil {
			return err
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Type("png")
		return c.Send(b.Bytes())
	})

	webapp.Get("/api/sessions/:id/export", func(c *fiber.Ctx) error {
		session, err := a.sessions.Get(c.Params("id"))
		if err != nil {
			return err
		}
		var b bytes.Buffer
		if err := session.Export(c.UserContext(), a.config.Exporter, &b); err != nil {
			return err
		}
		log.Ctx(c.UserContext()).Info().Str("session", session.ID).Int("bytes", b.Len()).Msg("exported crop")
		c.Attachment(ExportFilename)
		return c.Send(b.Bytes())
	})

	webapp.Delete("/api/sessions/:id", func(c *fiber.Ctx) error {
		if !a.sessions.Remove(c.Params("id")) {
			return ErrSessionNotFound
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

// loadRequestImage reads the uploaded "image" field, or the root relative
// "file" query parameter.
func (a *WebApp) loadRequestImage(c *fiber.Ctx) (*LoadedImage, error) {
	if name := c.Query("file"); name != "" {
		if a.config.RootDir == "" {
			return nil, fiber.NewError(http.StatusBadRequest, "no root directory configured")
		}
		return openImage(c.UserContext(), a.config.RootDir, name)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFileSelected, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileReadFailure, fh.Filename, err)
	}
	defer f.Close()

	return loadImage(c.UserContext(), f, fh.Filename, fh.Header.Get(fiber.HeaderContentType))
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.Handler(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
		a.sessions.Purge()
	}()

	addr := a.config.Addr
	if addr == "" {
		// Let the OS assign a random available port
		addr = "localhost:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Use the listener that was already created
	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
