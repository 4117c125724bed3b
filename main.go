package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"squarecrop/viewport"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("squarecrop"),
		kong.Description("Pan and zoom an image in a square viewport and export the visible square."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(&args.Globals); err != nil {
		return err
	}

	return nil
}

type Globals struct {
	Verbose   bool    `help:"Enable verbose logging" default:"false"`
	LogFile   string  `help:"Also write logs to this file, rotated by size" type:"path" env:"SQUARECROP_LOG_FILE"`
	Side      int     `help:"Viewport side length in pixels" default:"400"`
	MaxZoom   float64 `help:"Maximum zoom relative to the fitted image" default:"3"`
	ZoomSpeed float64 `help:"Zoom step per wheel event" default:"0.1"`
}

// setupLogging configures the global logger and returns a context carrying
// it. The returned func closes the log file, if any.
func (g *Globals) setupLogging(ctx context.Context) (context.Context, func() error) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.NewConsoleWriter()
	closeLog := func() error { return nil }
	if g.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   g.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, lj)
		closeLog = lj.Close
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	return log.Logger.WithContext(ctx), closeLog
}

func (g *Globals) viewportConfig() viewport.Config {
	return viewport.Config{
		Width:     g.Side,
		Height:    g.Side,
		MaxZoom:   g.MaxZoom,
		ZoomSpeed: g.ZoomSpeed,
	}
}

// components builds the engine and the render surface shared by all
// sessions.
func (g *Globals) components() (*viewport.Engine, *Renderer, error) {
	cfg := g.viewportConfig()
	renderer, err := NewRenderer(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := viewport.NewEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine, renderer, nil
}

type serveCmd struct {
	RootDir string `arg:"" optional:"" help:"Directory to pick images from" type:"existingdir"`
	Addr    string `help:"Address to listen on, a random local port when empty"`
	Open    bool   `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	Focus   bool   `help:"Center newly loaded images on their most interesting region"`
}

func (cmd *serveCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx, closeLog := g.setupLogging(ctx)
	defer closeLog()

	engine, renderer, err := g.components()
	if err != nil {
		return err
	}

	app := NewWebApp(Config{
		RootDir:   cmd.RootDir,
		Addr:      cmd.Addr,
		Engine:    engine,
		Renderer:  renderer,
		Exporter:  NewImagingExporter(),
		Focuser:   NewFocuser(),
		AutoFocus: cmd.Focus,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type cropCmd struct {
	Images    []string `arg:"" help:"JPEG or PNG images to crop" type:"existingfile"`
	Script    string   `help:"JSONL file of operations to apply to every image, - for stdin" short:"s"`
	OutputDir string   `help:"Directory the crops are written to" default:"output" type:"path" short:"o"`
	JSON      bool     `help:"Print the crop rectangles as JSON lines instead of writing files"`
	Focus     bool     `help:"Center each image on its most interesting region before applying operations"`
}

func (cmd *cropCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx, closeLog := g.setupLogging(ctx)
	defer closeLog()

	engine, _, err := g.components()
	if err != nil {
		return err
	}

	ops, err := cmd.operations()
	if err != nil {
		return err
	}

	executor := CropExecutor{
		Engine:    engine,
		Exporter:  NewImagingExporter(),
		Focuser:   NewFocuser(),
		OutputDir: cmd.OutputDir,
		Focus:     cmd.Focus,
		DryRun:    cmd.JSON,
	}
	results, err := executor.Exec(ctx, cmd.Images, ops)
	if err != nil {
		return err
	}

	if cmd.JSON {
		printJSONL(results)
		return nil
	}
	for _, res := range results {
		log.Ctx(ctx).Info().
			Str("filename", res.Filename).
			Str("output", res.Output).
			Stringer("crop", res.Crop).
			Msg("saved")
	}
	return nil
}

func (cmd *cropCmd) operations() (Operations, error) {
	switch cmd.Script {
	case "":
		return nil, nil
	case "-":
		return readOperations(os.Stdin)
	}
	f, err := os.Open(filepath.Clean(cmd.Script))
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return readOperations(f)
}

type cliArgs struct {
	Globals `embed:""`

	Serve serveCmd `cmd:"" default:"withargs" help:"Serve the cropping UI"`
	Crop  cropCmd  `cmd:"" help:"Apply operations to images and export the crops"`
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
