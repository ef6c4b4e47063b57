// Command overlay-replay replays a scripted viewer session against an image:
// it ingests findings, applies pointer, keyboard and camera events, saves
// edited annotations and writes an export with the boxes burned in.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	overlay "github.com/menta2k/annotation-overlay"
	"github.com/menta2k/annotation-overlay/internal/bootstrap"
	"github.com/menta2k/annotation-overlay/internal/config"
	"github.com/menta2k/annotation-overlay/internal/logger"
	"github.com/menta2k/annotation-overlay/pkg/findings"
	"github.com/menta2k/annotation-overlay/pkg/metrics"
	"github.com/menta2k/annotation-overlay/pkg/render"
	"github.com/menta2k/annotation-overlay/pkg/types"
	"github.com/menta2k/annotation-overlay/pkg/viewport"
	"github.com/menta2k/annotation-overlay/pkg/vision"
)

func main() {
	var configPath, in, scriptPath, out, instance, backend string

	flag.StringVar(&configPath, "config", "", "config file (json or yaml)")
	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.StringVar(&scriptPath, "script", "", "session script (yaml or json)")
	flag.StringVar(&out, "out", "", "export path; the extension picks the format")
	flag.StringVar(&instance, "instance", "", "image instance id (overrides the script)")
	flag.StringVar(&backend, "backend", "", "findings backend: none|ollama|llamacpp|saliency")
	flag.Parse()

	if in == "" || scriptPath == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in image.png -script session.yaml [-out export.png] [-config overlay.yaml]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if backend != "" {
		cfg.Findings.Backend = backend
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log := logger.New(cfg.Logging)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := run(ctx, cfg, in, scriptPath, out, instance, log)
	if err != nil {
		log.Fatal("replay failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("failed to write report", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, in, scriptPath, out, instance string, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	script, err := LoadScript(scriptPath)
	if err != nil {
		return Report{}, err
	}
	if instance == "" {
		instance = script.Instance
	}
	if instance == "" {
		instance = strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	}

	img, err := render.Load(ctx, in)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load image: %w", err)
	}

	repo, closeRepo, err := bootstrap.Repository(ctx, cfg.Persistence, log)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = closeRepo() }()

	var source findings.Source = findings.Static(script.Findings)
	if len(script.Findings) == 0 {
		if source, err = bootstrap.FindingsSource(cfg.Findings, log); err != nil {
			return Report{}, err
		}
	}

	var req findings.Request
	if source != nil {
		maxDim := cfg.Findings.MaxDimension
		if _, ok := source.(*vision.Detector); ok {
			// saliency regions come back in the pixels of the image it saw
			maxDim = 0
		}
		b64, err := render.EncodeBase64(img, cfg.Findings.ImageFormat, maxDim, cfg.Findings.Quality)
		if err != nil {
			return Report{}, fmt.Errorf("failed to encode image: %w", err)
		}
		req = findings.Request{Model: cfg.Findings.Model, Prompt: cfg.Findings.Prompt, ImageB64: b64}
	}

	canvas := types.Dimensions{Width: cfg.Viewer.CanvasWidth, Height: cfg.Viewer.CanvasHeight}
	vp := viewport.NewOrthographic(script.Image.ImageData(), render.Dimensions(img), canvas, log)
	defer func() { _ = vp.Close() }()

	engine := overlay.New(repo,
		overlay.WithConfig(bootstrap.EngineConfig(cfg)),
		overlay.WithLogger(log),
		overlay.WithMetrics(metrics.New(nil)))
	if err := engine.Open(ctx, vp, instance); err != nil {
		return Report{}, err
	}
	defer func() { _ = engine.Close() }()

	if cfg.Findings.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Findings.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	player := NewPlayer(engine, vp, source, req, log)
	report, err := player.Play(ctx, script.Steps)
	if err != nil {
		return report, err
	}

	if out != "" {
		burned, err := engine.Export(img, bootstrap.RenderOptions(cfg.Render))
		if err != nil {
			return report, err
		}
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
		if err := render.Save(burned, out, format, cfg.Render.Quality, cfg.Render.Lossless); err != nil {
			return report, fmt.Errorf("failed to write export: %w", err)
		}
		log.Info("export written", zap.String("path", out))
	}
	return report, nil
}
