// Package bootstrap turns configuration into the collaborators the binaries
// wire together.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	overlay "github.com/menta2k/annotation-overlay"
	"github.com/menta2k/annotation-overlay/internal/config"
	"github.com/menta2k/annotation-overlay/pkg/findings"
	"github.com/menta2k/annotation-overlay/pkg/interaction"
	"github.com/menta2k/annotation-overlay/pkg/llamacpp"
	"github.com/menta2k/annotation-overlay/pkg/ollama"
	"github.com/menta2k/annotation-overlay/pkg/persistence"
	"github.com/menta2k/annotation-overlay/pkg/persistence/gormstore"
	"github.com/menta2k/annotation-overlay/pkg/persistence/restclient"
	"github.com/menta2k/annotation-overlay/pkg/render"
	"github.com/menta2k/annotation-overlay/pkg/vision"
)

// Repository opens the configured record store. The returned func releases
// it.
func Repository(ctx context.Context, cfg config.PersistenceConfig, l *zap.Logger) (persistence.Repository, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Backend {
	case "", "memory":
		return persistence.NewMemoryRepository(), nop, nil
	case "postgres":
		db, err := gormstore.Open(cfg.DSN, l)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		repo := gormstore.New(db)
		if cfg.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				_ = sqlDB.Close()
				return nil, nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return repo, sqlDB.Close, nil
	case "rest":
		c, err := restclient.New(cfg.URL, time.Duration(cfg.TimeoutSeconds)*time.Second, l)
		if err != nil {
			return nil, nil, err
		}
		return c, nop, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

// FindingsSource builds the configured finding source. The "none" backend
// yields a nil source.
func FindingsSource(cfg config.FindingsConfig, l *zap.Logger) (findings.Source, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "ollama":
		return ollama.NewClient(cfg.URL, cfg.Model, l)
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, cfg.Model, l), nil
	case "saliency":
		return vision.New(), nil
	default:
		return nil, fmt.Errorf("unknown findings backend %q", cfg.Backend)
	}
}

// EngineConfig maps the file configuration onto the engine's
func EngineConfig(cfg *config.Config) overlay.Config {
	return overlay.Config{
		Interaction: interaction.Config{
			MinBoxSize:  cfg.Interaction.MinBoxSize,
			HandleSize:  cfg.Interaction.HandleSize,
			LabelHeight: cfg.Interaction.LabelHeight,
			NoteWidth:   cfg.Interaction.NoteWidth,
			NoteHeight:  cfg.Interaction.NoteHeight,
		},
		MinConfidence:   cfg.Findings.MinConfidence,
		SaveConcurrency: cfg.Persistence.Concurrency,
	}
}

// RenderOptions maps the export configuration
func RenderOptions(cfg config.RenderConfig) render.Options {
	return render.Options{Stroke: cfg.Stroke, Labels: cfg.Labels}
}
