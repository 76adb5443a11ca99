// Package service wires the engine and its collaborators from the
// application configuration.
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
	"github.com/kestrelqa/selfheal/internal/broadcast"
	"github.com/kestrelqa/selfheal/internal/browser"
	"github.com/kestrelqa/selfheal/internal/config"
	"github.com/kestrelqa/selfheal/internal/healing"
	"github.com/kestrelqa/selfheal/internal/store"
	"github.com/kestrelqa/selfheal/internal/validation"
)

// Components bundles the fully wired service graph handed to commands.
type Components struct {
	Engine      *healing.Engine
	Broadcaster *broadcast.Broadcaster
	Browser     *browser.Manager

	logger *zap.Logger
	pool   *pgxpool.Pool
}

// ComponentFactory creates the component set for a command run. The
// abstraction keeps command logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// healing components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.",
				zap.Error(initializationErr))
			components.Shutdown(context.Background())
		}
	}()

	// 1. Stores. An empty database URL selects the in-memory store.
	var (
		sessions        schemas.SessionStore
		identifications schemas.IdentificationStore
	)
	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.pool = pool

		pg := store.NewPostgres(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			initializationErr = fmt.Errorf("failed to ensure database schema: %w", err)
			return nil, initializationErr
		}
		sessions, identifications = pg, pg
	} else {
		logger.Info("No database URL configured, using the in-memory store.")
		mem := store.NewMemory(logger)
		sessions, identifications = mem, mem
	}

	// 2. Event broadcaster.
	components.Broadcaster = broadcast.New(logger, cfg.Broadcast().SubscriberBufferSize)

	// 3. Browser manager.
	components.Browser = browser.NewManager(cfg.Browser(), logger)
	if err := components.Browser.Start(ctx); err != nil {
		initializationErr = fmt.Errorf("failed to start browser: %w", err)
		return nil, initializationErr
	}

	// 4. Healing engine.
	healingCfg := cfg.Healing()
	snapshot := healingCfg.Snapshot()
	components.Engine = healing.NewEngine(healing.Deps{
		Logger:          logger,
		Sessions:        sessions,
		Identifications: identifications,
		Events:          components.Broadcaster,
		Validator:       validation.NewRunner(logger, snapshot.Validation, nil),
		DefaultConfig:   snapshot,
		PredictionRate:  healingCfg.PredictionRateLimit,
	})

	return components, nil
}

// Shutdown releases everything Create built, in reverse order.
func (c *Components) Shutdown(ctx context.Context) {
	if c.Engine != nil {
		c.Engine.Wait()
	}
	if c.Browser != nil {
		if err := c.Browser.Shutdown(ctx); err != nil {
			c.logger.Warn("Browser shutdown reported an error.", zap.Error(err))
		}
	}
	if c.Broadcaster != nil {
		c.Broadcaster.Shutdown()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
