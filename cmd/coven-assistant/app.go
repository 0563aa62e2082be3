// ABOUTME: Wires configuration into the engine, storage, tools and enabled platforms
// ABOUTME: Serve runs every platform under one errgroup and stops them together

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-assistant/internal/api"
	"github.com/2389/coven-assistant/internal/assistant"
	"github.com/2389/coven-assistant/internal/builtins"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/llm"
	"github.com/2389/coven-assistant/internal/platform/cli"
	"github.com/2389/coven-assistant/internal/platform/matrix"
	"github.com/2389/coven-assistant/internal/store"
)

// ErrNoPlatform is returned by serve when every platform is disabled.
var ErrNoPlatform = errors.New("no platform enabled")

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *assistant.Engine
	store   store.ConversationStore
	service *assistant.Service
	cleanup func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		Backend:    cfg.Storage.Backend,
		SQLitePath: cfg.Storage.SQLite.Path,
		Redis: store.RedisOptions{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		},
		Logger: logger,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		engine:  engine,
		store:   st,
		service: assistant.NewService(st, engine, logger),
		cleanup: cleanup,
	}, nil
}

// buildEngine creates the LLM client and engine and registers the enabled tools.
// The returned cleanup releases tool resources.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*assistant.Engine, func(), error) {
	model, err := newModel(cfg.LLM.OpenAI, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating llm client: %w", err)
	}

	identity := cfg.Identity()
	engine := assistant.New(assistant.Config{
		LLM:             model,
		SystemRole:      identity.SystemRole,
		SensitiveMarker: identity.SensitiveMarker,
		ToolTimeout:     cfg.Tools.Timeout,
		Logger:          logger,
	})

	build := builtins.ResolveBuildInfo(version, commit, buildTime)
	engine.RegisterPack(ctx, builtins.InfoPack(build, time.Now(), cfg.Location()))

	if ig := cfg.Tools.ImageGenerator; ig.Enabled {
		images := builtins.NewOpenAIImages(builtins.ImageConfig{
			Endpoint:  ig.Endpoint,
			Token:     ig.Token,
			Model:     ig.Model,
			Size:      ig.Size,
			UserAgent: "coven-assistant/" + version,
		})
		engine.RegisterTool(ctx, builtins.ImageGeneratorTool(images, logger))
	}

	cleanup := func() {}
	if il := cfg.Tools.GetIllustURL; il.Enabled {
		catalog, err := builtins.OpenIllustCatalog(il.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening illust catalog: %w", err)
		}
		engine.RegisterTool(ctx, builtins.IllustTool(catalog))
		cleanup = func() {
			if err := catalog.Close(); err != nil {
				logger.Warn("failed to close illust catalog", "error", err)
			}
		}
	}

	logger.Debug("engine ready", "tools", len(engine.Tools()))
	return engine, cleanup, nil
}

// newModel picks the OpenAI API flavor named by llm.openai.api.
func newModel(cfg config.OpenAIConfig, logger *slog.Logger) (llm.LLM, error) {
	lc := llm.Config{
		Endpoint:         cfg.Endpoint,
		Token:            cfg.Token,
		Model:            cfg.Model,
		MaxTokens:        cfg.MaxTokens,
		StructuredOutput: cfg.UseStructuredOutput,
		Timeout:          cfg.Timeout,
		UserAgent:        "coven-assistant/" + version,
		Logger:           logger,
	}
	switch cfg.API {
	case config.APIChatCompletion:
		model, err := llm.NewChatCompletions(lc)
		if err != nil {
			return nil, err
		}
		return model, nil
	case config.APIResponses, "":
		model, err := llm.NewResponses(lc)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported openai api %q", cfg.API)
	}
}

func (a *app) newREPL() *cli.REPL {
	return cli.New(cli.Config{
		Engine:   a.engine,
		In:       os.Stdin,
		Out:      os.Stdout,
		UserName: os.Getenv("USER"),
		Logger:   a.logger,
	})
}

// Serve runs every enabled platform until ctx is cancelled or one of them fails.
// The CLI ending (for example on /quit) stops the other platforms too.
func (a *app) Serve(ctx context.Context) error {
	p := a.cfg.Platform
	if !p.CLI.Enabled && !p.Matrix.Enabled && !p.HTTP.Enabled {
		return ErrNoPlatform
	}

	g, ctx := errgroup.WithContext(ctx)

	if p.CLI.Enabled {
		repl := a.newREPL()
		g.Go(func() error {
			if err := repl.Run(ctx); err != nil {
				return err
			}
			return errCLIExited
		})
	}

	if p.Matrix.Enabled {
		g.Go(func() error {
			return a.runMatrix(ctx)
		})
	}

	if p.HTTP.Enabled {
		srv := api.New(api.Config{
			HTTP:          p.HTTP,
			Tailscale:     a.cfg.Tailscale,
			Service:       a.service,
			Conversations: a.store,
			Tools:         a.engine,
			Logger:        a.logger,
		})
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, errCLIExited) {
		return nil
	}
	return err
}

var errCLIExited = errors.New("cli exited")

func (a *app) runMatrix(ctx context.Context) error {
	adapter, err := matrix.New(a.cfg.Platform.Matrix, a.service, a.logger)
	if err != nil {
		return err
	}
	if err := adapter.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	m := a.cfg.Platform.Matrix
	if m.Encryption || m.RecoveryKey != "" {
		crypto, err := adapter.EnableEncryption(ctx)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		a.logger.Info("matrix encryption disabled")
	}

	return adapter.Run(ctx)
}

// Close releases storage and tool resources.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
	a.cleanup()
}
