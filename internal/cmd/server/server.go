// Package server wires the tidepool server: the document store, the live
// query engine, the auth collaborator, and the HTTP API.
package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/louisbranch/tidepool/internal/api"
	"github.com/louisbranch/tidepool/internal/auth"
	authservice "github.com/louisbranch/tidepool/internal/auth/service"
	authsqlite "github.com/louisbranch/tidepool/internal/auth/sqlite"
	"github.com/louisbranch/tidepool/internal/auth/token"
	"github.com/louisbranch/tidepool/internal/gateway"
	"github.com/louisbranch/tidepool/internal/live"
	"github.com/louisbranch/tidepool/internal/platform/config"
	platformotel "github.com/louisbranch/tidepool/internal/platform/otel"
	"github.com/louisbranch/tidepool/internal/platform/timeouts"
	"github.com/louisbranch/tidepool/internal/posts"
	"github.com/louisbranch/tidepool/internal/store"
	storebbolt "github.com/louisbranch/tidepool/internal/store/bbolt"
	"golang.org/x/sync/errgroup"
)

// Config holds server configuration, populated from the environment.
type Config struct {
	HTTPAddr       string        `env:"TIDEPOOL_HTTP_ADDR" envDefault:":8080"`
	BaseURL        string        `env:"TIDEPOOL_BASE_URL" envDefault:"http://localhost:8080"`
	DataPath       string        `env:"TIDEPOOL_DATA_PATH" envDefault:"data/tidepool.db"`
	AuthDBPath     string        `env:"TIDEPOOL_AUTH_DB_PATH" envDefault:"data/tidepool-auth.db"`
	SessionSecret  string        `env:"TIDEPOOL_SESSION_SECRET,required,notEmpty"`
	TrustedOrigins []string      `env:"TIDEPOOL_TRUSTED_ORIGINS"`
	SessionTTL     time.Duration `env:"TIDEPOOL_SESSION_TTL" envDefault:"168h"`
	TokenRotate    bool          `env:"TIDEPOOL_TOKEN_ROTATE" envDefault:"false"`
}

// ParseConfig reads configuration from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the stack and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	otelShutdown, err := platformotel.Setup(ctx, "tidepool")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
		cancel()
	}()

	for _, path := range []string{cfg.DataPath, cfg.AuthDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
	}

	schema, err := store.NewSchema(posts.Schema())
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	docs, err := storebbolt.Open(cfg.DataPath, schema)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() {
		if err := docs.Close(); err != nil {
			log.Printf("close document store: %v", err)
		}
	}()

	engine := live.NewEngine(docs)
	docs.AddCommitListener(engine)

	authStore, err := authsqlite.Open(cfg.AuthDBPath)
	if err != nil {
		return fmt.Errorf("open auth store: %w", err)
	}
	defer func() {
		if err := authStore.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}()

	codec, err := token.NewCodec(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("build token codec: %w", err)
	}
	authService, err := authservice.New(authservice.Config{
		Users:                     authStore,
		Sessions:                  authStore,
		Codec:                     codec,
		SessionTTL:                cfg.SessionTTL,
		RotateOnVerificationError: cfg.TokenRotate,
	})
	if err != nil {
		return fmt.Errorf("build auth service: %w", err)
	}

	adapter := auth.NewAdapter(authService, auth.NewOriginList(cfg.TrustedOrigins))
	postsService := posts.NewService(docs, gateway.New(docs, adapter), engine)
	handler := api.New(postsService, authService, adapter)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.NewServer(cfg.HTTPAddr, handler).ListenAndServe(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		engine.Close()
		return nil
	})
	return group.Wait()
}
