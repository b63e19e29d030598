package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fieldline/authd/internal/config"
	"github.com/fieldline/authd/internal/httpapi"
	"github.com/fieldline/authd/internal/password"
	"github.com/fieldline/authd/internal/ratelimit"
	"github.com/fieldline/authd/internal/server"
	"github.com/fieldline/authd/internal/service"
	"github.com/fieldline/authd/internal/store"
	"github.com/fieldline/authd/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newRedis,
			newStore,
			newHasher,
			newCodec,
			newSessionManager,
			newBucketTable,
			newLimiter,
			newAuthHandler,
			newRouter,
			newServer,
		),
		fx.Invoke(run),
	)

	app.Run()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newRedis(lc fx.Lifecycle, cfg config.Config) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client
}

func newStore(client redis.UniversalClient, cfg config.Config) *store.Store {
	return store.New(client, cfg.KeyPrefix, 0)
}

func newHasher() (*password.Hasher, error) {
	return password.NewHasher(password.DefaultParams)
}

func newCodec(cfg config.Config, logger *zap.Logger) (*token.Codec, error) {
	priv, err := config.DecodeKey(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	pub, err := config.DecodeKey(cfg.VerifyKey)
	if err != nil {
		return nil, err
	}

	if len(priv) == 0 && len(pub) == 0 {
		// Ephemeral pair: every restart invalidates outstanding tokens.
		// Load guarantees this branch is unreachable in production.
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral signing key: %w", err)
		}
		logger.Warn("no signing key configured, generated ephemeral key pair")
	}

	return token.NewCodec(token.Config{
		PrivateKey: priv,
		PublicKey:  pub,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
}

func newSessionManager(s *store.Store, codec *token.Codec, hasher *password.Hasher, logger *zap.Logger) *service.Manager {
	return service.NewManager(s, codec, hasher, logger)
}

func newBucketTable(cfg config.Config) *ratelimit.Table {
	return ratelimit.NewTable(cfg.RateLimit)
}

func newLimiter(table *ratelimit.Table, cfg config.Config, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(table, ratelimit.Config{
		SweepInterval: cfg.SweepInterval,
		SweepMaxAge:   cfg.SweepMaxAge,
	}, logger)
}

func newAuthHandler(sessions *service.Manager, cfg config.Config, logger *zap.Logger) *httpapi.AuthHandler {
	return httpapi.NewAuthHandler(sessions, httpapi.CookieConfig{
		AccessMaxAge:  cfg.AccessTTL,
		RefreshMaxAge: cfg.RefreshTTL,
		Secure:        cfg.CookieSecure,
	}, logger)
}

func newRouter(handler *httpapi.AuthHandler, codec *token.Codec, limiter *ratelimit.Limiter, cfg config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.NewRouter(handler, codec, limiter, logger)
}

func newServer(router *gin.Engine, cfg config.Config, logger *zap.Logger) *server.Server {
	return server.New(cfg.HTTPAddr, router, logger)
}

func run(lc fx.Lifecycle, srv *server.Server, limiter *ratelimit.Limiter, s *store.Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Ping(ctx); err != nil {
				return err
			}
			limiter.Start()
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			limiter.Stop()
			return srv.Stop(ctx)
		},
	})
}
