package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/config"
	"github.com/skyporthq/skyport/internal/credentials"
	skyhttp "github.com/skyporthq/skyport/internal/http"
	"github.com/skyporthq/skyport/internal/jobs"
	"github.com/skyporthq/skyport/internal/lifecycle"
	"github.com/skyporthq/skyport/internal/logging"
	"github.com/skyporthq/skyport/internal/monitoring"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/provider/aws"
	"github.com/skyporthq/skyport/internal/provider/azure"
	"github.com/skyporthq/skyport/internal/provider/gcp"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/internal/security"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/internal/telemetry"
	"github.com/skyporthq/skyport/internal/util"
	"github.com/skyporthq/skyport/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L.Fatal("config load", zap.Error(err))
	}
	if cfg.Auth.RequireAuth && cfg.Auth.SigningKey == "" {
		logging.L.Fatal("missing required env for auth", zap.String("env", "JWT_SIGNING_KEY"))
	}
	if len(cfg.Auth.EncryptionKey) != 32 {
		logging.L.Fatal("CREDENTIAL_ENCRYPTION_KEY must be 32 bytes")
	}

	shutdownTracing := telemetry.InitTracing("skyport-api", logging.L)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logging.L.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Remote account store, with a connect retry window. Without DATABASE_URL
	// the in-memory store carries accounts for local development only.
	var st store.Store
	if cfg.Database.DSN != "" {
		err = util.Retry(60*time.Second, func() (bool, error) {
			pg, perr := store.NewPostgresStore(cfg.Database.DSN, store.PoolConfig{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
				MaxLifetime:  cfg.Database.MaxLifetime,
			})
			if perr != nil {
				return true, perr
			}
			st = pg
			return false, nil
		})
		if err != nil {
			logging.L.Fatal("postgres connect", zap.Error(err))
		}
	} else {
		logging.L.Warn("DATABASE_URL not set, using in-memory account store")
		st = store.NewMemory()
	}
	defer st.Close(context.Background())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	cache := store.NewCache(rdb, 24*time.Hour)
	reconciler := store.NewReconciler(st, cache, logging.L, 5*time.Second)

	rc := remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout, cfg.Remote.RetryTimeout)
	awsP, err := aws.NewProvider(rc, logging.L)
	if err != nil {
		logging.L.Fatal("aws provider", zap.Error(err))
	}
	azureP, err := azure.NewProvider(rc, logging.L)
	if err != nil {
		logging.L.Fatal("azure provider", zap.Error(err))
	}
	gcpP, err := gcp.NewProvider(rc, logging.L)
	if err != nil {
		logging.L.Fatal("gcp provider", zap.Error(err))
	}
	registry := provider.NewRegistry(awsP, azureP, gcpP)

	buffer := telemetry.NewEventBuffer(rdb, cfg.Jobs.WebhookURL, 100, 10*time.Second, logging.L)
	buffer.Run()
	defer buffer.Stop()

	key := []byte(cfg.Auth.EncryptionKey)
	credsSource := func(ctx context.Context, accountID string) (*types.Account, credentials.Bundle, error) {
		a, err := reconciler.Get(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		enc, err := reconciler.Credentials(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		raw, err := security.Decrypt(key, enc, []byte(accountID))
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt credentials: %w", err)
		}
		var bundle credentials.Bundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, nil, err
		}
		return a, bundle, nil
	}

	lm := lifecycle.NewManager(st, logging.L, cfg.Lifecycle.SettleDelay,
		lifecycle.WithNotifier(buffer.Publish),
		lifecycle.WithDeleteConfirmer(func(ctx context.Context, r *types.Resource) error {
			account, bundle, err := credsSource(ctx, r.AccountID)
			if err != nil {
				return err
			}
			return rc.Call(ctx, "delete-resource", map[string]any{
				"provider":     account.Provider,
				"credentials":  bundle,
				"resourceId":   r.ProviderID,
				"resourceType": r.Type,
			}, nil)
		}),
	)
	defer lm.Close()

	engine := monitoring.NewEngine(registry, st, monitoring.CredentialSource(credsSource), logging.L)

	scheduler := jobs.NewScheduler(logging.L)
	err = jobs.RegisterBuiltins(scheduler, cfg.Jobs.AccountSyncSchedule, cfg.Jobs.RecommendationSchedule, jobs.Deps{
		Reconciler: reconciler,
		Store:      st,
		Registry:   registry,
		Creds:      jobs.CredentialSource(credsSource),
		Logger:     logging.L,
	})
	if err != nil {
		logging.L.Fatal("register jobs", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := skyhttp.NewServer(cfg, skyhttp.Deps{
		Store:      st,
		Reconciler: reconciler,
		Registry:   registry,
		Lifecycle:  lm,
		Engine:     engine,
		Notify:     buffer.Publish,
	})

	s := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.L.Info("skyport API listening", zap.String("addr", s.Addr))
	if err := skyhttp.StartHTTP(ctx, s); err != nil && err != context.Canceled {
		logging.L.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}
