package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
	"github.com/makinacorpus/apubsub-sub000/backend/mongodb"
	"github.com/makinacorpus/apubsub-sub000/backend/pgsql"
	"github.com/makinacorpus/apubsub-sub000/backend/redisdb"
	"github.com/makinacorpus/apubsub-sub000/pkg/config"
	"github.com/makinacorpus/apubsub-sub000/pkg/janitor"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
	pkgredis "github.com/makinacorpus/apubsub-sub000/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	l := logger.FromConfig(logCfg)
	logger.SetAsDefault(l)

	var cfg apubsub.Config
	config.MustLoad(&cfg)
	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("Invalid broker configuration: %v", err)
	}
	// the janitor is the only collector
	opts = append(opts, apubsub.WithLogger(l), apubsub.WithDelayChecks(true))

	b, err := registry().Open(ctx, cfg.Engine, opts...)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Engine, err)
	}
	defer closeBackend(b)

	j := janitor.New(janitor.WithLogger(l))
	must(j.AddJob("gc", janitor.Every(cfg.GCInterval), janitor.GarbageCollection(b)))
	must(j.AddJob("flush-caches", janitor.HourlyAt(0), janitor.FlushCaches(b)))
	must(j.AddJob("analysis", janitor.Every(max(cfg.GCInterval, time.Hour)), janitor.Analysis(b, l)))

	l.Info("janitor started", logger.Engine(cfg.Engine), slog.Duration("gc_interval", cfg.GCInterval))
	if err := j.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Janitor stopped: %v", err)
	}
}

// registry registers every engine. Connection settings are loaded only for
// the engine being opened.
func registry() *apubsub.Registry {
	r := apubsub.NewRegistry()
	r.MustRegister(memory.Engine, func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		var cfg memory.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return memory.Factory(cfg)(ctx, opts...)
	})
	r.MustRegister(pgsql.Engine, func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return pgsql.Factory(cfg)(ctx, opts...)
	})
	r.MustRegister(redisdb.Engine, func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		var (
			conn pkgredis.Config
			cfg  redisdb.Config
		)
		if err := errors.Join(config.Load(&conn), config.Load(&cfg)); err != nil {
			return nil, err
		}
		return redisdb.Factory(conn, cfg)(ctx, opts...)
	})
	r.MustRegister(mongodb.Engine, func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		var (
			conn pkgmongo.Config
			cfg  mongodb.Config
		)
		if err := errors.Join(config.Load(&conn), config.Load(&cfg)); err != nil {
			return nil, err
		}
		return mongodb.Factory(conn, cfg)(ctx, opts...)
	})
	return r
}

func closeBackend(b apubsub.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch b := b.(type) {
	case *pgsql.Backend:
		b.Close()
	case *redisdb.Backend:
		err = b.Client().Close()
	case *mongodb.Backend:
		err = b.Close(ctx)
	}
	if err != nil {
		slog.Warn("failed to close backend", logger.Error(err))
	}
}

func must(err error) {
	if err != nil {
		log.Fatalf("Failed to configure janitor: %v", err)
	}
}
