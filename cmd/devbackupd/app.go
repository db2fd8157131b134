package main

import (
	"context"
	"fmt"
	"io"

	"github.com/andrej220/devbackup/internal/devicelock"
	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/service"
	"github.com/andrej220/devbackup/internal/task"
	"github.com/andrej220/devbackup/internal/vendor"
	"github.com/andrej220/devbackup/internal/worker"
	"github.com/andrej220/devbackup/pkg/backend"
	"github.com/andrej220/devbackup/pkg/config"
	"github.com/andrej220/devbackup/pkg/events"
	"github.com/andrej220/devbackup/pkg/persistence"
)

// app holds everything a command needs, built from the engine config.
type app struct {
	live    *config.Live
	log     lg.Logger
	backend *backend.Client
	service *service.Service
	closers []io.Closer
}

func openStore(ctx context.Context) (config.Config, error) {
	if flags.mongoURI != "" {
		return config.NewStore(ctx, config.MongoStore, &config.MongoConfig{
			URI:      flags.mongoURI,
			DBName:   flags.mongoDB,
			CollName: flags.mongoCollection,
			ID:       flags.serviceID,
		})
	}
	return config.NewStore(ctx, config.FileStore, &config.FileConfig{Path: flags.configPath})
}

func newApp(ctx context.Context) (*app, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	live, err := config.NewLive(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := live.Get()

	logCfg := cfg.Log
	if flags.debug {
		logCfg.Debug = true
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}
	log := lg.New(&logCfg)

	a := &app{live: live, log: log}
	a.backend = backend.NewClient(cfg.Backend, backend.WithLogger(log))

	locker, err := devicelock.New(cfg.Lock, log)
	if err != nil {
		return nil, err
	}
	if c, ok := locker.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	env := worker.Env{
		Backend:  a.backend,
		Registry: vendor.Default(),
		Locker:   locker,
		Logger:   log,
	}
	if cfg.ArchiveDir != "" {
		env.Archive = persistence.NewArchive(cfg.ArchiveDir)
	}

	opts := []service.Option{service.WithLogger(log)}
	if cfg.Kafka.Enabled() && cfg.Kafka.OutcomeTopic != "" {
		pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.OutcomeTopic, log)
		a.closers = append(a.closers, pub)
		opts = append(opts, service.WithOutcomePublisher(pub))
	}
	a.service = service.New(a.backend, task.New(env), opts...)
	return a, nil
}

func (a *app) Close() {
	a.service.Stop()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", lg.Err(err))
		}
	}
	_ = a.log.Sync()
}
