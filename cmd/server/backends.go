package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"signet/internal/document/service"
	"signet/internal/kv"
	"signet/internal/mint"
	"signet/internal/payload"
	"signet/internal/platform/config"
	"signet/internal/platform/kafka"
	"signet/internal/platform/postgres"
	redisclient "signet/internal/platform/redis"
)

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// backends holds the infrastructure selected by configuration.
type backends struct {
	kv       kv.Store
	minter   service.Minter
	payloads payload.Store
	health   []healthCheck
	closers  []func() error
}

func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close(log)
		}
	}()

	if err := b.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.openMinter(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := b.openPayloads(ctx, cfg); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backends) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.health = append(b.health, healthCheck{name: "redis", check: client.Health})
		b.kv = kv.NewRedis(client.Client,
			kv.WithPrefix(cfg.Redis.Prefix),
			kv.WithLeaseTTL(cfg.Redis.LeaseTTL),
			kv.WithAcquireTimeout(cfg.Redis.AcquireTimeout),
		)
	case config.StorePostgres:
		db, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.health = append(b.health, healthCheck{name: "postgres", check: db.PingContext})
		if cfg.Postgres.AutoMigrate {
			if err := postgres.RunMigrations(ctx, db); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		b.kv = kv.NewPostgres(db)
	default:
		b.kv = kv.NewInMemory()
	}
	return nil
}

func (b *backends) openMinter(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	switch cfg.Mint.Backend {
	case config.MintHTTP:
		minter := mint.NewHTTPMinter(cfg.Mint.HTTPURL, cfg.Mint.HTTPTimeout, mint.WithHTTPLogger(log))
		b.health = append(b.health, healthCheck{name: "mint", check: func(context.Context) error {
			if minter.IsDegraded() {
				return errors.New("mint service circuit open")
			}
			return nil
		}})
		b.minter = minter
	case config.MintKafka:
		client, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		b.closers = append(b.closers, func() error { client.Close(); return nil })
		b.health = append(b.health, healthCheck{name: "kafka", check: client.Ping})
		if cfg.Kafka.EnsureTopic {
			if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
				return fmt.Errorf("ensure mint topic: %w", err)
			}
		}
		b.minter = mint.NewKafkaMinter(client, cfg.Kafka.Topic, log)
	default:
		log.Warn("mint requests are recorded in memory only")
		b.minter = mint.NewRecorder()
	}
	return nil
}

func (b *backends) openPayloads(ctx context.Context, cfg *config.Config) error {
	if cfg.Payload.Endpoint == "" {
		b.payloads = payload.NewInMemoryStore()
		return nil
	}
	store, err := payload.NewMinIOStore(ctx, cfg.Payload)
	if err != nil {
		return fmt.Errorf("connect payload store: %w", err)
	}
	b.payloads = store
	return nil
}

// Close releases backends in reverse order of opening.
func (b *backends) Close(log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("failed to close backend", "error", err)
		}
	}
	b.closers = nil
}
