package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"abuse-gateway/internal/audit"
	"abuse-gateway/internal/client"
	"abuse-gateway/internal/config"
	"abuse-gateway/internal/gate"
	"abuse-gateway/internal/identity"
	"abuse-gateway/internal/limiter"
	"abuse-gateway/internal/policy"
	"abuse-gateway/internal/revocation"
	"abuse-gateway/internal/util"
)

// Factory manages the lifecycle of all gateway dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Gate wiring
	registry        *policy.Registry
	limiterStore    limiter.Store
	revocationStore revocation.Store
	recorder        *audit.Recorder
	requestGate     *gate.Gate

	// In-process sweep, only for the memory backend
	memoryLimiter    *limiter.MemoryStore
	memoryRevocation *revocation.MemoryStore

	closeOnce sync.Once
	done      chan struct{}
}

// NewFactory loads configuration and initializes every dependency. The
// returned factory is ready to serve; any error here must abort startup.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		done:   make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.recorder = audit.NewRecorder(f.kafkaProducer, f.clickhouseClient, util.Get())
	f.registry = policy.NewRegistry(cfg.Policies)

	if err := f.initializeStores(); err != nil {
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	requestGate, err := gate.New(gate.Options{
		Registry:    f.registry,
		Store:       f.limiterStore,
		Revocations: f.revocationStore,
		Resolver:    identity.NewResolver(),
		Recorder:    f.recorder,
		Routes:      gate.DefaultRoutes(),
		Logger:      util.Get(),
	})
	if err != nil {
		// A route bound to an unknown policy lands here: fatal before the
		// service accepts traffic.
		return nil, fmt.Errorf("failed to construct request gate: %w", err)
	}
	f.requestGate = requestGate

	f.startSweeper()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("gate_backend", cfg.Gate.Backend),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	if f.config.Gate.Backend == "redis" {
		redisClient, err := client.NewRedisClient(f.config, util.Get())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
	}

	if f.config.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(f.config, util.Get())
		if err != nil {
			// Audit publishing is best-effort; the gateway runs without it.
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		chClient, err := client.NewClickHouseClient(f.config, util.Get())
		if err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without archive", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

// initializeStores selects the shared-state backend. Exactly one backend
// serves all routes; the two implementations are never mixed.
func (f *Factory) initializeStores() error {
	switch f.config.Gate.Backend {
	case "redis":
		f.limiterStore = limiter.NewRedisStore(f.redisClient, f.config.Gate.StoreTimeout)
		f.revocationStore = revocation.NewRedisStore(f.redisClient, f.config.Gate.StoreTimeout)
	case "memory":
		f.memoryLimiter = limiter.NewMemoryStore()
		f.memoryRevocation = revocation.NewMemoryStore()
		f.limiterStore = f.memoryLimiter
		f.revocationStore = f.memoryRevocation
		util.Warn("Using in-process gate backend - state is per-instance and lost on restart")
	default:
		return fmt.Errorf("unknown gate backend %q (expected redis or memory)", f.config.Gate.Backend)
	}
	return nil
}

// startSweeper runs the opportunistic expiry cleanup for the in-process
// backend. Redis expires its own records via TTL.
func (f *Factory) startSweeper() {
	if f.memoryLimiter == nil {
		return
	}

	interval := f.config.Gate.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.memoryLimiter.Sweep()
				f.memoryRevocation.Sweep()
			case <-f.done:
				return
			}
		}
	}()
}

// HealthCheck verifies every initialized client concurrently.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if f.redisClient != nil {
		g.Go(func() error {
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
	}
	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
				return fmt.Errorf("kafka: %w", err)
			}
			return nil
		})
	}
	if f.clickhouseClient != nil {
		g.Go(func() error {
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("clickhouse: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		util.Info("Shutting down factory...")

		if f.recorder != nil {
			f.recorder.Close()
			util.Info("Audit recorder drained")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Gate() *gate.Gate {
	return f.requestGate
}

func (f *Factory) Revocations() revocation.Store {
	return f.revocationStore
}

func (f *Factory) Recorder() *audit.Recorder {
	return f.recorder
}
