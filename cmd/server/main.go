// Command groupctl-server runs the group control plane.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/config"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/limiter"
	"github.com/navcom/groupctl/internal/metrics"
	"github.com/navcom/groupctl/internal/migrate"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/relay"
	"github.com/navcom/groupctl/internal/repository"
	"github.com/navcom/groupctl/internal/repository/postgres"
	"github.com/navcom/groupctl/internal/rotation"
	"github.com/navcom/groupctl/internal/securestore"
	grpcserver "github.com/navcom/groupctl/internal/server/grpc"
	httpserver "github.com/navcom/groupctl/internal/server/http"
	"github.com/navcom/groupctl/internal/service"
	"github.com/navcom/groupctl/internal/transport"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func unixNow() int64 { return time.Now().Unix() }

// main loads configuration, wires the control plane and serves gRPC and HTTP
// until SIGINT or SIGTERM.
func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	grpcAddr := flag.String("addr", "", "gRPC listen address (overrides config)")
	httpAddr := flag.String("http-addr", "", "ops HTTP listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config)")
	dev := flag.Bool("dev", false, "development logging and server reflection")
	flag.Parse()

	var logger *zap.Logger
	if *dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}
	cfg.Dev = cfg.Dev || *dev
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		db          *postgres.DB
		checkpoints repository.CheckpointRepository
		audits      repository.AuditRepository
		secureStore securestore.Store = securestore.NewMemoryStore()
		lim         limiter.Limiter
	)
	limits := limiter.Settings{
		Window:   cfg.Dispatch.LimitWindow,
		MaxFails: cfg.Dispatch.LimitFails,
		BlockFor: cfg.Dispatch.LimitBlockFor,
	}
	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.Migrate {
			v, err := migrate.Up(ctx, cfg.Postgres.DSN, logger)
			if err != nil {
				logger.Fatal("migrate up", zap.Error(err))
			}
			logger.Info("schema ready", zap.Int64("version", v))
		}
		db, err = postgres.New(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Fatal("postgres", zap.Error(err))
		}
		defer db.Close()
		checkpoints = postgres.NewCheckpointRepo(db)
		audits = postgres.NewAuditRepo(db)
		secureStore = postgres.NewSecureStateRepo(db)
		lim = limiter.NewPG(db.Pool, limits)
	} else {
		logger.Warn("no postgres dsn, state is kept in memory")
		lim = limiter.NewMemory(limits, time.Now)
	}

	var capStore capability.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, capability snapshots stay local", zap.Error(err))
		} else {
			capStore = capability.NewRedisStore(rdb)
		}
	}

	// Relays
	pool := relay.NewPool(nil, logger.Named("relay"))
	defer pool.Close()
	signerKey := cfg.Relays.SignerKey
	if signerKey == "" {
		signerKey = nostr.GeneratePrivateKey()
		logger.Warn("no signer key configured, using an ephemeral key")
	}
	publisher, err := relay.NewPublisher(signerKey, pool, cfg.Relays.URLs, logger.Named("relay"))
	if err != nil {
		logger.Fatal("publisher", zap.Error(err))
	}
	source := relay.NewSource(pool, logger.Named("relay"))

	capSvc := capability.NewService(
		relay.NewInfoProber(nil, cfg.Relays.SignerNip44),
		capability.NewCache(cfg.Capability.TTL, cfg.Capability.StaleTTL),
		capStore,
		logger.Named("capability"),
	)

	// Keys and rotation
	m := metrics.New()
	registry := keys.NewRegistry(unixNow)
	sched := rotation.NewScheduler(cfg.Rotation.Policy, unixNow)
	if err := m.RegisterLifecycle(sched, registry); err != nil {
		logger.Fatal("register lifecycle metrics", zap.Error(err))
	}
	rotator := rotation.SessionRotator{Keys: registry, TTL: cfg.Keys.SessionTTL, Now: unixNow}
	runner := rotation.NewRunner(sched, rotation.RotatorFunc(func(ctx context.Context, job model.RotationJob) error {
		err := rotator.Rotate(ctx, job)
		m.Rotation(err == nil)
		return err
	}), cfg.Rotation.Interval, logger.Named("rotation"))

	var vault *service.KeyVault
	if cfg.Store.RootKey != "" {
		vault = service.NewKeyVault(secureStore, securestore.NewCodec([]byte(cfg.Store.RootKey)), registry, publisher.PublicKey(), logger.Named("vault"), unixNow)
		restored, err := vault.Restore(ctx)
		if err != nil {
			logger.Warn("key vault restore failed", zap.Error(err))
		}
		logger.Info("key vault restored", zap.Int("groups", len(restored)))
	} else {
		logger.Warn("no secure store root key, key state is not persisted")
	}

	// Transport
	baseline := transport.NewBaselineAdapter(publisher, cfg.Relays.URLs)
	secure := transport.NewSecureAdapter(transport.SecureConfig{
		Keys:      registry,
		Rotation:  sched,
		Publisher: publisher,
		Source:    source,
		Self:      publisher.PublicKey(),
		Relays:    cfg.Relays.URLs,
		KeyTTL:    cfg.Keys.SessionTTL,
		Log:       logger.Named("secure"),
	})
	secure.SetPilotEnabled(cfg.Dispatch.SecurePilot)
	dispatcher := transport.NewDispatcher(logger.Named("dispatch"), baseline, secure, baseline)
	dispatcher.AddObserver(m)

	// Services
	authority := service.NewAuthority(checkpoints, audits, service.AuthorityOptions{
		StaleAfter:   cfg.Projection.StaleAfter,
		RecoverStale: cfg.Projection.RecoverStale,
	}, logger.Named("projection"), unixNow)
	if n, err := authority.Warm(ctx); err != nil {
		logger.Warn("checkpoint warm-up failed", zap.Error(err))
	} else {
		logger.Info("checkpoints restored", zap.Int("groups", n))
	}
	commands := service.NewCommands(dispatcher, capSvc, lim, authority, service.CommandDefaults{
		Tier:          cfg.Tier(),
		AllowFallback: cfg.Dispatch.AllowFallback,
		Relays:        cfg.Relays.URLs,
	}, logger.Named("commands"), unixNow)
	remediation := service.NewRemediation(commands, registry, sched, authority, logger.Named("remediation"), unixNow)
	tokens := service.NewTokens([]byte(cfg.Auth.JWTKey), cfg.Auth.TokenTTL)

	// Background work
	if len(cfg.Relays.URLs) > 0 {
		events := make(chan model.Event, 256)
		sub, err := source.Subscribe(ctx, nostr.Filter{Kinds: groupkind.All()}, cfg.Relays.URLs, func(ev model.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.Warn("relay subscription failed", zap.Error(err))
		} else {
			defer sub.Unsubscribe()
			go ingestLoop(ctx, authority, m, events)
		}
	}
	go runner.Run(ctx)
	go persistLoop(ctx, cfg.Projection.CheckpointInterval, authority, vault, logger)

	// gRPC server
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.AuthUnary(tokens, "/grpc.health.v1.", "/grpc.reflection."),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLS.Cert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled")
	}
	s := grpc.NewServer(opts...)
	grpcserver.Register(s, grpcserver.New(grpcserver.Deps{
		Commands:    commands,
		Projections: authority,
		Prober:      capSvc,
		Remediation: remediation,
		Rotations:   sched,
		Keys:        registry,
		Relays:      cfg.Relays.URLs,
		StaleAfter:  cfg.Projection.StaleAfter,
		Now:         unixNow,
		OnCommand:   func(a model.Action, o feedback.Outcome) { m.Command(a, o) },
	}, logger.Named("grpc")))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	// Ops HTTP
	hopts := httpserver.Options{Registry: m.Registry, Groups: authority, Verifier: tokens, Log: logger.Named("http")}
	if db != nil {
		hopts.DB = db
	}
	if cfg.HTTPAddr != "" {
		hsrv := httpserver.New(cfg.HTTPAddr, httpserver.NewRouter(hopts), logger.Named("http"))
		go func() {
			if err := hsrv.Run(ctx); err != nil {
				logger.Error("http server", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	persist(flushCtx, authority, vault, logger)
	logger.Info("shutdown complete")
}

const ingestBatch = 64

// ingestLoop folds relay events into the authority in small batches.
func ingestLoop(ctx context.Context, a *service.Authority, m *metrics.Metrics, events <-chan model.Event) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	batch := make([]model.Event, 0, ingestBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		res := a.Ingest(ctx, batch)
		m.Ingested(res.Applied, res.Dropped)
		batch = batch[:0]
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-events:
			batch = append(batch, ev)
			if len(batch) >= ingestBatch {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}

func persistLoop(ctx context.Context, every time.Duration, a *service.Authority, v *service.KeyVault, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			persist(ctx, a, v, log)
		}
	}
}

func persist(ctx context.Context, a *service.Authority, v *service.KeyVault, log *zap.Logger) {
	if err := a.CheckpointAll(ctx); err != nil {
		log.Warn("checkpoint failed", zap.Error(err))
	}
	if v == nil {
		return
	}
	if _, err := v.Save(ctx); err != nil {
		log.Warn("key vault save failed", zap.Error(err))
	}
}
