// Package server wires the lease engine together: storage, Redis reclaim
// state, the encrypted secret store, notifications, the HTTP intake, the
// operator gRPC API and the background reclaimer.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/leasekeeper/internal/cryptox"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/config"
	"github.com/dmitrijs2005/leasekeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/leasekeeper/internal/server/notify"
	"github.com/dmitrijs2005/leasekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/leasekeeper/internal/server/rotation"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/dmitrijs2005/leasekeeper/internal/server/sweepstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/leasekeeper/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	hub      *notify.Hub
	registry *prometheus.Registry

	leases    *services.LeaseService
	ledger    *services.LedgerService
	reclaimer *services.Reclaimer
	exporter  *services.ExportService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(c.LogBackend, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	cipher, err := cryptox.NewCipher([]byte(c.MasterKey))
	if err != nil {
		return nil, err
	}

	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	tracker := sweepstate.NewTracker(rdb, sweepstate.Policy{
		Base:        c.ReclaimBackoffBase,
		Max:         c.ReclaimBackoffMax,
		MaxAttempts: c.MaxReclaimAttempts,
		LockTTL:     c.LockTTL,
	})
	if err := tracker.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis init error: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hc := &http.Client{}
	retries := notify.DefaultRetryPolicy
	retries.Attempts = uint64(max(c.NotifyRetries, 1))

	hub := notify.NewHub(notify.DefaultQueueSize, logger.With("module", "notify"), m)
	if c.TelegramToken != "" {
		hub.Connect(
			notify.NewTelegramSender(c.TelegramAPIBase, c.TelegramToken, hc, retries),
			notify.NewMarketplaceSender(c.MarketplaceAPIBase, c.MarketplaceToken, hc, retries),
			c.OperatorChatIDs,
		)
	} else {
		logger.Warn(ctx, "telegram token not set, notifications disabled")
	}

	rotator := rotation.NewSteamRotator(rotation.NewHTTPClient(c.ProviderAPIBase, hc), c.RotationTimeout, logger)

	ledger := services.NewLedgerService(db, rm, c, hub, logger, m)
	leases := services.NewLeaseService(db, rm, ledger, cipher, rotator, hub, logger, m)
	reclaimer := services.NewReclaimer(leases, tracker, hub, c.SweepInterval, c.SweepConcurrency, logger, m)

	s3c, err := services.NewS3Client(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	exporter := services.NewExportService(db, rm, s3c, c.S3Bucket, logger)

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		redis:     rdb,
		hub:       hub,
		registry:  reg,
		leases:    leases,
		ledger:    ledger,
		reclaimer: reclaimer,
		exporter:  exporter,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.leases, app.reclaimer, app.ledger, app.exporter, gs.AuthConfig{
		JWTSecret:    []byte(app.config.JWTSecret),
		PasswordHash: app.config.OperatorPasswordHash,
		TokenTTL:     app.config.AccessTokenValidityDuration,
	})

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.HTTPAddr, app.logger, app.leases, app.ledger, app.registry)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a termination signal arrives or a listener fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	// the hub outlives ctx so that shutdown messages are still sent; Stop drains it
	app.hub.Start(context.WithoutCancel(ctx))

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.reclaimer.Run(ctx)
	}()

	wg.Wait()

	app.hub.Stop()
	if err := app.redis.Close(); err != nil {
		app.logger.Warn(ctx, "redis close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
	memguard.Purge()
	app.logger.Info(ctx, "App stopped")
}
