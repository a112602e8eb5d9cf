package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrJamesThe3rd/haven/internal/config"
	"github.com/MrJamesThe3rd/haven/internal/database"
	"github.com/MrJamesThe3rd/haven/internal/escrow"
	escrowStore "github.com/MrJamesThe3rd/haven/internal/escrow/store"
	havenHttp "github.com/MrJamesThe3rd/haven/internal/http"
	listingHandler "github.com/MrJamesThe3rd/haven/internal/http/listing"
	statementHandler "github.com/MrJamesThe3rd/haven/internal/http/statement"
	walletHandler "github.com/MrJamesThe3rd/haven/internal/http/wallet"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	ledgerStore "github.com/MrJamesThe3rd/haven/internal/ledger/store"
	"github.com/MrJamesThe3rd/haven/internal/listing"
	listingStore "github.com/MrJamesThe3rd/haven/internal/listing/store"
	"github.com/MrJamesThe3rd/haven/internal/notify"
	"github.com/MrJamesThe3rd/haven/internal/notify/redisstream"
	"github.com/MrJamesThe3rd/haven/internal/statement"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	slog.SetDefault(logger)

	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	db, err := database.New(cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.DB.Name); err != nil {
		return err
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		sink = redisstream.New(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen)
	}

	dispatcher := notify.NewDispatcher(sink, logger,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithRetry(cfg.Notify.MaxAttempts, cfg.Notify.BaseDelay),
	)

	var (
		registry      = listing.NewRegistry(listingStore.New(db))
		walletService = ledger.NewService(ledgerStore.New(db), dispatcher, logger)
		escrowService = escrow.NewService(registry, walletService, escrowStore.New(db), dispatcher, logger, escrow.Config{
			ApproveTimeout: cfg.Escrow.ApproveTimeout,
			RentalPeriod:   cfg.Escrow.RentalPeriod,
		})
		reconciler = ledger.NewReconciler(walletService, cfg.Ledger.ReconcileInterval, logger)
	)

	router := havenHttp.New(havenHttp.Options{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		Timeout:        cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	},
		listingHandler.NewHandler(escrowService, walletService),
		walletHandler.NewHandler(walletService),
		statementHandler.NewHandler(statement.NewService(walletService)),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, logger, srv, ln, cfg.Server.ShutdownTimeout, dispatcher, reconciler)
}

type runner interface {
	Run(ctx context.Context) error
}

// serve runs srv on ln until ctx is done. The dispatcher is stopped only after the
// server has shut down, so requests finishing during shutdown still get their
// notifications drained.
func serve(
	ctx context.Context,
	logger *slog.Logger,
	srv *http.Server,
	ln net.Listener,
	shutdownTimeout time.Duration,
	dispatcher runner,
	reconciler runner,
) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", "addr", ln.Addr().String())

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		defer stopDispatch()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("shutting down server")

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	return g.Wait()
}
