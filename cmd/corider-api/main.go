// Entry point: loads config, applies migrations, wires module services and
// serves the API until interrupted.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"corider/internal/config"
	httptransport "corider/internal/http"
	"corider/internal/infra"
	"corider/internal/logging"
	"corider/internal/maps"
	"corider/internal/modules/availability"
	"corider/internal/modules/carpool"
	"corider/internal/modules/dispatch"
	"corider/internal/modules/fleet"
	"corider/internal/modules/pricing"
	"corider/internal/modules/ride"
	"corider/internal/notify"
	"corider/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := applyMigrations(ctx, cfg.DB.DSN); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	natsConn, err := infra.NewNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal("connect to nats", zap.Error(err))
	}
	defer natsConn.Drain()
	notifier := notify.NewNATSNotifier(natsConn)

	geocoder, err := maps.NewGeocoder(cfg.Maps.APIKey)
	if err != nil {
		logger.Fatal("init geocoder", zap.Error(err))
	}

	pricingStore := pricing.NewStore(dbPool)
	pricingSvc := pricing.NewService(pricingStore, cfg.Pricing)

	fleetStore := fleet.NewStore(dbPool)

	availStore := availability.NewStore(redisClient, cfg.Dispatch.FreshnessTTL)
	availSvc := availability.NewService(availStore, fleetStore, cfg.Dispatch.FreshnessTTL)

	rideStore := ride.NewStore(dbPool, fleetStore)
	rideSvc := ride.NewService(rideStore, fleetStore, pricingSvc, notifier, cfg.Dispatch.AvgSpeedKmh, logger)

	dispatchSvc := dispatch.NewService(availSvc, notifier, cfg.Dispatch, logger)
	rideSvc.SetDispatcher(dispatchSvc)
	rideSvc.SetAvailabilityMarker(availSvc)
	if geocoder != nil {
		rideSvc.SetAddressResolver(geocoder)
	}

	carpoolStore := carpool.NewStore(dbPool)
	carpoolSvc := carpool.NewService(carpoolStore, pricingSvc, notifier, cfg.Carpool, cfg.Dispatch.AvgSpeedKmh, logger)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Ride:         rideSvc,
		Carpool:      carpoolSvc,
		Availability: availSvc,
		Fleet:        fleetStore,
		Pricing:      pricingSvc,
		SpeedKmh:     cfg.Dispatch.AvgSpeedKmh,
		Log:          logger,
	})

	go carpoolSvc.RunExpirySweeper(ctx, time.Minute)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}

func applyMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}
