package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-gateway/internal/api"
	"order-gateway/internal/engine"
	"order-gateway/internal/monitor"
	"order-gateway/internal/publisher"
	"order-gateway/internal/venue"
	"order-gateway/pkg/config"
	"order-gateway/pkg/i18n"
	"order-gateway/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info(i18n.M().Starting)

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf(i18n.M().ConfigLoaded,
		cfg.HTTPAddr, engineCfg.SessionStart, engineCfg.SessionEnd, engineCfg.Location))

	var sim *venue.Simulator
	gw, err := engine.New(engineCfg,
		func(h venue.Handler) venue.Adapter {
			sim = venue.NewSimulator(cfg.Simulator(), h, log.Named("venue"))
			return sim
		},
		engine.WithLogger(log.Named("engine")),
		engine.WithDispatchInterval(cfg.DispatchInterval),
		engine.WithSessionTickInterval(cfg.SessionTickInterval),
		engine.WithExpirySweepInterval(cfg.ExpirySweepInterval),
	)
	if err != nil {
		return err
	}
	bus := gw.Bus()
	metrics := monitor.NewGatewayMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	mon := &monitor.Monitor{
		Bus:     bus,
		Metrics: metrics,
		Alerts:  monitor.LogSink{Log: log.Named("alerts")},
		Log:     log.Named("monitor"),
	}
	monDone := mon.Start(ctx)

	if cfg.KafkaEnabled() {
		pub := publisher.NewPublisher(publisher.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, log.Named("publisher"))
		log.Info(fmt.Sprintf(i18n.M().PublisherEnabled, cfg.KafkaTopic), zap.Strings("brokers", cfg.KafkaBrokers))
		g.Go(func() error { return pub.Run(ctx, bus) })
	}

	if cfg.JWTSecret != "" {
		log.Info(i18n.M().AuthEnabled)
	} else {
		log.Info(i18n.M().AuthDisabled)
	}

	server := api.NewServer(api.Options{
		Gateway:   gw,
		Bus:       bus,
		Metrics:   metrics,
		Log:       log.Named("api"),
		JWTSecret: cfg.JWTSecret,
		RateLimit: cfg.APIRateLimit,
		RateBurst: cfg.APIRateBurst,
	})

	g.Go(func() error { return gw.Run(ctx) })
	g.Go(func() error {
		log.Info(fmt.Sprintf(i18n.M().ServerListening, cfg.HTTPAddr))
		if err := server.Serve(ctx, cfg.HTTPAddr); err != nil {
			log.Error(fmt.Sprintf(i18n.M().APIServerError, err))
			return err
		}
		return nil
	})

	<-ctx.Done()
	log.Info(i18n.M().ShuttingDown)

	err = g.Wait()
	sim.Close()
	<-monDone
	log.Info(i18n.M().ShutdownComplete)
	return err
}
