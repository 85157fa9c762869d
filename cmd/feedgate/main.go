// Command feedgate opens one exchange feed session per configured account and
// publishes the normalized events onto the in-process event bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/session"
	"github.com/coachpo/feedgate/internal/feed/wire"
	"github.com/coachpo/feedgate/internal/infra/bus/eventbus"
	"github.com/coachpo/feedgate/internal/infra/config"
	"github.com/coachpo/feedgate/internal/infra/logger"
	httpserver "github.com/coachpo/feedgate/internal/infra/server/http"
	"github.com/coachpo/feedgate/internal/infra/telemetry"
	"github.com/coachpo/feedgate/internal/infra/transport/wstransport"
)

const (
	defaultConfigPath        = "config/app.yaml"
	shutdownTimeout          = 30 * time.Second
	controlShutdownTimeout   = 5 * time.Second
	controlReadHeaderTimeout = 5 * time.Second
	sessionsShutdownTimeout  = 10 * time.Second
	lifecycleShutdownTimeout = 5 * time.Second
	dataBusShutdownTimeout   = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	log := logger.Global()
	if err := config.LoadDotEnv(); err != nil {
		log.WithComponent("main").WithError(err).Warn("error loading .env file")
	}

	appCfg, err := config.Load(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		log.WithComponent("main").WithError(err).Fatal("load config")
	}
	if err := log.Configure(loggerOptions(appCfg.Logging)); err != nil {
		log.WithComponent("main").WithError(err).Fatal("configure logger")
	}
	mainLog := log.WithComponent("main")
	mainLog.WithFields(logger.Fields{
		"environment": appCfg.Environment,
		"accounts":    len(appCfg.Accounts),
		"protocol":    appCfg.Transport.Protocol,
	}).Info("configuration initialised")

	telemetryProvider, err := initTelemetry(ctx, mainLog, appCfg)
	if err != nil {
		mainLog.WithError(err).Fatal("initialise telemetry")
	}

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{
		BufferSize:    appCfg.Eventbus.BufferSize,
		FanoutWorkers: appCfg.Eventbus.FanoutWorkers,
	}, eventbus.WithLogger(log.WithComponent("eventbus")), eventbus.WithMeter(telemetryProvider.Meter("eventbus")))

	metrics, err := telemetry.NewFeedMetrics(telemetryProvider.Meter("feed"), bus)
	if err != nil {
		mainLog.WithError(err).Fatal("register feed metrics")
	}

	var lifecycle conc.WaitGroup
	startConsumers(ctx, &lifecycle, bus, log.WithComponent("consumer"))

	opts, err := sessionOptions(appCfg, metrics, metrics, log.WithComponent("session"))
	if err != nil {
		mainLog.WithError(err).Fatal("build session options")
	}
	factory := wstransport.NewFactory(transportConfig(appCfg.Transport), wstransport.WithLogger(log.WithComponent("transport")))
	manager := session.NewManager(factory, opts...)

	if err := manager.OpenAll(appCfg.DomainAccounts()); err != nil {
		mainLog.WithError(err).Error("some accounts failed to open")
	}
	if err := subscribeConfigured(manager, appCfg.Accounts); err != nil {
		mainLog.WithError(err).Error("some subscriptions were rejected")
	}

	apiServer := buildAPIServer(appCfg.APIServer, appCfg.Environment, manager)
	if apiServer != nil {
		startAPIServer(&lifecycle, mainLog, apiServer)
		mainLog.WithField("addr", apiServer.Addr).Info("control API listening")
	}

	mainLog.Info("feedgate started; awaiting shutdown signal")
	<-ctx.Done()
	mainLog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, mainLog, gracefulShutdownConfig{
		server:     apiServer,
		sessions:   manager,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		dataBus:    bus,
		telemetry:  telemetryProvider,
	})
	mainLog.WithField("elapsed", time.Since(shutdownStart).String()).Info("shutdown completed")
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func loggerOptions(cfg config.LoggingConfig) logger.Options {
	return logger.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		MaxAgeDays: cfg.MaxAgeDays,
		MaxSizeMB:  cfg.MaxSizeMB,
	}
}

func initTelemetry(ctx context.Context, log *logger.Entry, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = appCfg.Telemetry.EnableMetrics
	telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	telemetryCfg.OTLPInsecure = appCfg.Telemetry.OTLPInsecure
	telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	telemetryCfg.MetricInterval = appCfg.Telemetry.MetricInterval
	telemetryCfg.Environment = string(appCfg.Environment)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		log.WithFields(logger.Fields{
			"endpoint": telemetryCfg.OTLPEndpoint,
			"service":  telemetryCfg.ServiceName,
		}).Info("telemetry initialized")
	} else {
		log.Info("telemetry disabled")
	}
	return provider, nil
}

func transportConfig(cfg config.TransportConfig) wstransport.Config {
	return wstransport.Config{
		Endpoint:     cfg.Endpoint,
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		DialTimeout:  cfg.DialTimeout,
		LoginTimeout: cfg.LoginTimeout,
		QueueSize:    cfg.QueueSize,
		SendRate:     cfg.SendRate,
		SendBurst:    cfg.SendBurst,
	}
}

func sessionOptions(appCfg config.AppConfig, sink feed.Sink, observer feed.Observer, log *logger.Entry) ([]session.Option, error) {
	protocol, err := wire.ParseProtocol(appCfg.Transport.Protocol)
	if err != nil {
		return nil, err
	}
	r := appCfg.Session.Reconnect
	return []session.Option{
		session.WithProtocol(protocol),
		session.WithMaxBatchSize(appCfg.Session.MaxBatchSize),
		session.WithPendingTimeout(appCfg.Session.PendingTimeout),
		session.WithBackOff(session.ExponentialBackOff(r.InitialInterval, r.MaxInterval, r.Multiplier, r.Jitter())),
		session.WithSink(sink),
		session.WithObserver(observer),
		session.WithLogger(log),
	}, nil
}

// subscribeConfigured registers every configured subscription of the enabled
// accounts. Sessions that are still connecting hold them until Open.
func subscribeConfigured(manager *session.Manager, accounts []config.AccountConfig) error {
	var errList []error
	for _, account := range accounts {
		if !account.IsEnabled() {
			continue
		}
		for _, sub := range account.Subscriptions {
			topic, err := schema.ParseTopic(sub.Topic)
			if err != nil {
				errList = append(errList, fmt.Errorf("account %s: %w", account.ID, err))
				continue
			}
			if _, err := manager.Subscribe(account.ID, topic, schema.Scope(sub.Scope)); err != nil {
				errList = append(errList, fmt.Errorf("account %s: %w", account.ID, err))
			}
		}
	}
	return errors.Join(errList...)
}

// startConsumers logs every canonical event type flowing through the bus.
func startConsumers(ctx context.Context, lifecycle *conc.WaitGroup, bus eventbus.Bus, log *logger.Entry) {
	for _, topic := range schema.Topics() {
		typ, _ := schema.EventTypeForTopic(topic)
		_, events, err := bus.Subscribe(ctx, typ)
		if err != nil {
			log.WithError(err).WithField("event_type", typ).Warn("consumer subscribe failed")
			continue
		}
		lifecycle.Go(func() {
			for evt := range events {
				log.WithFields(logger.Fields{
					"account":    evt.AccountID,
					"event_type": evt.Type,
					"action":     evt.Action,
					"payload":    evt.Payload,
				}).Debug("event")
			}
		})
	}
}

func buildAPIServer(cfg config.APIServerConfig, env config.Environment, sessions httpserver.Sessions) *http.Server {
	if cfg.Addr == "" {
		return nil
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(env, sessions),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, log *logger.Entry, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("control server")
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	sessions   *session.Manager
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	dataBus    eventbus.Bus
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, log *logger.Entry, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		stepLog := log.WithField("step", name)
		stepLog.Info("shutdown step started")
		if err := fn(stepCtx); err != nil {
			stepLog.WithError(err).Warn("shutdown step failed")
		} else {
			stepLog.Info("shutdown step completed")
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlShutdownTimeout, cfg.server.Shutdown)
	}

	if cfg.sessions != nil {
		shutdownStep("closing sessions", sessionsShutdownTimeout, cfg.sessions.CloseAll)
	}

	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.dataBus != nil {
		shutdownStep("closing data bus", dataBusShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.dataBus.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for consumers", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
}
