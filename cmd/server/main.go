// Package main is the entry point of the application
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/room-server/pkg/bus"
	"github.com/tecu23/room-server/pkg/config"
	"github.com/tecu23/room-server/pkg/coordinator"
	"github.com/tecu23/room-server/pkg/events"
	"github.com/tecu23/room-server/pkg/metrics"
	"github.com/tecu23/room-server/pkg/rules"
	"github.com/tecu23/room-server/pkg/server"
)

// App encapsulates global dependencies
type application struct {
	Logger      *zap.Logger
	Config      *config.Config
	Publisher   *events.Publisher
	Metrics     *metrics.Metrics
	Coordinator *coordinator.Coordinator
	Relay       *bus.RedisRelay
	Hub         *server.Hub
	Server      *http.Server

	cancel    context.CancelFunc
	StartTime time.Time
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// no logger yet
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup error", zap.Error(err))
	}
	app.cancel = cancel

	err = app.serve()
	if err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

// newApplication wires every component. The coordinator is built here and injected into the hub.
func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	// Initialize event publisher
	publisher := events.NewPublisher()

	m := metrics.New()
	m.Attach(publisher)

	coord := coordinator.New(
		rules.NewChessEngine(logger),
		publisher,
		logger,
		coordinator.Options{Retention: cfg.RoomTTL, ReapInterval: cfg.ReapInterval},
	)

	app := &application{
		Logger:      logger,
		Config:      cfg,
		Publisher:   publisher,
		Metrics:     m,
		Coordinator: coord,
		StartTime:   time.Now(),
	}

	if cfg.RedisURL != "" {
		relay, err := bus.NewRedisRelay(ctx, cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			return nil, err
		}

		gateway := coord.Gateway()
		if err := relay.Subscribe(ctx, func(data []byte) { gateway.DeliverLocal(data) }); err != nil {
			_ = relay.Close()
			return nil, err
		}

		coord.SetRelay(relay)
		app.Relay = relay
	}

	coord.Start(ctx)
	app.Hub = server.NewHub(coord, cfg.SendBuffer, logger)

	return app, nil
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Shut down hub
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if app.cancel != nil {
		app.cancel()
	}
	app.Coordinator.Close()

	if app.Relay != nil {
		if err := app.Relay.Close(); err != nil {
			app.Logger.Warn("closing relay", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}
