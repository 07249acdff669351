// launching the server, device client, kafka, redis
package appServer

import (
	"context"
	"crypto/tls"
	"log"

	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/espdisplay/config"
	"github.com/ds124wfegd/espdisplay/internal/database"
	"github.com/ds124wfegd/espdisplay/internal/pkg/device"
	"github.com/ds124wfegd/espdisplay/internal/pkg/kafka"
	"github.com/ds124wfegd/espdisplay/internal/pkg/prefs"
	"github.com/ds124wfegd/espdisplay/internal/pkg/processor"
	"github.com/ds124wfegd/espdisplay/internal/pkg/storage"
	"github.com/ds124wfegd/espdisplay/internal/service"
	"github.com/ds124wfegd/espdisplay/internal/transport"
	"github.com/ds124wfegd/espdisplay/internal/worker"
	"github.com/gin-gonic/gin"

	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},           // ban on outdate TLS certificate
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags), // os.Stderr can be replaced with ElsasticSearch in the feature
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// App holds everything NewServer starts and has to stop again.
type App struct {
	Router     *gin.Engine
	Flows      service.FlowService
	Store      prefs.AddressStore
	Producer   kafka.Producer
	Pool       *worker.Pool
	Dispatcher *worker.Dispatcher
}

// NewApp wires the services of cfg together without starting the HTTP server.
func NewApp(ctx context.Context, cfg *config.Config) *App {
	store := prefs.NewAddressStore(ctx, prefs.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
	}, cfg.Device.Address())

	httpClient := device.NewHTTPClient(cfg.Device.DialTimeout, cfg.Device.RequestTimeout)
	limits := service.SlotLimits{Screens: cfg.Device.Screens, SlotsPerScreen: cfg.Device.SlotsPerScreen}

	fileStorage := storage.NewFileStorage(cfg.Storage.BasePath)
	flowRepo := database.NewFlowRepository(fileStorage)
	kafkaProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Timeout: cfg.Kafka.Timeout,
	})
	pool := worker.NewPool(cfg.Worker.MaxConcurrent)
	dispatcher := worker.NewDispatcher(cfg.Worker.DispatcherBuffer)

	flowService := service.NewFlowService(service.FlowDeps{
		Profiles:     cfg.Profiles,
		Limits:       limits,
		Processor:    processor.NewImageProcessor(cfg.Transcode.MaxSourcePixels),
		Orchestrator: service.NewUploadOrchestrator(httpClient, store, cfg.Device.RequestTimeout),
		Repo:         flowRepo,
		Producer:     kafkaProducer,
		Pool:         pool,
		Dispatcher:   dispatcher,
	})
	deviceService := service.NewDeviceService(device.NewClient(httpClient, store), store, limits)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.InitRoutes(
		transport.NewFlowHandler(flowService, cfg.Server.MaxUploadBytes),
		transport.NewDeviceHandler(deviceService),
	)

	return &App{
		Router:     router,
		Flows:      flowService,
		Store:      store,
		Producer:   kafkaProducer,
		Pool:       pool,
		Dispatcher: dispatcher,
	}
}

// Close stops the flows first so no task publishes into a closed producer.
func (a *App) Close(ctx context.Context) {
	if err := a.Flows.Close(ctx); err != nil {
		logrus.Errorf("error occured on closing flows: %s", err.Error())
	}
	if err := a.Pool.Shutdown(ctx); err != nil {
		logrus.Errorf("error occured on stopping workers: %s", err.Error())
	}
	a.Dispatcher.Close()
	if err := a.Producer.Close(); err != nil {
		logrus.Errorf("error occured on closing kafka producer: %s", err.Error())
	}
	if err := a.Store.Close(); err != nil {
		logrus.Errorf("error occured on closing address store: %s", err.Error())
	}
}

// SetupLogging applies the log section of cfg to the standard logrus logger.
func SetupLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(new(logrus.JSONFormatter))
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func NewServer(cfg *config.Config) {

	SetupLogging(cfg.Log)

	app := NewApp(context.Background(), cfg)

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, app.Router); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"version": cfg.Server.AppVersion,
		"device":  cfg.Device.Address().BaseURL(),
	}).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}
	app.Close(ctx)
}
