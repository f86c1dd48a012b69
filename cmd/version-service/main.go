package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/apitize/version-service/internal/config"
	"github.com/apitize/version-service/internal/deploy"
	"github.com/apitize/version-service/internal/events"
	"github.com/apitize/version-service/internal/httpserver"
	"github.com/apitize/version-service/internal/service"
	"github.com/apitize/version-service/internal/specstore"
	"github.com/apitize/version-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	st := store.NewPGStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var specs specstore.SpecStore
	if cfg.SpecBucket != "" {
		s3Store, err := specstore.NewS3SpecStore(ctx, cfg.SpecBucket, cfg.SpecPrefix)
		if err != nil {
			log.Fatalf("spec store init: %v", err)
		}
		specs = s3Store
	} else {
		log.Printf("[startup] APITIZE_SPEC_BUCKET unset, spec documents held in memory")
		specs = specstore.NewMemorySpecStore()
	}

	var deployClient deploy.Client = deploy.NoopClient{}
	if cfg.DeployURL != "" {
		httpClient, err := deploy.NewHTTPClient(deploy.HTTPClientConfig{
			BaseURL: cfg.DeployURL,
			Retries: 2,
		})
		if err != nil {
			log.Fatalf("deploy client init: %v", err)
		}
		deployClient = httpClient
	}

	svc := service.New(st, specs, deployClient)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(events.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		dispatcher := events.NewDispatcher(st, producer, events.DispatcherConfig{
			BatchSize:    cfg.EventBatchSize,
			PollInterval: cfg.EventPollInterval,
		})
		go func() {
			if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("event dispatcher stopped: %v", err)
			}
		}()
	} else {
		log.Printf("[startup] APITIZE_KAFKA_BROKERS unset, domain events stay in the outbox")
	}

	server := httpserver.New(cfg, svc)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("version service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
