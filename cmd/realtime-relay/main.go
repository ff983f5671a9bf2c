package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jogardn/pharmacy-portal/internal/auth"
	"github.com/jogardn/pharmacy-portal/internal/config"
	"github.com/jogardn/pharmacy-portal/internal/events"
	"github.com/jogardn/pharmacy-portal/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL), logger)

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.RelayGroupID, cfg.EventsTopic, cfg.EventsDLQTopic,
		events.DefaultRetryPolicy(), hub, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics := consumer.Metrics()
		w.Header().Set("Content-Type", "application/json")
		writeHealth(w, hub.ClientCount(), metrics)
	}).Methods("GET")

	srv := &http.Server{
		Addr:        ":" + cfg.RelayPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.WithField("topic", cfg.EventsTopic).Info("Starting order event consumer")
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		logger.WithField("port", cfg.RelayPort).Info("Starting realtime relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Realtime relay stopped with error")
		os.Exit(1)
	}
	logger.Info("Realtime relay stopped")
}

func writeHealth(w http.ResponseWriter, clients int, metrics *events.ConsumerMetrics) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "healthy",
		"service":       "realtime-relay",
		"clients":       clients,
		"processed":     metrics.Processed.Load(),
		"succeeded":     metrics.Succeeded.Load(),
		"failed":        metrics.Failed.Load(),
		"retried":       metrics.Retried.Load(),
		"dead_lettered": metrics.DeadLettered.Load(),
	})
}
