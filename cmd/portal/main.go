package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jogardn/pharmacy-portal/internal/api"
	"github.com/jogardn/pharmacy-portal/internal/auth"
	"github.com/jogardn/pharmacy-portal/internal/circuitbreaker"
	"github.com/jogardn/pharmacy-portal/internal/config"
	"github.com/jogardn/pharmacy-portal/internal/events"
	"github.com/jogardn/pharmacy-portal/internal/expiry"
	"github.com/jogardn/pharmacy-portal/internal/orders"
	"github.com/jogardn/pharmacy-portal/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "portal",
		Usage: "pharmacy portal order backend",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrateDatabase,
			},
			{
				Name:  "sweep",
				Usage: "cancel expired pharmacy proposals in-process",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "only count candidates"},
				},
				Action: sweep,
			},
			{
				Name:  "trigger",
				Usage: "call the expiry endpoint of a running API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Value: "http://localhost:8080", EnvVars: []string{"PORTAL_API_URL"}},
					&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"PORTAL_API_TOKEN"}},
					&cli.BoolFlag{Name: "dry-run"},
				},
				Action: trigger,
			},
			{
				Name:  "token",
				Usage: "issue a signed access token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "role", Value: auth.RoleSystem},
					&cli.StringFlag{Name: "pharmacy"},
				},
				Action: issueToken,
			},
			{
				Name:   "dlq-replay",
				Usage:  "republish dead-lettered order events",
				Action: replayDLQ,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.NewLogger(), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serve(c *cli.Context) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	var toClose closers
	defer toClose.Close(logger)

	gateway, err := openGateway(ctx, cfg, logger, &toClose)
	if err != nil {
		return err
	}
	breakers := circuitbreaker.NewManager(logger)
	publisher := newPublisher(cfg, breakers, logger, &toClose)
	limiter, err := newLimiter(cfg, logger, &toClose)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Gateway:  gateway,
		Sweeper:  newSweeper(cfg, gateway, publisher, logger),
		Orders:   orders.NewService(gateway, publisher, cfg.ProposalTTL, logger),
		Signer:   auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL),
		Limiter:  limiter,
		Breakers: breakers,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("Starting pharmacy portal")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
			return err
		}
		logger.Info("Server gracefully stopped")
		return nil
	})
	return g.Wait()
}

func migrateDatabase(c *cli.Context) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrations need the postgres store")
	}

	db, err := store.OpenPostgres(c.Context, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.DB, logger); err != nil {
		return err
	}
	version, dirty, err := store.SchemaVersion(db.DB)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("Schema version")
	return nil
}

func sweep(c *cli.Context) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	var toClose closers
	defer toClose.Close(logger)

	gateway, err := openGateway(ctx, cfg, logger, &toClose)
	if err != nil {
		return err
	}
	publisher := newPublisher(cfg, circuitbreaker.NewManager(logger), logger, &toClose)

	result := newSweeper(cfg, gateway, publisher, logger).Run(ctx, expiry.Options{DryRun: c.Bool("dry-run")})
	if err := printJSON(result); err != nil {
		return err
	}
	if result.Failed() {
		return cli.Exit(result.Error+" (request "+result.RequestID+")", 1)
	}
	return nil
}

func trigger(c *cli.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	client := orders.NewExpiryClient(c.String("url"), c.String("token"), logger)
	result, err := client.TriggerSweep(c.Context, c.Bool("dry-run"))
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if result.Failed() {
		return cli.Exit(result.Error+" (request "+result.RequestID+")", 1)
	}
	return nil
}

func issueToken(c *cli.Context) error {
	cfg, _, err := load()
	if err != nil {
		return err
	}
	token, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL).Issue(c.String("user"), c.String("role"), c.String("pharmacy"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func replayDLQ(c *cli.Context) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	replayer, err := events.NewDLQReplayer(cfg.KafkaBrokers, cfg.EventsDLQTopic, cfg.EventsTopic, logger)
	if err != nil {
		return err
	}
	defer replayer.Close()

	logger.WithField("topic", cfg.EventsDLQTopic).Info("Replaying dead-lettered order events")
	return replayer.Run(ctx)
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
