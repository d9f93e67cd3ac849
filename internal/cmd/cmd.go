package cmd

import (
	"context"
	"fmt"
	"github.com/abecu-hub/go-bus/internal/config"
	"github.com/abecu-hub/go-bus/internal/logger"
	"github.com/abecu-hub/go-bus/pkg/servicebus/metrics"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga"
	sagafs "github.com/abecu-hub/go-bus/pkg/servicebus/saga/filesystem"
	"github.com/abecu-hub/go-bus/pkg/servicebus/saga/mongodb"
	timeoutfs "github.com/abecu-hub/go-bus/pkg/servicebus/timeout/filesystem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// app carries what the subcommands share once the configuration has been loaded.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Collector
}

func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gobus",
		Short:         "gobus inspects saga and timeout storage and forwards due timeouts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a config file")

	root.AddCommand(newSagaCommand(a), newTimeoutCommand(a), newSchedulerCommand(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.registry = prometheus.NewRegistry()
	collector, err := metrics.New(a.registry)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = log
	a.metrics = collector
	return nil
}

// sagaStore opens MongoDB when a URI is configured and the file system store otherwise.
func (a *app) sagaStore(ctx context.Context) (saga.Store, func(), error) {
	if a.cfg.Sagas.MongoURI == "" {
		store, err := sagafs.CreateStore(a.cfg.Sagas.Path, sagafs.WithLogger(a.logger), sagafs.WithMetrics(a.metrics))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Sagas.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	closeClient := func() { _ = client.Disconnect(context.Background()) }
	store, err := mongodb.CreateMongoStore(client, a.cfg.Sagas.Database, a.cfg.Sagas.Collection, mongodb.WithLogger(a.logger))
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	return store, closeClient, nil
}

func (a *app) timeoutManager() (*timeoutfs.Manager, error) {
	return timeoutfs.CreateManager(a.cfg.Timeouts.Path,
		timeoutfs.WithLockTimeout(a.cfg.Timeouts.LockTimeout),
		timeoutfs.WithRetryDelay(a.cfg.Timeouts.RetryDelay),
		timeoutfs.WithLogger(a.logger),
		timeoutfs.WithMetrics(a.metrics))
}
