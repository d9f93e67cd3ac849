package cmd

import (
	"context"
	"errors"
	"github.com/abecu-hub/go-bus/pkg/servicebus/retrypolicy"
	"github.com/abecu-hub/go-bus/pkg/servicebus/timeout"
	"github.com/abecu-hub/go-bus/pkg/servicebus/transport/rabbitmq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"net/http"
	"time"
)

func newSchedulerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Forward due timeouts to their recipients",
	}
	cmd.AddCommand(newSchedulerRunCommand(a))
	return cmd
}

func newSchedulerRunCommand(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the timeout store and send due messages over RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.timeoutManager()
			if err != nil {
				return err
			}
			transport := rabbitmq.Create(a.cfg.Transport.AmqpURL, a.cfg.Transport.InputQueue,
				rabbitmq.Durable(a.cfg.Transport.Durable),
				rabbitmq.WithLogger(a.logger))
			defer transport.Close()

			scheduler := timeout.CreateScheduler(manager, transport,
				timeout.PollInterval(a.cfg.Timeouts.PollInterval),
				timeout.DefaultRecipient(a.cfg.Timeouts.DefaultRecipient),
				timeout.RetrySend(3, retrypolicy.Backoff(100*time.Millisecond)),
				timeout.SchedulerLogger(a.logger))

			ctx := cmd.Context()
			if metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server stopped", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			a.logger.Info("scheduler started",
				zap.String("path", a.cfg.Timeouts.Path),
				zap.Duration("pollInterval", a.cfg.Timeouts.PollInterval))
			return scheduler.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
