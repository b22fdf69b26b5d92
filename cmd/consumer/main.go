// Command consumer runs the Queue Consumer: it drains the broker,
// normalizes events, and dispatches them to the downstream API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhaijames252-sketch/billbillbill/internal/apiclient"
	"github.com/bhaijames252-sketch/billbillbill/internal/config"
	"github.com/bhaijames252-sketch/billbillbill/internal/handlers"
	"github.com/bhaijames252-sketch/billbillbill/internal/logging"
	"github.com/bhaijames252-sketch/billbillbill/internal/models"
	"github.com/bhaijames252-sketch/billbillbill/internal/queue"
	"github.com/bhaijames252-sketch/billbillbill/pkg/version"
)

func main() {
	logger := logging.New("billing-consumer")
	config.Load(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("starting consumer")

	brokerCfg := config.LoadBrokerConfig()
	apiCfg := config.LoadAPIConfig()

	client := apiclient.New(apiclient.Config{
		BaseURL:      apiCfg.BaseURL,
		Timeout:      apiCfg.Timeout,
		RetryCount:   apiCfg.RetryCount,
		RetryDelay:   apiCfg.RetryDelay,
		MaxConns:     apiCfg.MaxConns,
		MaxKeepalive: apiCfg.MaxKeepalive,
	}, logger)

	handler := handlers.New(client, logger, config.SkipWallet())

	consumer := queue.New(brokerCfg, func(ctx context.Context, event models.Event) bool {
		return handler.Handle(ctx, event).Succeeded()
	}, true, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("failed to connect to broker")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining in-flight handlers")
		select {
		case <-runErr:
		case <-time.After(30 * time.Second):
			logger.Warn("timed out waiting for consumer to drain")
		}
	case err := <-runErr:
		if err != nil {
			logger.WithError(err).Error("consumer exited unexpectedly")
		}
	}

	logger.Info("consumer stopped")
}
