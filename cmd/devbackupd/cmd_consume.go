package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/consumer"
	"github.com/andrej220/devbackup/pkg/models"
)

var errQueueNotConfigured = errors.New("kafka brokers and kafka.requestTopic must be configured")

func newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the requests arriving on the Kafka request topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.live.Get()
			if !cfg.Kafka.Enabled() || cfg.Kafka.RequestTopic == "" {
				return errQueueNotConfigured
			}
			ctx := lg.Attach(cmd.Context(), a.log)

			cons := consumer.NewConsumer[models.RunRequest](consumer.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.RequestTopic,
				GroupID: cfg.Kafka.Group,
			})
			defer cons.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.live.Watch(gctx) })
			g.Go(func() error {
				a.log.Info("consuming run requests", lg.String("topic", cfg.Kafka.RequestTopic))
				return cons.Run(gctx, func(ctx context.Context, req models.RunRequest) error {
					_, err := a.service.Submit(ctx, req)
					return err
				})
			})
			return g.Wait()
		},
	}
}
