package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrej220/devbackup/internal/api"
	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/internal/serverutil"
	"github.com/andrej220/devbackup/pkg/events"
)

func newServeCmd() *cobra.Command {
	var queue bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger API",
		Long: `Serve the HTTP trigger API.

POST /v1/runs starts a run in this process. With --queue the request is put
on the Kafka request topic instead, for a "devbackupd consume" to pick up.
Requests need an HS256 bearer token signed with server.jwtSecret; the
secret is re-read when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.live.Get()
			ctx := lg.Attach(cmd.Context(), a.log)

			deps := api.Deps{
				Submitter: a.service,
				Canceller: a.service,
				Secret:    func() []byte { return []byte(a.live.Get().Server.JWTSecret) },
				Logger:    a.log,
			}
			if queue {
				if !cfg.Kafka.Enabled() || cfg.Kafka.RequestTopic == "" {
					return errQueueNotConfigured
				}
				pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.RequestTopic, a.log)
				defer pub.Close()
				deps.Submitter, deps.Canceller = pub, nil
			}

			srvCfg := serverutil.DefaultServerConfig()
			srvCfg.Addr = cfg.Server.Addr
			srvCfg.Logger = a.log
			if cfg.Server.ReadTimeout > 0 {
				srvCfg.ReadTimeout = cfg.Server.ReadTimeout
			}
			if cfg.Server.WriteTimeout > 0 {
				srvCfg.WriteTimeout = cfg.Server.WriteTimeout
			}
			if cfg.Server.ShutdownTimeout > 0 {
				srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.live.Watch(gctx) })
			g.Go(func() error { return serverutil.RunServer(gctx, nil, api.NewRouter(deps), srvCfg) })
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "queue requests to Kafka instead of running them")
	return cmd
}
