package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conductorone/baton-session-auth/pkg/config"
	"github.com/conductorone/baton-session-auth/pkg/logging"
	"github.com/conductorone/baton-session-auth/pkg/server"
	"github.com/conductorone/baton-session-auth/pkg/uotel"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the identity service behind session token authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, err = logging.Init(ctx, append(cfg.LoggingOptions(),
				logging.WithInitialFields(map[string]interface{}{"version": version}),
			)...)
			if err != nil {
				return err
			}
			l := ctxzap.Extract(ctx)

			ctx, tel, err := uotel.Init(ctx, cfg.TelemetryOptions(version)...)
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Close(context.WithoutCancel(ctx)); err != nil {
					l.Error("failed to shut down telemetry", zap.Error(err))
				}
			}()

			s, err := server.New(ctx, cfg, server.WithMeterProvider(tel.MeterProvider()))
			if err != nil {
				return err
			}

			if err := s.Run(ctx); err != nil {
				l.Error("server exited with error", zap.Error(err))
				return err
			}
			return nil
		},
	}

	config.ServeFlags(cmd.Flags())

	return cmd
}
