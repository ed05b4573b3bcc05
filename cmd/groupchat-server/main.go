// Command groupchat-server runs the group chat relay until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"groupchat/internal/config"
	"groupchat/internal/logger"
	"groupchat/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "groupchat-server",
		Short:   "Group chat relay server",
		Version: config.ServerVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a JSON config file")

	return cmd
}

func run(configPath string) error {
	cfg := config.DefaultServerConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadServerConfig(configPath); err != nil {
			return err
		}
	}

	log := logger.NewZerologLogger(zerolog.New(os.Stdout), "groupchat-server", zerolog.InfoLevel)

	srv := server.New(cfg, log)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	return g.Wait()
}
