package main

import (
	"context"
	"fmt"

	"github.com/normanking/talkingavatar/internal/render"
	"github.com/normanking/talkingavatar/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd(configFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser chat UI",
		Long:  "Serve the chat page and API. The avatar is animated in-process and its pose is streamed to the page.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			loop, err := a.newLoop(render.NewHeadless())
			if err != nil {
				return fmt.Errorf("failed to start avatar loop: %w", err)
			}
			a.watchConfig(loop)

			go a.avatar.Run(ctx, a.cfg.Render.FPS)
			go func() {
				if err := loop.Run(ctx); err != nil {
					a.log.Error().Err(err).Msg("Avatar loop stopped")
				}
			}()
			if err := a.avatar.Reload(ctx); err != nil {
				a.log.Warn().Err(err).Msg("Initial model load failed")
			}

			fmt.Println(successStyle.Render("✓ Serving on http://" + a.cfg.Server.Addr))
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	srv := server.New(a.cfg.Server, server.Deps{
		Chat:     a.chatUI,
		Avatar:   a.avatar,
		Settings: a.settings,
		Speech:   a.speech,
		Logs:     a.logs,
	}, a.bus, a.log)
	return srv.Start(ctx)
}
