package main

import (
	"fmt"

	"github.com/normanking/talkingavatar/internal/config"
	"github.com/spf13/cobra"
)

func viewCmd(configFile *string) *cobra.Command {
	var (
		serve    bool
		backend  string
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "view [model]",
		Short: "Show the avatar in a window",
		Long: `Open a window showing the avatar. Without a model argument the selected
library avatar (or avatar.model_url) is shown. The chat server runs
alongside unless --serve=false.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, *configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if backend != "" {
				a.cfg.Render.Backend = backend
			}
			if headless {
				a.cfg.Render.Backend = config.BackendHeadless
			}

			// The loop runs on this goroutine, which init locked to the
			// main thread.
			loop, err := a.newLoop(a.selectBackend())
			if err != nil {
				return fmt.Errorf("failed to start renderer: %w", err)
			}
			a.watchConfig(loop)

			if len(args) == 1 {
				err = loop.Load(args[0])
			} else {
				err = a.avatar.Reload(ctx)
			}
			if err != nil {
				a.log.Warn().Err(err).Msg("Initial model load failed")
			}

			go a.avatar.Run(ctx, a.cfg.Render.FPS)
			if serve {
				go func() {
					if err := a.serve(ctx); err != nil {
						a.log.Error().Err(err).Msg("Server stopped")
						cancel()
					}
				}()
				fmt.Println(dimStyle.Render("Chat at http://" + a.cfg.Server.Addr))
			}
			return loop.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", true, "also serve the browser chat UI")
	cmd.Flags().StringVar(&backend, "backend", "", "render backend: auto, opengl or headless")
	cmd.Flags().BoolVar(&headless, "headless", false, "shorthand for --backend headless")
	return cmd
}
