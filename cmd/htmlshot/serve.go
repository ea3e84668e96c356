package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	htmlshot "github.com/porticus-lab/go-html-shot"
	"github.com/porticus-lab/go-html-shot/internal/config"
	"github.com/porticus-lab/go-html-shot/internal/server"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve captures over HTTP",
		Long: `Serve captures over HTTP.

Examples:
  # Start with defaults (port 3000, token "token")
  htmlshot serve

  # Start with a config file; max_contexts is reloaded when the file changes
  htmlshot serve --config htmlshot.yaml

  # Capture through the path API
  curl http://localhost:3000/token/0/fff/iPhone%20X/https://example.com > shot.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if root.logLevel != "" {
				cfg.LogLevel = root.logLevel
			}
			log, err := newLogger(cfg.LogLevel, root.dev)
			if err != nil {
				return err
			}
			defer log.Sync()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			shooter := htmlshot.NewShooter(shooterOptions(cfg, log, reg)...)
			defer func() {
				if err := shooter.Close(); err != nil {
					log.Error("closing browser", zap.Error(err))
				}
			}()

			srv, err := server.New(shooter, server.Options{
				Token:        cfg.Token,
				MaxBodyBytes: cfg.MaxBodyBytes,
				Logger:       log,
				Registry:     reg,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfgFile != "" {
				go func() {
					err := config.Watch(ctx, cfgFile, config.DefaultDebounce, log, func(c *config.Config) {
						shooter.Configure(c.MaxContexts)
						log.Info("max contexts updated", zap.Int("max_contexts", c.MaxContexts))
					})
					if err != nil {
						log.Warn("config watch stopped", zap.Error(err))
					}
				}()
			}

			log.Info("starting htmlshot",
				zap.String("version", version),
				zap.String("addr", cfg.Addr),
				zap.Int("max_contexts", cfg.MaxContexts),
			)
			if err := srv.Run(ctx, cfg.Addr); err != nil {
				return err
			}
			log.Info("htmlshot stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file")
	return cmd
}

// shooterOptions translates cfg into Shooter options.
func shooterOptions(cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) []htmlshot.Option {
	opts := []htmlshot.Option{
		htmlshot.WithChromePath(cfg.ChromePath),
		htmlshot.WithRemoteURL(cfg.RemoteURL),
		htmlshot.WithTimeout(cfg.Timeout),
		htmlshot.WithWaitTimeout(cfg.WaitTimeout),
		htmlshot.WithMaxContexts(cfg.MaxContexts),
		htmlshot.WithMaxWidth(cfg.MaxWidth),
		htmlshot.WithLogger(log),
	}
	if reg != nil {
		opts = append(opts, htmlshot.WithRegisterer(reg))
	}
	if cfg.NoSandbox {
		opts = append(opts, htmlshot.WithNoSandbox())
	}
	if cfg.AutoDownload {
		opts = append(opts, htmlshot.WithAutoDownload())
	}
	if cfg.Stealth {
		opts = append(opts, htmlshot.WithStealth())
	}
	return opts
}
