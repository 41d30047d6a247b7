package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/muxrun"
	"pkt.systems/muxrun/internal/appconfig"
	"pkt.systems/muxrun/sshserver"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var disableAuditTrails bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the muxrun SSH server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			if addr != "" {
				cfg.SSH.Addr = addr
			}
			serverCfg := toServerConfig(cfg)
			logger.Info("scheduler backend selected", "backend", cfg.Scheduler.Backend, "shell", cfg.Scheduler.Shell)
			server, err := muxrun.New(serverCfg, muxrun.ServerDeps{Logger: logger}, muxrun.WithSSH())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), serverCfg.Scheduler.ShutdownTimeout+5*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	cmd.Flags().StringVar(&addr, "addr", "", "override ssh.addr")
	return cmd
}

func toServerConfig(cfg appconfig.Config) muxrun.ServerConfig {
	return muxrun.ServerConfig{
		Service: cfg.ServiceConfig(),
		Scheduler: muxrun.SchedulerConfig{
			Backend:         cfg.Scheduler.Backend,
			Shell:           cfg.Scheduler.Shell,
			Dir:             cfg.Scheduler.Dir,
			Env:             cfg.Scheduler.Env,
			ShutdownTimeout: time.Duration(cfg.Scheduler.ShutdownTimeoutSeconds) * time.Second,
		},
		SSH: sshserver.Config{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Prompt:             cfg.SSH.Prompt,
		},
		DisableAuditLogging: cfg.Logging.DisableAuditTrails,
	}
}
