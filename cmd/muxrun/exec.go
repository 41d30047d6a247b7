package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/muxrun"
	"pkt.systems/muxrun/internal/appconfig"
	"pkt.systems/pslog"
)

// exitCodeError carries a command client's exit code out of cobra.
type exitCodeError struct {
	line string
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("%q exited with status %d", e.line, e.code)
}

func newExecCmd() *cobra.Command {
	var cfgPath string
	var backend string
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "exec [flags] command-line...",
		Short: "Run command lines against an in-process server",
		Long: "Each argument is one command line, for example\n" +
			"  muxrun exec 'new-session -s work' 'run-shell -t work \"make test\"' 'capture-pane -t work'\n" +
			"Lines run in order. A run-shell line returns once its job has finished.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Scheduler.Backend = backend
			}
			serverCfg := toServerConfig(cfg)
			server, err := muxrun.New(serverCfg, muxrun.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}
			if err := server.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), serverCfg.Scheduler.ShutdownTimeout+5*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()

			var failed error
			for _, line := range args {
				code := server.Exec(cmd.Context(), line, cmd.OutOrStdout(), cmd.ErrOrStderr())
				if code == 0 {
					continue
				}
				if failed == nil {
					failed = exitCodeError{line: line, code: code}
				}
				if !keepGoing {
					break
				}
			}
			return failed
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&backend, "backend", "", "override scheduler.backend (exec or virtual)")
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "run remaining lines after a failure")
	return cmd
}
