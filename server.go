// Package muxrun composes the multiplexer core, the job scheduler and the SSH
// front-end into one server.
package muxrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/appconfig"
	"pkt.systems/muxrun/internal/cmdclient"
	"pkt.systems/muxrun/internal/command"
	"pkt.systems/muxrun/internal/eventbus"
	"pkt.systems/muxrun/internal/eventloop"
	"pkt.systems/muxrun/internal/job"
	"pkt.systems/muxrun/schema"
	"pkt.systems/muxrun/sshserver"
	"pkt.systems/pslog"
)

// Server runs the multiplexer and its enabled front-ends.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Exec runs one command line as a command client, writing its
	// notifications to stdout and stderr, and returns the client's exit code.
	Exec(ctx context.Context, line string, stdout, stderr io.Writer) int
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service             schema.ServiceConfig
	Scheduler           SchedulerConfig
	SSH                 sshserver.Config
	DisableAuditLogging bool
}

// SchedulerConfig selects how run-shell commands are executed.
type SchedulerConfig struct {
	Backend         string
	Shell           string
	Dir             string
	Env             map[string]string
	ShutdownTimeout time.Duration
}

// ServerDeps captures optional dependencies.
type ServerDeps struct {
	Logger pslog.Logger
	// Backend overrides the backend selected by SchedulerConfig.
	Backend job.Backend
	// SSHListener is used instead of listening on SSH.Addr.
	SSHListener net.Listener
	// Hostname overrides os.Hostname for format expansion.
	Hostname string
	// Notifier also receives every client event.
	Notifier core.Notifier
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableSSH bool
}

// WithSSH enables the SSH server.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

const defaultShutdownTimeout = 10 * time.Second

// New constructs a composable muxrun server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized
	if cfg.Scheduler.ShutdownTimeout <= 0 {
		cfg.Scheduler.ShutdownTimeout = defaultShutdownTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	backend := deps.Backend
	if backend == nil {
		backend, err = newBackend(cfg.Scheduler)
		if err != nil {
			return nil, err
		}
	}

	loop := eventloop.New(logger)
	bus := eventbus.New(logger)
	var notifier core.Notifier = bus
	if deps.Notifier != nil {
		notifier = notifierFanout{sinks: []core.Notifier{bus, deps.Notifier}}
	}
	reg, err := core.NewRegistry(cfg.Service, core.RegistryDeps{
		Notifier: notifier,
		Logger:   logger,
		Hostname: deps.Hostname,
	})
	if err != nil {
		return nil, err
	}
	sched, err := job.NewScheduler(loop, backend, logger)
	if err != nil {
		return nil, err
	}
	handler, err := command.NewHandler(reg, sched, command.HandlerConfig{
		DisableAuditLogging: cfg.DisableAuditLogging || cfg.Service.DisableAuditLogging,
	})
	if err != nil {
		return nil, err
	}

	srv := &compositeServer{
		cfg:     cfg,
		options: options,
		loop:    loop,
		bus:     bus,
		reg:     reg,
		sched:   sched,
		handler: handler,
		backend: backend.Name(),
	}
	if options.enableSSH {
		srv.sshSrv = &sshserver.Server{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Prompt:             cfg.SSH.Prompt,
			Listener:           deps.SSHListener,
			Host:               srv,
			EventBus:           bus,
		}
	}
	return srv, nil
}

func newBackend(cfg SchedulerConfig) (job.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", appconfig.BackendExec:
		backend := job.NewExecBackend(cfg.Shell, cfg.Env)
		backend.Dir = cfg.Dir
		return backend, nil
	case appconfig.BackendVirtual:
		backend := job.NewVirtualBackend(cfg.Env)
		backend.Dir = cfg.Dir
		return backend, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheduler backend %q", schema.ErrInvalidRequest, cfg.Backend)
	}
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	loop    *eventloop.Loop
	bus     *eventbus.Bus
	reg     *core.Registry
	sched   *job.Scheduler
	handler *command.Handler
	sshSrv  *sshserver.Server
	backend string
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"ssh", s.options.enableSSH,
		"ssh_addr", s.cfg.SSH.Addr,
		"backend", s.backend,
		"default_session", s.cfg.Service.DefaultSession,
	)
	go func() {
		if err := s.loop.Run(s.ctx); err != nil {
			log.Error("event loop failed", "err", err)
			s.errCh <- err
		}
	}()
	if s.options.enableSSH && s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop terminates running jobs, lets their teardown run on the loop and then
// stops the loop.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), s.cfg.Scheduler.ShutdownTimeout)
	defer closeCancel()
	if err := s.sched.Close(closeCtx); err != nil {
		log.Warn("server job shutdown incomplete", "err", err)
	} else {
		log.Info("server job shutdown ok")
	}
	// Teardown callbacks posted by finished jobs run before the loop stops.
	if err := s.loop.Do(closeCtx, func() {}); err != nil {
		log.Debug("server loop flush skipped", "err", err)
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.loop.Stopped():
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) Exec(ctx context.Context, line string, stdout, stderr io.Writer) int {
	return cmdclient.Run(ctx, s, s.bus, core.ClientOptions{Name: "exec"}, line, stdout, stderr)
}

// Connect registers a client. Command clients act on the default session, or
// the first session when the default one does not exist.
func (s *compositeServer) Connect(ctx context.Context, opts core.ClientOptions) (*core.Client, error) {
	var (
		client *core.Client
		err    error
	)
	doErr := s.loop.Do(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		client, err = s.reg.NewClient(opts)
		if err != nil || opts.Kind != core.ClientCommand {
			return
		}
		if session := s.commandSession(); session != nil {
			err = s.reg.AttachClient(client, session)
		}
	})
	if doErr != nil {
		// Do may give up after the closure ran. Queued behind it, this drops
		// a client nobody will disconnect.
		s.loop.Post(func() {
			if client != nil {
				s.reg.LoseClient(client.ID())
			}
		})
		if errors.Is(doErr, schema.ErrLoopStopped) {
			return nil, doErr
		}
		return nil, fmt.Errorf("connect client: %w", doErr)
	}
	return client, err
}

func (s *compositeServer) commandSession() *core.Session {
	sessions := s.reg.Sessions()
	for _, session := range sessions {
		if session.Name() == s.cfg.Service.DefaultSession {
			return session
		}
	}
	if len(sessions) > 0 {
		return sessions[0]
	}
	return nil
}

func (s *compositeServer) Execute(ctx context.Context, client *core.Client, line string) (schema.CommandResult, error) {
	var (
		result schema.CommandResult
		err    error
	)
	doErr := s.loop.Do(ctx, func() {
		result, err = s.handler.Handle(ctx, client, line)
	})
	if doErr != nil {
		return schema.ResultNormal, fmt.Errorf("%w: %v", schema.ErrLoopStopped, doErr)
	}
	return result, err
}

func (s *compositeServer) Disconnect(ctx context.Context, id schema.ClientID) {
	if err := s.loop.Do(ctx, func() { s.reg.LoseClient(id) }); err != nil {
		pslog.Ctx(ctx).Debug("client disconnect skipped", "client", id, "err", err)
	}
}
