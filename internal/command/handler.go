package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/internal/runshell"
	"pkt.systems/muxrun/schema"
)

// HandlerConfig configures command behavior.
type HandlerConfig struct {
	DisableAuditLogging bool
}

// Scheduler starts jobs and lists the running ones.
type Scheduler interface {
	runshell.Scheduler
	Jobs() []schema.JobSnapshot
}

// Handler runs command lines against the registry. It must be used from the
// event loop.
type Handler struct {
	reg    *core.Registry
	sched  Scheduler
	runner *runshell.Runner
	cfg    HandlerConfig
}

// NewHandler constructs a command handler.
func NewHandler(reg *core.Registry, sched Scheduler, cfg HandlerConfig) (*Handler, error) {
	if reg == nil {
		return nil, errors.New("command registry is required")
	}
	if sched == nil {
		return nil, errors.New("command scheduler is required")
	}
	bridge := NewBridge(reg)
	runner, err := runshell.NewRunner(runshell.Deps{Registry: bridge, Expander: bridge, Scheduler: sched})
	if err != nil {
		return nil, err
	}
	return &Handler{reg: reg, sched: sched, runner: runner, cfg: cfg}, nil
}

// Handle parses and runs one command line for client. Output is printed to
// the client; errors are returned for the caller to report.
func (h *Handler) Handle(ctx context.Context, client *core.Client, input string) (schema.CommandResult, error) {
	if ctx == nil {
		return schema.ResultNormal, errors.New("missing context")
	}
	if client == nil {
		return schema.ResultNormal, fmt.Errorf("%w: missing client", schema.ErrInvalidRequest)
	}
	baseLog := logx.WithClient(ctx, client.ID())
	ctx = logx.ContextWithClientLogger(ctx, baseLog, client.ID())
	cmd, err := Parse(input)
	if err != nil {
		baseLog.Warn("command rejected", "err", err)
		return schema.ResultNormal, err
	}
	if !h.cfg.DisableAuditLogging {
		baseLog.Debug("audit command", "command_type", "mux", "command", cmd.Raw)
	}
	log := baseLog.With("command", cmd.Name, "args", len(cmd.Args))
	log.Info("command request")
	var result schema.CommandResult
	switch cmd.Name {
	case "run-shell", "run":
		result, err = h.handleRunShell(ctx, client, cmd)
	case "new-session", "new":
		err = h.handleNewSession(client, cmd)
	case "kill-session":
		err = h.handleKillSession(client, cmd)
	case "list-sessions", "ls":
		err = h.handleListSessions(client, cmd)
	case "split-window", "new-pane":
		err = h.handleNewPane(client, cmd)
	case "kill-pane":
		err = h.handleKillPane(client, cmd)
	case "select-pane":
		err = h.handleSelectPane(client, cmd)
	case "list-panes":
		err = h.handleListPanes(client, cmd)
	case "capture-pane":
		err = h.handleCapturePane(client, cmd)
	case "list-jobs", "jobs":
		err = h.handleListJobs(client, cmd)
	case "list-clients":
		err = h.handleListClients(client, cmd)
	default:
		err = fmt.Errorf("%w: %s", schema.ErrUnknownCommand, cmd.Name)
	}
	if err != nil {
		log.Warn("command failed", "err", err)
		return schema.ResultNormal, err
	}
	log.Debug("command done", "result", result)
	return result, nil
}

func (h *Handler) handleRunShell(ctx context.Context, client *core.Client, cmd Command) (schema.CommandResult, error) {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target pane")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return schema.ResultNormal, err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return schema.ResultNormal, fmt.Errorf("%w: usage: run-shell [-t target-pane] shell-command", schema.ErrInvalidRequest)
	}
	return h.runner.Submit(ctx, runshell.Request{
		Issuer:  client,
		Current: client,
		Target:  *target,
		Command: fs.Arg(0),
	})
}

func (h *Handler) handleNewSession(client *core.Client, cmd Command) error {
	fs := newFlagSet(cmd.Name)
	name := fs.StringP("session-name", "s", "", "session name")
	detached := fs.BoolP("detached", "d", false, "do not make the new session current")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return err
	}
	session, err := h.reg.NewSession(*name)
	if err != nil {
		return err
	}
	if *detached {
		return nil
	}
	return h.reg.AttachClient(client, session)
}

func (h *Handler) handleKillSession(client *core.Client, cmd Command) error {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target session")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return err
	}
	session, err := h.reg.ResolveSession(*target, client)
	if err != nil {
		return err
	}
	return h.reg.KillSession(session.ID())
}

func (h *Handler) handleListSessions(client *core.Client, cmd Command) error {
	if err := parseFlags(newFlagSet(cmd.Name), cmd.Args); err != nil {
		return err
	}
	for _, session := range h.reg.Sessions() {
		snap := session.Snapshot(h.reg.AttachedCount(session.ID()))
		line := fmt.Sprintf("%s: %d panes (created %s)", snap.Name, snap.Panes, snap.Created.Format(time.ANSIC))
		if snap.Attached > 0 {
			line += " (attached)"
		}
		client.Print(line)
	}
	return nil
}

func (h *Handler) handleNewPane(client *core.Client, cmd Command) error {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target pane")
	title := fs.StringP("title", "T", "", "pane title")
	printID := fs.BoolP("print", "P", false, "print the new pane id")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return err
	}
	from, err := h.reg.ResolvePane(*target, client)
	if err != nil {
		return err
	}
	pane := h.reg.NewPane(from.Session(), *title)
	if *printID {
		client.Print(pane.ID().String())
	}
	return nil
}

func (h *Handler) handleKillPane(client *core.Client, cmd Command) error {
	pane, err := h.targetPane(client, cmd)
	if err != nil {
		return err
	}
	return h.reg.KillPane(pane.ID())
}

func (h *Handler) handleSelectPane(client *core.Client, cmd Command) error {
	pane, err := h.targetPane(client, cmd)
	if err != nil {
		return err
	}
	return h.reg.SelectPane(pane.ID())
}

func (h *Handler) handleListPanes(client *core.Client, cmd Command) error {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target session")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return err
	}
	session, err := h.reg.ResolveSession(*target, client)
	if err != nil {
		return err
	}
	for _, pane := range session.Panes() {
		snap := pane.Snapshot()
		line := fmt.Sprintf("%d: %s", snap.Index, snap.ID)
		if snap.Title != "" {
			line += fmt.Sprintf(" %q", snap.Title)
		}
		if snap.Mode == schema.PaneModeCapture {
			line += fmt.Sprintf(" [capture %d lines]", snap.Lines)
		}
		if snap.Active {
			line += " (active)"
		}
		client.Print(line)
	}
	return nil
}

func (h *Handler) handleCapturePane(client *core.Client, cmd Command) error {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target pane")
	exit := fs.BoolP("exit", "x", false, "leave capture mode afterwards")
	height := fs.IntP("lines", "N", 0, "viewport height (0 for every line)")
	scroll := fs.IntP("scroll", "S", 0, "scroll the view up by n lines (down when negative)")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return err
	}
	if *height < 0 {
		return fmt.Errorf("%w: negative line count %d", schema.ErrInvalidRequest, *height)
	}
	pane, err := h.reg.ResolvePane(*target, client)
	if err != nil {
		return err
	}
	if *scroll != 0 {
		pane.ScrollCapture(*scroll, *height)
	}
	for _, line := range pane.Capture(*height).Lines {
		client.Print(line)
	}
	if *exit {
		pane.ExitMode()
	}
	return nil
}

func (h *Handler) handleListJobs(client *core.Client, cmd Command) error {
	if err := parseFlags(newFlagSet(cmd.Name), cmd.Args); err != nil {
		return err
	}
	for _, job := range h.sched.Jobs() {
		client.Print(fmt.Sprintf("%s %s pid=%d '%s'", job.ID, job.State, job.Pid, job.Command))
	}
	return nil
}

func (h *Handler) handleListClients(client *core.Client, cmd Command) error {
	if err := parseFlags(newFlagSet(cmd.Name), cmd.Args); err != nil {
		return err
	}
	for _, c := range h.reg.Clients() {
		snap := c.Snapshot()
		session := "-"
		if current, ok := c.Session(); ok {
			session = current.Name()
		}
		kind := "attached"
		if snap.Command {
			kind = "command"
		}
		line := fmt.Sprintf("%s: %s [%s] refs=%d", snap.Name, session, kind, snap.References)
		if c.Terminated() {
			line += " (lost)"
		}
		client.Print(line)
	}
	return nil
}

func (h *Handler) targetPane(client *core.Client, cmd Command) (*core.Pane, error) {
	fs := newFlagSet(cmd.Name)
	target := fs.StringP("target", "t", "", "target pane")
	if err := parseFlags(fs, cmd.Args); err != nil {
		return nil, err
	}
	return h.reg.ResolvePane(*target, client)
}
