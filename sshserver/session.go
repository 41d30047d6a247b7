package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/term"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/cmdclient"
	"pkt.systems/muxrun/internal/eventbus"
	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// runCommand runs line as a command client and returns the exit code for the
// SSH session.
func (s *Server) runCommand(ctx context.Context, sess gliderssh.Session, line string) int {
	return cmdclient.Run(ctx, s.Host, s.EventBus, core.ClientOptions{
		Name: sess.User(),
		TTY:  "ssh:" + sess.RemoteAddr().String(),
	}, line, sess, sess.Stderr())
}

// runAttached serves an interactive client until the connection drops or the
// user detaches.
func (s *Server) runAttached(ctx context.Context, sess gliderssh.Session, pty gliderssh.Pty, winCh <-chan gliderssh.Window) {
	log := pslog.Ctx(ctx)
	client, err := s.Host.Connect(ctx, core.ClientOptions{
		Kind: core.ClientAttached,
		Name: sess.User(),
		TTY:  "ssh:" + sess.RemoteAddr().String(),
		Term: pty.Term,
	})
	if err != nil {
		log.Warn("ssh client rejected", "err", err)
		_, _ = fmt.Fprintf(sess.Stderr(), "%v\n", err)
		return
	}
	id := client.ID()
	log = log.With("client", id)
	ctx = logx.ContextWithClientLogger(ctx, log, id)
	sub := s.EventBus.Subscribe(id)
	defer sub.Close()
	defer s.Host.Disconnect(logx.Detach(ctx), id)

	terminal := term.NewTerminal(sess, s.Prompt)
	_ = terminal.SetSize(pty.Window.Width, pty.Window.Height)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case win, ok := <-winCh:
				if !ok {
					return
				}
				_ = terminal.SetSize(win.Width, win.Height)
			case <-done:
				return
			}
		}
	}()
	go pumpEvents(terminal, sub, done)

	for {
		line, err := terminal.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("ssh read failed", "err", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit", "detach", "detach-client":
			return
		}
		if _, err := s.Host.Execute(ctx, client, line); err != nil {
			_, _ = fmt.Fprintf(terminal, "%v\n", err)
		}
	}
}

// pumpEvents prints notifications above the prompt. The terminal redraws the
// line being edited after each write.
func pumpEvents(w io.Writer, sub *eventbus.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-sub.Ready():
			for _, event := range sub.Take() {
				if event.Kind == schema.ClientEventExit {
					continue
				}
				_, _ = io.WriteString(w, event.Text+"\n")
			}
		case <-done:
			return
		}
	}
}
