// Package sshserver exposes the multiplexer over SSH. A session with a pty
// becomes an attached client with a line editor; a session with a command
// becomes a one-shot command client that exits once its command allows it.
package sshserver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/muxrun/internal/cmdclient"
	"pkt.systems/muxrun/internal/eventbus"
	"pkt.systems/pslog"
)

// Server exposes muxrun over SSH.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Prompt             string
	Listener           net.Listener
	Host               cmdclient.Host
	EventBus           *eventbus.Bus
	logger             pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Prompt == "" {
		s.Prompt = DefaultPrompt
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Host == nil {
		return errors.New("ssh host is required")
	}
	if s.EventBus == nil {
		return errors.New("ssh event bus is required")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if s.authorizedKeysEnabled() {
		server.PublicKeyHandler = s.handlePublicKey
	} else {
		s.logger.Warn("ssh authentication disabled", "reason", "no authorized keys file", "path", s.AuthorizedKeysPath)
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh server listening", "addr", s.Addr, "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) authorizedKeysEnabled() bool {
	if strings.TrimSpace(s.AuthorizedKeysPath) == "" {
		return false
	}
	_, err := os.Stat(s.AuthorizedKeysPath)
	return !errors.Is(err, fs.ErrNotExist)
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	if sshSession := ctx.SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	keys, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return false
	}
	if !keyAuthorized(keys, key) {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	remote := sess.RemoteAddr().String()
	log := s.logger.With("user", sess.User(), "remote", remote)
	if sshSession := sess.Context().SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ctx := pslog.ContextWithLogger(sess.Context(), log)

	if line := strings.TrimSpace(sess.RawCommand()); line != "" {
		code := s.runCommand(ctx, sess, line)
		log.Info("ssh command session closed", "exit", code)
		_ = sess.Exit(code)
		return
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess.Stderr(), "pty required\n")
		_ = sess.Exit(1)
		return
	}
	log.Info("ssh session opened", "term", pty.Term)
	s.runAttached(ctx, sess, pty, winCh)
	log.Info("ssh session closed", "term", pty.Term)
}
