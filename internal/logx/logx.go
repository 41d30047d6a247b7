package logx

import (
	"context"

	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	clientKey contextKey = iota
	paneKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithClient annotates the logger with the client id if present.
func WithClient(ctx context.Context, clientID schema.ClientID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if clientID != "" {
		if current, ok := ctx.Value(clientKey).(schema.ClientID); ok && current == clientID {
			return log
		}
		log = log.With("client", clientID)
	}
	return log
}

// WithClientPane annotates the logger with client and pane identifiers.
func WithClientPane(ctx context.Context, clientID schema.ClientID, paneID schema.PaneID, hasPane bool) pslog.Logger {
	log := WithClient(ctx, clientID)
	if hasPane {
		if current, ok := ctx.Value(paneKey).(schema.PaneID); ok && current == paneID {
			return log
		}
		log = log.With("pane", paneID.String())
	}
	return log
}

// WithSession annotates the logger with a session id and name.
func WithSession(log pslog.Logger, id schema.SessionID, name string) pslog.Logger {
	log = log.With("session", id.String())
	if name != "" {
		log = log.With("session_name", name)
	}
	return log
}

// WithJob annotates the logger with a job id when available.
func WithJob(log pslog.Logger, jobID schema.JobID) pslog.Logger {
	if jobID != "" {
		log = log.With("job", jobID)
	}
	return log
}

// ContextWithClient stores the client marker on the context for log de-duplication.
func ContextWithClient(ctx context.Context, clientID schema.ClientID) context.Context {
	if ctx == nil || clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKey, clientID)
}

// ContextWithPane stores the pane marker on the context for log de-duplication.
func ContextWithPane(ctx context.Context, paneID schema.PaneID) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, paneKey, paneID)
}

// ContextWithClientLogger attaches the logger and client marker to the context.
func ContextWithClientLogger(ctx context.Context, log pslog.Logger, clientID schema.ClientID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithClient(ctx, clientID)
}

// CopyContextFields copies client/pane markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if client, ok := src.Value(clientKey).(schema.ClientID); ok && client != "" {
		dst = ContextWithClient(dst, client)
	}
	if pane, ok := src.Value(paneKey).(schema.PaneID); ok {
		dst = ContextWithPane(dst, pane)
	}
	return dst
}

// Detach returns a background context carrying the logger and markers of ctx.
// Work that outlives the request (jobs, teardown) logs through it.
func Detach(ctx context.Context) context.Context {
	base := context.Background()
	if ctx == nil {
		return base
	}
	return CopyContextFields(pslog.ContextWithLogger(base, pslog.Ctx(ctx)), ctx)
}
