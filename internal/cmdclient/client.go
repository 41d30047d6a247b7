// Package cmdclient runs one command line as a short-lived command client and
// relays the notifications it receives to a pair of writers.
package cmdclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/internal/eventbus"
	"pkt.systems/muxrun/internal/logx"
	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// Host runs client operations against the multiplexer. Implementations hop
// onto the event loop for every call.
type Host interface {
	Connect(ctx context.Context, opts core.ClientOptions) (*core.Client, error)
	Execute(ctx context.Context, client *core.Client, line string) (schema.CommandResult, error)
	Disconnect(ctx context.Context, id schema.ClientID)
}

// Run connects a command client, runs line and waits until the client is
// allowed to exit when the command yields. Print and info notifications go to
// stdout, errors to stderr. The returned code is 1 when the command or any
// notification reported an error.
func Run(ctx context.Context, host Host, bus *eventbus.Bus, opts core.ClientOptions, line string, stdout, stderr io.Writer) int {
	if host == nil || bus == nil {
		_, _ = io.WriteString(stderr, "command client is not configured\n")
		return 1
	}
	log := pslog.Ctx(ctx)
	opts.Kind = core.ClientCommand
	client, err := host.Connect(ctx, opts)
	if err != nil {
		log.Warn("command client rejected", "err", err)
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	id := client.ID()
	ctx = logx.ContextWithClientLogger(ctx, log.With("client", id), id)
	sub := bus.Subscribe(id)
	defer sub.Close()
	defer host.Disconnect(logx.Detach(ctx), id)

	out := &output{stdout: stdout, stderr: stderr}
	result, err := host.Execute(ctx, client, line)
	if err != nil {
		out.writeAll(sub.Take())
		if !errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
		}
		return 1
	}
	if result != schema.ResultYield {
		out.writeAll(sub.Take())
		return out.code()
	}
	for {
		select {
		case <-sub.Ready():
			if out.writeAll(sub.Take()) {
				return out.code()
			}
		case <-client.Exited():
			// The exit event is queued before Exited closes.
			out.writeAll(sub.Take())
			return out.code()
		case <-ctx.Done():
			pslog.Ctx(ctx).Info("command client aborted", "err", ctx.Err())
			return 1
		}
	}
}

type output struct {
	stdout io.Writer
	stderr io.Writer
	failed bool
}

func (o *output) write(event schema.ClientEvent) {
	switch event.Kind {
	case schema.ClientEventPrint, schema.ClientEventInfo:
		_, _ = io.WriteString(o.stdout, event.Text+"\n")
	case schema.ClientEventError:
		o.failed = true
		_, _ = io.WriteString(o.stderr, event.Text+"\n")
	}
}

// writeAll writes events in order and reports whether an exit event was
// among them.
func (o *output) writeAll(events []schema.ClientEvent) bool {
	exited := false
	for _, event := range events {
		if event.Kind == schema.ClientEventExit {
			exited = true
			continue
		}
		o.write(event)
	}
	return exited
}

func (o *output) code() int {
	if o.failed {
		return 1
	}
	return 0
}
