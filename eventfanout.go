package muxrun

import (
	"pkt.systems/muxrun/core"
	"pkt.systems/muxrun/schema"
)

// notifierFanout delivers each client event to every sink in order.
type notifierFanout struct {
	sinks []core.Notifier
}

func (f notifierFanout) Notify(event schema.ClientEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.Notify(event)
	}
}
