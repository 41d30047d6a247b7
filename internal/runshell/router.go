package runshell

// route delivers one line. A live target pane captures it; otherwise it goes
// to the issuer, or the viewer when there is no issuer.
func (r *JobRecord) route(line string) {
	if r.ctx.hasPane {
		if surface, ok := r.reg.Surface(r.ctx.pane); ok {
			if surface.EnterCaptureMode() {
				r.log.Debug("runshell pane entered capture mode", "pane", r.ctx.pane.String())
			}
			surface.AppendCaptureLine(line)
			return
		}
	}
	r.notify(line, false)
}

// notify sends text straight to an actor, bypassing the pane.
func (r *JobRecord) notify(text string, info bool) {
	actor := r.ctx.issuer.get()
	if actor == nil {
		actor = r.ctx.viewer.get()
	}
	if actor == nil {
		r.log.Info("runshell output without client", "text", text)
		return
	}
	if info {
		actor.Info(text)
		return
	}
	actor.Print(text)
}
