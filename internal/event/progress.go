package event

// ProgressWriter is an io.Writer that counts bytes and emits FileProgress
// events each time another 10% of Total has been written. It never fails,
// so it can sit inside an io.MultiWriter next to the real destination.
type ProgressWriter struct {
	emit    Emitter
	base    Event
	written int64
	lastPct int
}

// NewProgressWriter returns a writer reporting progress for base.Path.
// base.Total must be the number of bytes that will be written.
func NewProgressWriter(emit Emitter, base Event) *ProgressWriter {
	base.Type = FileProgress
	return &ProgressWriter{emit: emit, base: base}
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.emit == nil || p.base.Total <= 0 {
		return len(b), nil
	}
	pct := int(p.written * 100 / p.base.Total)
	pct -= pct % 10
	if pct > 100 {
		pct = 100
	}
	if pct > p.lastPct {
		p.lastPct = pct
		ev := p.base
		ev.Size = p.written
		ev.Percent = pct
		p.emit.Emit(ev)
	}
	return len(b), nil
}

// Written returns the number of bytes seen so far.
func (p *ProgressWriter) Written() int64 { return p.written }
