package handoff

import (
	"fmt"
	"os"
	"time"
)

// Poller reads the hand-off file whenever its modification time moves. A
// file that fails to parse is treated as no new data: the previous export is
// kept and the same file is retried on the next poll.
type Poller struct {
	path   string
	format string

	lastMod time.Time
	last    Export
	loaded  bool
}

func NewPoller(path, format string) *Poller {
	return &Poller{path: path, format: format}
}

// Poll returns the latest good export and whether it changed since the
// previous call. The returned error describes a failed read or parse; the
// export is still the last good one.
func (p *Poller) Poll() (Export, bool, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return p.last, false, err
	}
	mod := info.ModTime()
	if p.loaded && !mod.After(p.lastMod) {
		return p.last, false, nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return p.last, false, err
	}
	exp, err := Decode(p.format, data)
	if err != nil {
		return p.last, false, fmt.Errorf("parse %s: %w", p.path, err)
	}
	p.last = exp
	p.lastMod = mod
	p.loaded = true
	return exp, true, nil
}

// Loaded reports whether any export has been read successfully.
func (p *Poller) Loaded() bool {
	return p.loaded
}
