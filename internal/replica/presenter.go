package replica

import (
	"context"
	"sync"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/telemetry"
)

// LogPresenter reports surface changes through a logger and remembers the
// surface currently shown.
type LogPresenter struct {
	logger telemetry.Logger

	mu      sync.Mutex
	visible activity.Tag
}

func NewLogPresenter(logger telemetry.Logger) *LogPresenter {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Show(_ context.Context, surface activity.Tag, kind string) {
	p.mu.Lock()
	p.visible = surface
	p.mu.Unlock()
	p.logger.Printf("[ui] show %s for %s", surface, kind)
}

func (p *LogPresenter) Hide(_ context.Context, surface activity.Tag, kind string) {
	p.mu.Lock()
	if p.visible == surface {
		p.visible = activity.None
	}
	p.mu.Unlock()
	p.logger.Printf("[ui] hide %s for %s", surface, kind)
}

// Visible returns the surface currently shown.
func (p *LogPresenter) Visible() activity.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}
