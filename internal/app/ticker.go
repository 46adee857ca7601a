package app

import (
	"context"
	"time"

	"github.com/lotuspar/libblitz/internal/session"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
	"github.com/lotuspar/libblitz/logging/simulation"
)

// tickLoop drives the authoritative Simulate pass and reports ticks that
// take longer than the tick interval.
type tickLoop struct {
	controller *session.Controller
	interval   time.Duration
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	now        func() time.Time

	tick   uint64
	streak uint64
}

func (l *tickLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.step(ctx)
		}
	}
}

func (l *tickLoop) step(ctx context.Context) {
	start := l.now()
	l.controller.Tick(ctx)
	elapsed := l.now().Sub(start)

	l.tick++
	l.metrics.Add(telemetry.MetricTicks, 1)
	if elapsed <= l.interval {
		l.streak = 0
		return
	}

	l.streak++
	l.metrics.Add(telemetry.MetricTickOverruns, 1)
	var kind string
	if inst := l.controller.Current(); inst != nil {
		kind = inst.Kind
	}
	simulation.TickBudgetOverrun(ctx, l.publisher, l.controller.Session().ID(), simulation.TickBudgetOverrunPayload{
		Tick:           l.tick,
		Kind:           kind,
		DurationMillis: elapsed.Milliseconds(),
		BudgetMillis:   l.interval.Milliseconds(),
		Ratio:          float64(elapsed) / float64(l.interval),
		Streak:         l.streak,
	})
}
