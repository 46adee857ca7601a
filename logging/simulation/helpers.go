package simulation

import (
	"context"

	"github.com/lotuspar/libblitz/logging"
)

const (
	// EventTickBudgetOverrun is emitted when an authority tick takes longer than the tick interval.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	Tick           uint64  `json:"tick"`
	Kind           string  `json:"kind,omitempty"`
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, sessionID string, payload TickBudgetOverrunPayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:      EventTickBudgetOverrun,
		SessionID: sessionID,
		Actor:     logging.Session(sessionID),
		Severity:  logging.SeverityWarn,
		Category:  logging.CategorySystem,
		Payload:   payload,
	}
	pub.Publish(ctx, event)
}
