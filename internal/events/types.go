package events

// Event enumerates high-level topics carried on the shared bus.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventSignal         Event = "signal"
	EventDecision       Event = "decision"
	EventRiskAction     Event = "risk_action"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventOrderFailed    Event = "order.failed"
	EventPositionChange Event = "position_change"
	EventSystem         Event = "system"
)
