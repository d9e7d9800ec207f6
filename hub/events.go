package hub

// Normative event type names used across the pipeline.
const (
	EventSignalReceived = "signal.received"

	EventActionReady            = "action:ready"
	EventActionRequiresApproval = "action:requires_approval"
	EventActionRejected         = "action:rejected"

	EventReviewPending = "review:pending"

	EventServiceStarted     = "service.started"
	EventServiceStopped     = "service.stopped"
	EventServiceReconnected = "service.reconnected"

	EventCircuitStateChange = "circuit.state_change"
)
