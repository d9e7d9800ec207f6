package queue

import (
	"github.com/signalmesh/signalmesh/hub"
	"github.com/signalmesh/signalmesh/publish"
)

// SubscribeToHub wires the queue to action:ready events so published
// actions are enqueued automatically. Returns the unsubscribe function.
func (m *Manager) SubscribeToHub(h *hub.Hub) func() {
	return h.Subscribe(hub.EventActionReady, func(e hub.Event) {
		payload, ok := e.Data.(publish.ActionReadyPayload)
		if !ok || payload.Result == nil {
			m.logger.Warn("action:ready event carried unexpected payload")
			return
		}
		m.Enqueue(payload.Result, queuePriority(e.Priority))
	})
}

// queuePriority maps event priority onto the 1..5 queue scale.
func queuePriority(p hub.Priority) int {
	switch p {
	case hub.PriorityHigh:
		return 1
	case hub.PriorityLow:
		return 4
	}
	return DefaultPriority
}
