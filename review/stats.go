package review

import (
	"sort"
	"time"
)

// Stats summarizes the review queue.
type Stats struct {
	ByStatus map[Status]int    `json:"by_status"`
	ByRisk   map[RiskLevel]int `json:"by_risk"`
	ByReason map[Reason]int    `json:"by_reason"`

	// Wait times cover resolved items (queued → reviewed).
	MeanWait   time.Duration `json:"mean_wait"`
	MedianWait time.Duration `json:"median_wait"`
	MaxWait    time.Duration `json:"max_wait"`

	ApprovalRate  float64 `json:"approval_rate"`
	RejectionRate float64 `json:"rejection_rate"`
}

// GetStats computes queue statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		ByStatus: make(map[Status]int),
		ByRisk:   make(map[RiskLevel]int),
		ByReason: make(map[Reason]int),
	}

	var waits []time.Duration
	approved, rejected, resolved := 0, 0, 0

	for _, item := range m.items {
		stats.ByStatus[item.Status]++
		stats.ByRisk[item.RiskLevel]++
		for _, r := range item.Reasons {
			stats.ByReason[r]++
		}

		if item.ReviewedAt == nil {
			continue
		}
		resolved++
		waits = append(waits, item.ReviewedAt.Sub(item.QueuedAt))

		switch item.Status {
		case StatusApproved, StatusAutoApproved:
			approved++
		case StatusRejected, StatusAutoRejected:
			rejected++
		}
	}

	if len(waits) > 0 {
		sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
		var total time.Duration
		for _, w := range waits {
			total += w
		}
		stats.MeanWait = total / time.Duration(len(waits))
		stats.MedianWait = waits[len(waits)/2]
		stats.MaxWait = waits[len(waits)-1]
	}
	if resolved > 0 {
		stats.ApprovalRate = float64(approved) / float64(resolved)
		stats.RejectionRate = float64(rejected) / float64(resolved)
	}
	return stats
}
