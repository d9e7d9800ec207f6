package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalmesh/signalmesh/budget"
	"github.com/signalmesh/signalmesh/cache"
	"github.com/signalmesh/signalmesh/config"
	"github.com/signalmesh/signalmesh/queue"
	"github.com/signalmesh/signalmesh/retryq"
	"github.com/signalmesh/signalmesh/review"
	"github.com/signalmesh/signalmesh/storage"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize persisted state: budget, reviews, queued actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return printStatus(cmd, cfg)
		},
	}
}

// printStatus reads the state files directly rather than constructing
// components, so it works while an agent is running or after a crash.
func printStatus(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "data dir: %s\n\n", cfg.DataDir)

	today := time.Now().Format("2006-01-02")
	var days map[string]*budget.DayRecord
	if found, err := storage.LoadJSON(cfg.TokenUsagePath(), &days); err != nil {
		fmt.Fprintf(out, "budget: unreadable (%v)\n", err)
	} else if !found || days[today] == nil {
		fmt.Fprintf(out, "budget: no usage recorded today (limit %d tokens)\n", cfg.LLM.MaxDailyTokens)
	} else {
		day := days[today]
		pct := float64(day.Total) / float64(cfg.LLM.MaxDailyTokens) * 100
		fmt.Fprintf(out, "budget: %d / %d tokens used today (%.1f%%)\n",
			day.Total, cfg.LLM.MaxDailyTokens, pct)
		for name, usage := range day.Providers {
			fmt.Fprintf(out, "  %-12s %8d tokens  %3d calls  $%.4f\n",
				name, usage.Tokens, usage.Calls, usage.Cost)
		}
	}

	var reviewSnap struct {
		Items map[string]*review.Item `json:"items"`
	}
	if found, err := storage.LoadJSON(cfg.ReviewStorePath(), &reviewSnap); err != nil {
		fmt.Fprintf(out, "reviews: unreadable (%v)\n", err)
	} else if !found {
		fmt.Fprintln(out, "reviews: none")
	} else {
		items := reviewSnap.Items
		byStatus := map[review.Status]int{}
		overdue := 0
		for _, item := range items {
			byStatus[item.Status]++
			if item.Overdue {
				overdue++
			}
		}
		fmt.Fprintf(out, "reviews: %d total, %d pending, %d approved, %d rejected",
			len(items), byStatus[review.StatusPending],
			byStatus[review.StatusApproved]+byStatus[review.StatusAutoApproved],
			byStatus[review.StatusRejected]+byStatus[review.StatusAutoRejected])
		if overdue > 0 {
			fmt.Fprintf(out, " (%d overdue)", overdue)
		}
		fmt.Fprintln(out)
	}

	var snap struct {
		Actions   []*queue.QueuedAction `json:"actions"`
		LastSaved time.Time             `json:"last_saved"`
	}
	if found, err := storage.LoadJSON(cfg.QueueStorePath(), &snap); err != nil {
		fmt.Fprintf(out, "actions: unreadable (%v)\n", err)
	} else if !found {
		fmt.Fprintln(out, "actions: none queued")
	} else {
		byStatus := map[queue.ActionStatus]int{}
		for _, a := range snap.Actions {
			byStatus[a.Status]++
		}
		fmt.Fprintf(out, "actions: %d pending, %d executing, %d completed, %d failed (saved %s)\n",
			byStatus[queue.StatusPending], byStatus[queue.StatusExecuting],
			byStatus[queue.StatusCompleted], byStatus[queue.StatusFailed],
			snap.LastSaved.Format(time.RFC3339))
	}

	var ops []retryq.Operation
	if found, err := storage.LoadJSON(cfg.RetryStorePath(), &ops); err != nil {
		fmt.Fprintf(out, "retry queue: unreadable (%v)\n", err)
	} else if !found || len(ops) == 0 {
		fmt.Fprintln(out, "retry queue: empty")
	} else {
		fmt.Fprintf(out, "retry queue: %d operations waiting\n", len(ops))
	}

	var cacheSnap struct {
		Entries []*cache.Entry `json:"entries"`
	}
	if found, err := storage.LoadJSON(cfg.CacheStorePath(), &cacheSnap); err != nil {
		fmt.Fprintf(out, "cache: unreadable (%v)\n", err)
	} else if !found {
		fmt.Fprintln(out, "cache: no persisted entries")
	} else {
		fmt.Fprintf(out, "cache: %d hot entries persisted\n", len(cacheSnap.Entries))
	}

	return nil
}
