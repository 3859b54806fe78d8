package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk-service/internal/output"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show ready, delayed, in-flight and dead jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := b.Ops.QueueSnapshot(cmd.Context(), a.v.GetInt("list.limit"))
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(snap)
			}
			table := a.ui.Table([]string{"Set", "Job", "Kind", "Ticket", "State", "Attempt", "ETA", "Last error"})
			sets := []struct {
				name string
				jobs []worker.Job
			}{
				{"ready", snap.Ready},
				{"delayed", snap.Delayed},
				{"inflight", snap.Inflight},
				{"dead", snap.Dead},
			}
			for _, set := range sets {
				for _, j := range set.jobs {
					_ = table.Append([]string{
						set.name,
						j.ID,
						string(j.Kind),
						j.TicketID,
						output.StateColor(string(j.State)),
						fmt.Sprintf("%d/%d", j.Attempt, j.MaxAttempts),
						j.ETA.Format(time.RFC3339),
						truncate(j.LastError, 60),
					})
				}
			}
			_ = table.Render()
			fmt.Fprintf(a.ui.Out, "\nready %d  delayed %d  inflight %d  dead %d\n",
				len(snap.Ready), len(snap.Delayed), len(snap.Inflight), len(snap.Dead))
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum jobs shown per set")
	_ = a.v.BindPFlag("list.limit", cmd.Flags().Lookup("limit"))
	return cmd
}

func (a *app) retryFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-enqueue tickets the agent never processed",
		Long: `Re-enqueue every open ticket that has no analysis and was not updated
for an hour, or a single ticket with --ticket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			results, err := b.Ops.RetryFailed(cmd.Context(), a.v.GetString("retry.ticket"))
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(results)
			}
			if len(results) == 0 {
				a.ui.Success("no unprocessed tickets to retry")
				return nil
			}
			table := a.ui.Table([]string{"Ticket", "Accepted", "Job", "Reason"})
			accepted := 0
			for _, r := range results {
				if r.Status.Accepted {
					accepted++
				}
				_ = table.Append([]string{r.TicketID, strconv.FormatBool(r.Status.Accepted), r.Status.JobID, r.Status.Reason})
			}
			_ = table.Render()
			if accepted < len(results) {
				a.ui.Warning("%d of %d tickets could not be queued", len(results)-accepted, len(results))
				return nil
			}
			a.ui.Success("queued %d tickets", accepted)
			return nil
		},
	}
	cmd.Flags().String("ticket", "", "Retry only this ticket id")
	_ = a.v.BindPFlag("retry.ticket", cmd.Flags().Lookup("ticket"))
	return cmd
}

func (a *app) requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Move a dead job back to the ready list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.Ops.RequeueJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.ui.Success("requeued job %s", args[0])
			return nil
		},
	}
}

func (a *app) cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reset leftover analysis of old unprocessed tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days := a.v.GetInt("cleanup.days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			n, err := b.Ops.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}
			a.ui.Success("reset %d unprocessed tickets older than %d days", n, days)
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "Age threshold in days")
	_ = a.v.BindPFlag("cleanup.days", cmd.Flags().Lookup("days"))
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report agent processing counts and success rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := b.Ops.Stats(cmd.Context(), a.v.GetInt("stats.days"))
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(stats)
			}
			table := a.ui.Table([]string{"Metric", "Value"})
			_ = table.Append([]string{"window", fmt.Sprintf("%d days", stats.Days)})
			_ = table.Append([]string{"total", strconv.Itoa(stats.Total)})
			_ = table.Append([]string{"processed", strconv.Itoa(stats.Processed)})
			_ = table.Append([]string{"unprocessed", strconv.Itoa(stats.Unprocessed)})
			_ = table.Append([]string{"success rate", output.RateColor(stats.SuccessRate)})
			for status, n := range stats.ByStatus {
				_ = table.Append([]string{"status " + output.StateColor(string(status)), strconv.Itoa(n)})
			}
			_ = table.Render()
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "Window in days")
	_ = a.v.BindPFlag("stats.days", cmd.Flags().Lookup("days"))
	return cmd
}

func (a *app) reprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <ticket-id>",
		Short: "Run the agent again on a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			status, err := b.Tickets.Reprocess(cmd.Context(), args[0], a.v.GetBool("reprocess.reset"), "", "cli")
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(status)
			}
			if !status.Accepted {
				return fmt.Errorf("ticket %s not queued: %s", args[0], status.Reason)
			}
			a.ui.Success("ticket %s queued as job %s", args[0], status.JobID)
			return nil
		},
	}
	cmd.Flags().Bool("reset", false, "Discard the stored analysis first")
	_ = a.v.BindPFlag("reprocess.reset", cmd.Flags().Lookup("reset"))
	return cmd
}

func (a *app) escalateStaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate-stale",
		Short: "Report urgent tickets untouched for two hours",
		Long: `Find open urgent tickets not updated for two hours and post a digest to
the escalation channel. With --apply the tickets are escalated as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			apply := a.v.GetBool("stale.apply")
			stale, err := b.Ops.EscalateStale(cmd.Context(), apply)
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(stale)
			}
			if len(stale) == 0 {
				a.ui.Success("no stale urgent tickets")
				return nil
			}
			table := a.ui.Table([]string{"Key", "Ticket", "Issue", "Status", "Priority", "Updated"})
			for _, t := range stale {
				_ = table.Append([]string{
					t.ExternalKey,
					t.ID,
					truncate(t.IssueType, 40),
					output.StateColor(string(t.Status)),
					string(t.Priority),
					t.UpdatedAt.Format(time.RFC3339),
				})
			}
			_ = table.Render()
			if !apply {
				a.ui.Warning("digest sent; pass --apply to escalate %d tickets", len(stale))
				return nil
			}
			a.ui.Success("escalated %d tickets", len(stale))
			return nil
		},
	}
	cmd.Flags().Bool("apply", false, "Escalate the tickets, not just report them")
	_ = a.v.BindPFlag("stale.apply", cmd.Flags().Lookup("apply"))
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
